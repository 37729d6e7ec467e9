package models

import "fmt"

// LimitingStrategy selects how a session enforces its budget
type LimitingStrategy string

const (
	// StrategyTokenBased archives by token high/low water marks (primary)
	StrategyTokenBased LimitingStrategy = "token_based"
	// StrategyMessageBased archives by message count (fallback)
	StrategyMessageBased LimitingStrategy = "message_based"
)

// LimitPolicy is the per-session limit configuration. It is snapshotted into
// ChatSession.Settings at creation and never mutated afterward.
type LimitPolicy struct {
	// Token-based limits (primary)
	MaxTokens             int     `json:"max_tokens" toml:"max_tokens"`
	ContextWindowTokens   int     `json:"context_window_tokens" toml:"context_window_tokens"`
	TokenArchiveThreshold float64 `json:"token_archive_threshold" toml:"token_archive_threshold"`

	// Message-based limits (fallback)
	MaxMessages           int `json:"max_messages" toml:"max_messages"`
	ContextWindowMessages int `json:"context_window_messages" toml:"context_window_messages"`

	// Strategy configuration
	LimitingStrategy          LimitingStrategy `json:"limiting_strategy" toml:"limiting_strategy"`
	PreserveConversationPairs bool             `json:"preserve_conversation_pairs" toml:"preserve_conversation_pairs"`

	// Editing settings
	AllowEditing     bool `json:"allow_editing" toml:"allow_editing"`
	RegenerateOnEdit bool `json:"regenerate_on_edit" toml:"regenerate_on_edit"`

	// Token calculation settings
	EstimateTokens bool    `json:"estimate_tokens" toml:"estimate_tokens"`
	CharsPerToken  float64 `json:"chars_per_token" toml:"chars_per_token"`
}

// DefaultLimitPolicy returns the policy applied when a session is created
// without an explicit one.
func DefaultLimitPolicy() LimitPolicy {
	return LimitPolicy{
		MaxTokens:                 50000,
		ContextWindowTokens:       8000,
		TokenArchiveThreshold:     0.8,
		MaxMessages:               200,
		ContextWindowMessages:     50,
		LimitingStrategy:          StrategyTokenBased,
		PreserveConversationPairs: true,
		AllowEditing:              true,
		RegenerateOnEdit:          true,
		EstimateTokens:            true,
		CharsPerToken:             4.0,
	}
}

// Validate checks the policy for values the engine cannot enforce
func (p LimitPolicy) Validate() error {
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", p.MaxTokens)
	}
	if p.ContextWindowTokens <= 0 {
		return fmt.Errorf("context_window_tokens must be positive, got %d", p.ContextWindowTokens)
	}
	if p.TokenArchiveThreshold <= 0 || p.TokenArchiveThreshold > 1 {
		return fmt.Errorf("token_archive_threshold must be in (0, 1], got %g", p.TokenArchiveThreshold)
	}
	if p.MaxMessages <= 0 {
		return fmt.Errorf("max_messages must be positive, got %d", p.MaxMessages)
	}
	if p.LimitingStrategy != StrategyTokenBased && p.LimitingStrategy != StrategyMessageBased {
		return fmt.Errorf("unknown limiting_strategy %q", p.LimitingStrategy)
	}
	if p.EstimateTokens && p.CharsPerToken <= 0 {
		return fmt.Errorf("chars_per_token must be positive when estimation is enabled, got %g", p.CharsPerToken)
	}
	return nil
}
