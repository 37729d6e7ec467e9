package models

import (
	"errors"
	"time"
)

// SessionStatus tracks the session lifecycle
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// ChatSession represents one conversation against a data source.
//
// MessageCount and TotalTokens are monotonic over the session's lifetime.
// ActiveMessageCount and ActiveTokens are cached aggregates over the
// non-archived messages; they are rebuilt from the messages themselves after
// any bulk archiving rather than maintained incrementally.
type ChatSession struct {
	SessionID          string        `json:"session_id"`
	UserID             int64         `json:"user_id"`
	DataSourceID       int64         `json:"data_source_id"`
	DataSourceName     string        `json:"data_source_name"`
	DataSourceType     string        `json:"data_source_type"`
	Title              string        `json:"title"`
	Status             SessionStatus `json:"status"`
	MessageCount       int           `json:"message_count"`
	ActiveMessageCount int           `json:"active_message_count"`
	TotalTokens        int           `json:"total_tokens"`
	ActiveTokens       int           `json:"active_tokens"`
	MaxMessages        int           `json:"max_messages"`
	MaxTokens          int           `json:"max_tokens"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	// Settings is the limit policy snapshot frozen at creation. Changing
	// policy means creating a new session.
	Settings LimitPolicy `json:"settings"`
}

// Validate checks if the session has required fields
func (s *ChatSession) Validate() error {
	if s.SessionID == "" {
		return errors.New("session_id is required")
	}
	if s.UserID == 0 {
		return errors.New("user_id is required")
	}
	if s.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	if s.ActiveMessageCount > s.MessageCount {
		return errors.New("active_message_count exceeds message_count")
	}
	if s.ActiveTokens > s.TotalTokens {
		return errors.New("active_tokens exceeds total_tokens")
	}
	return nil
}

// ActiveTokenSum recomputes the active token counter from first principles.
func ActiveTokenSum(messages []Message) int {
	total := 0
	for _, m := range messages {
		if m.IsActive {
			total += m.TokenCount
		}
	}
	return total
}

// ActiveCount recomputes the active message counter from first principles.
func ActiveCount(messages []Message) int {
	n := 0
	for _, m := range messages {
		if m.IsActive {
			n++
		}
	}
	return n
}
