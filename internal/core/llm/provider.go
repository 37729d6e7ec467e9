// Package llm defines the contract to the external language model and a
// canned provider for development and tests. Real transports (Bedrock,
// Anthropic, OpenAI) live in the host application; the engine only ever sees
// this interface.
package llm

import (
	"context"
	"fmt"

	"github.com/coppicehq/coppice/internal/core/models"
)

// Request carries everything a provider needs to produce a reply
type Request struct {
	Session  *models.ChatSession
	Context  []models.Message // token-bounded window, chronological order
	UserTurn models.Message   // the turn being answered, last on the path
}

// Reply is a generated assistant turn
type Reply struct {
	Content    string
	TokenCount int // exact count when the provider has one, else estimated
	Model      string
}

// Provider is the interface for LLM backends
type Provider interface {
	// Generate produces the assistant reply for a request
	Generate(ctx context.Context, req Request) (Reply, error)

	// Name returns the provider name (e.g., "canned", "bedrock", "anthropic")
	Name() string
}

// GenerationError wraps a provider failure. The engine surfaces it upward
// without retrying; retry policy belongs to the caller.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (provider %s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
