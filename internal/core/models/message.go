package models

import (
	"errors"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ArchiveReason records why a message was soft-evicted
type ArchiveReason string

const (
	ArchiveReasonTokenLimit          ArchiveReason = "token_limit"
	ArchiveReasonMessageLimit        ArchiveReason = "message_limit"
	ArchiveReasonCascadeRegeneration ArchiveReason = "cascade_regeneration"
)

// Message is a single turn in a conversation. Messages are never hard-deleted:
// archiving flips IsActive and stamps ArchivedAt/ArchiveReason, and editing
// creates a sibling fork rather than mutating content in place.
type Message struct {
	MessageID       string        `json:"message_id"`
	SessionID       string        `json:"session_id"`
	UserID          int64         `json:"user_id"`
	Role            Role          `json:"role"`
	Content         string        `json:"content"`
	MessageIndex    int           `json:"message_index"`
	IsActive        bool          `json:"is_active"`
	IsEdited        bool          `json:"is_edited"`
	ParentMessageID string        `json:"parent_message_id,omitempty"` // empty means branch root
	Version         int           `json:"version"`
	TokenCount      int           `json:"token_count"`
	ModelUsed       string        `json:"model_used,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	EditedAt        *time.Time    `json:"edited_at,omitempty"`
	ArchivedAt      *time.Time    `json:"archived_at,omitempty"`
	ArchiveReason   ArchiveReason `json:"archive_reason,omitempty"`
}

// Validate checks if the message has required fields
func (m *Message) Validate() error {
	if m.MessageID == "" {
		return errors.New("message_id is required")
	}
	if m.SessionID == "" {
		return errors.New("session_id is required")
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return errors.New("role must be user or assistant")
	}
	if m.Content == "" {
		return errors.New("content is required")
	}
	if m.MessageIndex < 1 {
		return errors.New("message_index must be at least 1")
	}
	if m.TokenCount < 1 {
		return errors.New("token_count must be at least 1")
	}
	if m.Version < 1 {
		return errors.New("version must be at least 1")
	}
	return nil
}

// Archive marks the message inactive with the given reason. Re-archiving an
// already-archived message keeps the original timestamp and reason.
func (m *Message) Archive(reason ArchiveReason, at time.Time) {
	if !m.IsActive && m.ArchivedAt != nil {
		return
	}
	m.IsActive = false
	m.ArchivedAt = &at
	m.ArchiveReason = reason
}
