// Package repo persists sessions and messages through the key-value store
// contract. It owns the record layout and the JSON encoding; everything above
// it works with models only.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coppicehq/coppice/internal/core/models"
	"github.com/coppicehq/coppice/internal/core/store"
)

// Repository reads and writes sessions and messages
type Repository struct {
	store *store.Store
	log   zerolog.Logger
}

// New creates a repository over the given store
func New(s *store.Store, log zerolog.Logger) *Repository {
	return &Repository{store: s, log: log.With().Str("component", "repo").Logger()}
}

// CreateSession persists a new session and its data-source lookup mirror
func (r *Repository) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	err = r.store.Put(ctx, store.Record{
		PartitionKey: userPartition(session.UserID),
		SortKey:      sessionSort(session.SessionID),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	// Mirror record so sessions can be enumerated per data source.
	mirror, err := json.Marshal(map[string]interface{}{
		"session_id": session.SessionID,
		"user_id":    session.UserID,
	})
	if err != nil {
		return fmt.Errorf("encode session mirror: %w", err)
	}
	err = r.store.Put(ctx, store.Record{
		PartitionKey: dataSourcePartition(session.DataSourceID),
		SortKey:      sessionSort(session.SessionID),
		Body:         mirror,
	})
	if err != nil {
		return fmt.Errorf("put session mirror: %w", err)
	}

	r.log.Info().
		Str("session_id", session.SessionID).
		Int64("user_id", session.UserID).
		Int64("data_source_id", session.DataSourceID).
		Msg("session created")
	return nil
}

// GetSession loads a session owned by the user
func (r *Repository) GetSession(ctx context.Context, userID int64, sessionID string) (*models.ChatSession, error) {
	rec, err := r.store.Get(ctx, userPartition(userID), sessionSort(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session models.ChatSession
	if err := json.Unmarshal(rec.Body, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// SaveSession rewrites the full session record
func (r *Repository) SaveSession(ctx context.Context, session *models.ChatSession) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = r.store.Put(ctx, store.Record{
		PartitionKey: userPartition(session.UserID),
		SortKey:      sessionSort(session.SessionID),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ListSessions returns one page of the user's sessions, most recently
// written first (every turn, edit, and counter update bumps a session's
// record), and whether more pages exist.
func (r *Repository) ListSessions(ctx context.Context, userID int64, page, perPage int) ([]models.ChatSession, bool, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	// Fetch one past the page boundary to detect more pages.
	records, err := r.store.QueryDesc(ctx, userPartition(userID), sessionSortPrefix, page*perPage+1)
	if err != nil {
		return nil, false, fmt.Errorf("list sessions: %w", err)
	}

	start := (page - 1) * perPage
	if start >= len(records) {
		return nil, false, nil
	}
	hasMore := len(records) > page*perPage
	end := start + perPage
	if end > len(records) {
		end = len(records)
	}

	sessions := make([]models.ChatSession, 0, end-start)
	for _, rec := range records[start:end] {
		var s models.ChatSession
		if err := json.Unmarshal(rec.Body, &s); err != nil {
			return nil, false, fmt.Errorf("decode session record %s: %w", rec.SortKey, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, hasMore, nil
}

// SessionIDsByDataSource returns session ids associated with a data source
func (r *Repository) SessionIDsByDataSource(ctx context.Context, dataSourceID int64) ([]string, error) {
	records, err := r.store.Query(ctx, dataSourcePartition(dataSourceID), sessionSortPrefix)
	if err != nil {
		return nil, fmt.Errorf("query data source sessions: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		var mirror struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(rec.Body, &mirror); err != nil {
			return nil, fmt.Errorf("decode session mirror %s: %w", rec.SortKey, err)
		}
		ids = append(ids, mirror.SessionID)
	}
	return ids, nil
}

// PutMessage persists a message. The message content doubles as the record's
// searchable text.
func (r *Repository) PutMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = r.store.Put(ctx, store.Record{
		PartitionKey: sessionPartition(msg.SessionID),
		SortKey:      messageSort(msg.MessageIndex, msg.MessageID),
		Body:         body,
		Content:      msg.Content,
	})
	if err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// Messages returns all of a session's messages ordered by message index
func (r *Repository) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	records, err := r.store.Query(ctx, sessionPartition(sessionID), messageSortPrefix)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	messages := make([]models.Message, 0, len(records))
	for _, rec := range records {
		var m models.Message
		if err := json.Unmarshal(rec.Body, &m); err != nil {
			return nil, fmt.Errorf("decode message record %s: %w", rec.SortKey, err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// GetMessage finds one message in a session by id
func (r *Repository) GetMessage(ctx context.Context, sessionID, messageID string) (*models.Message, error) {
	// The sort key embeds the message index, which the caller doesn't have,
	// so this is a partition scan. Sessions are token-bounded, so the scan
	// stays small.
	messages, err := r.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].MessageID == messageID {
			return &messages[i], nil
		}
	}
	return nil, models.ErrMessageNotFound
}

// ArchiveMessages stamps the archive fields on every given message using the
// store's atomic field updates. Archiving an already-archived message is a
// no-op at the engine level; re-stamping here is harmless because callers
// pass the same reason on retry.
func (r *Repository) ArchiveMessages(ctx context.Context, msgs []models.Message, reason models.ArchiveReason, at time.Time) error {
	for _, m := range msgs {
		err := r.store.SetFields(ctx, sessionPartition(m.SessionID), messageSort(m.MessageIndex, m.MessageID), map[string]interface{}{
			"is_active":      false,
			"archived_at":    at,
			"archive_reason": reason,
		})
		if err != nil {
			return fmt.Errorf("archive message %s: %w", m.MessageID, err)
		}
	}

	if len(msgs) > 0 {
		r.log.Info().
			Str("session_id", msgs[0].SessionID).
			Int("count", len(msgs)).
			Str("reason", string(reason)).
			Msg("messages archived")
	}
	return nil
}

// IncrementSessionCounters atomically bumps numeric session counters
func (r *Repository) IncrementSessionCounters(ctx context.Context, userID int64, sessionID string, deltas map[string]int) error {
	err := r.store.IncrementFields(ctx, userPartition(userID), sessionSort(sessionID), deltas)
	if errors.Is(err, store.ErrNotFound) {
		return models.ErrSessionNotFound
	}
	return err
}

// SetSessionFields atomically sets session record fields
func (r *Repository) SetSessionFields(ctx context.Context, userID int64, sessionID string, fields map[string]interface{}) error {
	err := r.store.SetFields(ctx, userPartition(userID), sessionSort(sessionID), fields)
	if errors.Is(err, store.ErrNotFound) {
		return models.ErrSessionNotFound
	}
	return err
}

// SearchMessages runs a full-text search over a session's messages, archived
// ones included. sessionID may be empty to search across sessions.
func (r *Repository) SearchMessages(ctx context.Context, sessionID, query string, limit int) ([]models.Message, []string, error) {
	partition := ""
	if sessionID != "" {
		partition = sessionPartition(sessionID)
	}

	results, err := r.store.Search(ctx, partition, query, limit)
	if err != nil {
		return nil, nil, err
	}

	messages := make([]models.Message, 0, len(results))
	snippets := make([]string, 0, len(results))
	for _, res := range results {
		var m models.Message
		if err := json.Unmarshal(res.Body, &m); err != nil {
			return nil, nil, fmt.Errorf("decode search result %s: %w", res.SortKey, err)
		}
		messages = append(messages, m)
		snippets = append(snippets, res.Snippet)
	}
	return messages, snippets, nil
}
