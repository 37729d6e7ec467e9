package session

import (
	"context"
	"time"

	"github.com/coppicehq/coppice/internal/core/models"
	"github.com/coppicehq/coppice/internal/core/tree"
)

// Analytics summarizes a session's full history, archived messages included
type Analytics struct {
	TotalMessages     int           `json:"total_messages"`
	ActiveMessages    int           `json:"active_messages"`
	ArchivedMessages  int           `json:"archived_messages"`
	UserMessages      int           `json:"user_messages"`
	AssistantMessages int           `json:"assistant_messages"`
	EditedMessages    int           `json:"edited_messages"`
	TotalTokens       int           `json:"total_tokens"`
	ActiveTokens      int           `json:"active_tokens"`
	Duration          time.Duration `json:"duration"`
}

// TreeResult is the full conversation view: every message ever written,
// arranged as a tree, with the active path and aggregate analytics.
type TreeResult struct {
	Session    *models.ChatSession
	Roots      []*tree.Node
	ActivePath []models.Message
	Analytics  Analytics
}

// GetConversationTree loads the complete history of a session. Nothing is
// ever hard-deleted, so this is the audit view: edits, abandoned branches,
// and evicted messages all appear with their archive reasons.
func (c *Coordinator) GetConversationTree(ctx context.Context, userID int64, sessionID string) (*TreeResult, error) {
	session, err := c.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := c.repo.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t := tree.Build(messages)
	c.warnOnBranchAmbiguity(sessionID, messages)

	return &TreeResult{
		Session:    session,
		Roots:      t.Roots,
		ActivePath: t.ActivePath(),
		Analytics:  computeAnalytics(messages),
	}, nil
}

func computeAnalytics(messages []models.Message) Analytics {
	var a Analytics
	a.TotalMessages = len(messages)

	var first, last time.Time
	for _, m := range messages {
		if m.IsActive {
			a.ActiveMessages++
			a.ActiveTokens += m.TokenCount
		} else {
			a.ArchivedMessages++
		}
		switch m.Role {
		case models.RoleUser:
			a.UserMessages++
		case models.RoleAssistant:
			a.AssistantMessages++
		}
		if m.IsEdited {
			a.EditedMessages++
		}
		a.TotalTokens += m.TokenCount

		if first.IsZero() || m.CreatedAt.Before(first) {
			first = m.CreatedAt
		}
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	if !first.IsZero() {
		a.Duration = last.Sub(first)
	}
	return a
}

// OverviewStats aggregates cached counters across all of a user's sessions
type OverviewStats struct {
	Sessions         int
	Messages         int
	ActiveMessages   int
	ArchivedMessages int
	TotalTokens      int
	ActiveTokens     int
}

// Overview sums the cached session counters for one user
func (c *Coordinator) Overview(ctx context.Context, userID int64) (*OverviewStats, error) {
	stats := &OverviewStats{}
	for page := 1; ; page++ {
		sessions, hasMore, err := c.repo.ListSessions(ctx, userID, page, 100)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			stats.Sessions++
			stats.Messages += s.MessageCount
			stats.ActiveMessages += s.ActiveMessageCount
			stats.ArchivedMessages += s.MessageCount - s.ActiveMessageCount
			stats.TotalTokens += s.TotalTokens
			stats.ActiveTokens += s.ActiveTokens
		}
		if !hasMore {
			return stats, nil
		}
	}
}

// ListSessions returns one page of the user's sessions, newest first
func (c *Coordinator) ListSessions(ctx context.Context, userID int64, page, perPage int) ([]models.ChatSession, bool, error) {
	return c.repo.ListSessions(ctx, userID, page, perPage)
}

// SearchResult pairs a matching message with its highlighted snippet
type SearchResult struct {
	Message models.Message
	Snippet string
}

// SearchMessages runs full-text search over message content. A non-empty
// sessionID scopes the search to that session after an ownership check;
// empty searches across all of the store's messages.
func (c *Coordinator) SearchMessages(ctx context.Context, userID int64, sessionID, query string, limit int) ([]SearchResult, error) {
	if sessionID != "" {
		if _, err := c.repo.GetSession(ctx, userID, sessionID); err != nil {
			return nil, err
		}
	}

	messages, snippets, err := c.repo.SearchMessages(ctx, sessionID, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(messages))
	for i, m := range messages {
		results = append(results, SearchResult{Message: m, Snippet: snippets[i]})
	}
	return results, nil
}
