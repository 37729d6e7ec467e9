package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coppicehq/coppice/internal/core/models"
	"github.com/coppicehq/coppice/internal/core/store"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, zerolog.Nop())
}

func testSession(userID int64, sessionID string) *models.ChatSession {
	now := time.Now().UTC()
	return &models.ChatSession{
		SessionID:      sessionID,
		UserID:         userID,
		DataSourceID:   42,
		DataSourceName: "sales",
		DataSourceType: "postgres",
		Title:          "Chat with sales",
		Status:         models.SessionStatusActive,
		MaxMessages:    200,
		MaxTokens:      50000,
		CreatedAt:      now,
		UpdatedAt:      now,
		Settings:       models.DefaultLimitPolicy(),
	}
}

func testMessage(sessionID, messageID string, index int, role models.Role, tokens int) *models.Message {
	return &models.Message{
		MessageID:    messageID,
		SessionID:    sessionID,
		UserID:       1,
		Role:         role,
		Content:      "content of " + messageID,
		MessageIndex: index,
		IsActive:     true,
		Version:      1,
		TokenCount:   tokens,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	if err := r.CreateSession(ctx, testSession(1, "chat_abc")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := r.GetSession(ctx, 1, "chat_abc")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.SessionID != "chat_abc" || got.DataSourceName != "sales" {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Settings.MaxTokens != 50000 || !got.Settings.PreserveConversationPairs {
		t.Errorf("policy snapshot did not survive the round trip: %+v", got.Settings)
	}
}

func TestGetSessionWrongUser(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	if err := r.CreateSession(ctx, testSession(1, "chat_abc")); err != nil {
		t.Fatal(err)
	}

	_, err := r.GetSession(ctx, 2, "chat_abc")
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for other user, got %v", err)
	}
}

func TestListSessionsPagination(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	for _, id := range []string{"chat_a", "chat_b", "chat_c"} {
		if err := r.CreateSession(ctx, testSession(1, id)); err != nil {
			t.Fatal(err)
		}
	}

	page1, hasMore, err := r.ListSessions(ctx, 1, 1, 2)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(page1) != 2 || !hasMore {
		t.Errorf("page 1: got %d sessions, hasMore=%v", len(page1), hasMore)
	}

	page2, hasMore, err := r.ListSessions(ctx, 1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 1 || hasMore {
		t.Errorf("page 2: got %d sessions, hasMore=%v", len(page2), hasMore)
	}
}

func TestListSessionsRecentActivityFirst(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	for _, id := range []string{"chat_a", "chat_b"} {
		if err := r.CreateSession(ctx, testSession(1, id)); err != nil {
			t.Fatal(err)
		}
	}

	// A counter bump counts as activity and reorders the listing.
	time.Sleep(5 * time.Millisecond)
	if err := r.IncrementSessionCounters(ctx, 1, "chat_a", map[string]int{"message_count": 2}); err != nil {
		t.Fatalf("IncrementSessionCounters() error = %v", err)
	}

	sessions, _, err := r.ListSessions(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0].SessionID != "chat_a" {
		got := make([]string, len(sessions))
		for i, s := range sessions {
			got[i] = s.SessionID
		}
		t.Errorf("expected chat_a first after activity, got %v", got)
	}
}

func TestSessionIDsByDataSource(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	s1 := testSession(1, "chat_a")
	s2 := testSession(1, "chat_b")
	s2.DataSourceID = 99
	if err := r.CreateSession(ctx, s1); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateSession(ctx, s2); err != nil {
		t.Fatal(err)
	}

	ids, err := r.SessionIDsByDataSource(ctx, 42)
	if err != nil {
		t.Fatalf("SessionIDsByDataSource() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "chat_a" {
		t.Errorf("expected [chat_a], got %v", ids)
	}
}

func TestMessagesOrderedByIndex(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	// Insert out of order.
	for _, m := range []*models.Message{
		testMessage("chat_x", "msg_c", 3, models.RoleUser, 10),
		testMessage("chat_x", "msg_a", 1, models.RoleUser, 10),
		testMessage("chat_x", "msg_b", 2, models.RoleAssistant, 10),
	} {
		if err := r.PutMessage(ctx, m); err != nil {
			t.Fatalf("PutMessage() error = %v", err)
		}
	}

	messages, err := r.Messages(ctx, "chat_x")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"msg_a", "msg_b", "msg_c"} {
		if messages[i].MessageID != want {
			t.Errorf("messages[%d] = %s, want %s", i, messages[i].MessageID, want)
		}
	}
}

func TestGetMessage(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	if err := r.PutMessage(ctx, testMessage("chat_x", "msg_a", 1, models.RoleUser, 10)); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetMessage(ctx, "chat_x", "msg_a")
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if got.MessageID != "msg_a" {
		t.Errorf("got %s, want msg_a", got.MessageID)
	}

	_, err = r.GetMessage(ctx, "chat_x", "msg_nope")
	if !errors.Is(err, models.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestArchiveMessages(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	m1 := testMessage("chat_x", "msg_a", 1, models.RoleUser, 10)
	m2 := testMessage("chat_x", "msg_b", 2, models.RoleAssistant, 10)
	for _, m := range []*models.Message{m1, m2} {
		if err := r.PutMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	at := time.Now().UTC().Truncate(time.Second)
	err := r.ArchiveMessages(ctx, []models.Message{*m1, *m2}, models.ArchiveReasonTokenLimit, at)
	if err != nil {
		t.Fatalf("ArchiveMessages() error = %v", err)
	}

	messages, err := r.Messages(ctx, "chat_x")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range messages {
		if m.IsActive {
			t.Errorf("message %s still active", m.MessageID)
		}
		if m.ArchiveReason != models.ArchiveReasonTokenLimit {
			t.Errorf("message %s reason = %s", m.MessageID, m.ArchiveReason)
		}
		if m.ArchivedAt == nil || !m.ArchivedAt.Equal(at) {
			t.Errorf("message %s archived_at = %v, want %v", m.MessageID, m.ArchivedAt, at)
		}
	}
}

func TestIncrementSessionCounters(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	if err := r.CreateSession(ctx, testSession(1, "chat_abc")); err != nil {
		t.Fatal(err)
	}

	err := r.IncrementSessionCounters(ctx, 1, "chat_abc", map[string]int{
		"message_count":        2,
		"active_message_count": 2,
		"total_tokens":         30,
		"active_tokens":        30,
	})
	if err != nil {
		t.Fatalf("IncrementSessionCounters() error = %v", err)
	}

	got, err := r.GetSession(ctx, 1, "chat_abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 2 || got.ActiveTokens != 30 {
		t.Errorf("counters not incremented: %+v", got)
	}

	err = r.IncrementSessionCounters(ctx, 1, "chat_missing", map[string]int{"message_count": 1})
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSearchMessagesScopedToSession(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	m := testMessage("chat_x", "msg_a", 1, models.RoleUser, 10)
	m.Content = "show me quarterly revenue trends"
	if err := r.PutMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	found, snippets, err := r.SearchMessages(ctx, "chat_x", "revenue", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(found) != 1 || found[0].MessageID != "msg_a" {
		t.Fatalf("unexpected results: %+v", found)
	}
	if len(snippets) != 1 {
		t.Errorf("expected one snippet, got %d", len(snippets))
	}

	found, _, err = r.SearchMessages(ctx, "chat_other", "revenue", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 0 {
		t.Errorf("search leaked across sessions: %+v", found)
	}
}
