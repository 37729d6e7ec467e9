package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	body := []byte(`{"session_id":"chat_abc","active_tokens":40}`)
	err := s.Put(ctx, Record{
		PartitionKey: "USER#1",
		SortKey:      "SESSION#chat_abc",
		Body:         body,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, "USER#1", "SESSION#chat_abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Body) != string(body) {
		t.Errorf("body = %s, want %s", got.Body, body)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "USER#1", "SESSION#missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{PartitionKey: "USER#1", SortKey: "SESSION#x", Body: []byte(`{"v":1}`)}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Body = []byte(`{"v":2}`)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "USER#1", "SESSION#x")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Body) != `{"v":2}` {
		t.Errorf("expected second write to win, got %s", got.Body)
	}
}

func TestQueryPrefixOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Insert out of order; zero-padded indexes must come back sorted.
	for _, sk := range []string{"MSG#000003#c", "MSG#000001#a", "MSG#000002#b", "META#x"} {
		err := s.Put(ctx, Record{PartitionKey: "SESSION#chat_1", SortKey: sk, Body: []byte(`{}`)})
		if err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.Query(ctx, "SESSION#chat_1", "MSG#")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 MSG records, got %d", len(records))
	}
	want := []string{"MSG#000001#a", "MSG#000002#b", "MSG#000003#c"}
	for i, w := range want {
		if records[i].SortKey != w {
			t.Errorf("records[%d].SortKey = %s, want %s", i, records[i].SortKey, w)
		}
	}
}

func TestQueryDescLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, sk := range []string{"SESSION#a", "SESSION#b", "SESSION#c"} {
		if err := s.Put(ctx, Record{PartitionKey: "USER#7", SortKey: sk, Body: []byte(`{}`)}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.QueryDesc(ctx, "USER#7", "SESSION#", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].SortKey != "SESSION#c" {
		t.Errorf("expected newest-first limited query, got %v", sortKeys(records))
	}
}

func TestQueryDescRecencyOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, sk := range []string{"SESSION#a", "SESSION#b", "SESSION#c"} {
		if err := s.Put(ctx, Record{PartitionKey: "USER#7", SortKey: sk, Body: []byte(`{}`)}); err != nil {
			t.Fatal(err)
		}
	}

	// Touching the oldest record moves it to the front. The sleep keeps the
	// touch out of the creation writes' millisecond.
	time.Sleep(5 * time.Millisecond)
	if err := s.SetFields(ctx, "USER#7", "SESSION#a", map[string]interface{}{"touched": true}); err != nil {
		t.Fatalf("SetFields() error = %v", err)
	}

	records, err := s.QueryDesc(ctx, "USER#7", "SESSION#", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[0].SortKey != "SESSION#a" {
		t.Errorf("expected most recently written first, got %v", sortKeys(records))
	}
}

func TestIncrementFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, Record{
		PartitionKey: "USER#1",
		SortKey:      "SESSION#chat_x",
		Body:         []byte(`{"message_count":4,"total_tokens":100}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.IncrementFields(ctx, "USER#1", "SESSION#chat_x", map[string]int{
		"message_count": 1,
		"total_tokens":  25,
		"active_tokens": 25, // missing field starts at zero
	})
	if err != nil {
		t.Fatalf("IncrementFields() error = %v", err)
	}

	got, err := s.Get(ctx, "USER#1", "SESSION#chat_x")
	if err != nil {
		t.Fatal(err)
	}

	var body map[string]int
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["message_count"] != 5 || body["total_tokens"] != 125 || body["active_tokens"] != 25 {
		t.Errorf("unexpected counters after increment: %v", body)
	}
}

func TestIncrementFieldsNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.IncrementFields(context.Background(), "USER#1", "SESSION#missing", map[string]int{"n": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetFieldsPreservesTypes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, Record{
		PartitionKey: "SESSION#chat_x",
		SortKey:      "MSG#000001#msg_a",
		Body:         []byte(`{"is_active":true,"archive_reason":""}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.SetFields(ctx, "SESSION#chat_x", "MSG#000001#msg_a", map[string]interface{}{
		"is_active":      false,
		"archive_reason": "token_limit",
	})
	if err != nil {
		t.Fatalf("SetFields() error = %v", err)
	}

	got, err := s.Get(ctx, "SESSION#chat_x", "MSG#000001#msg_a")
	if err != nil {
		t.Fatal(err)
	}

	var body struct {
		IsActive      bool   `json:"is_active"`
		ArchiveReason string `json:"archive_reason"`
	}
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("body did not unmarshal cleanly: %v", err)
	}
	if body.IsActive {
		t.Error("is_active should be false")
	}
	if body.ArchiveReason != "token_limit" {
		t.Errorf("archive_reason = %q, want token_limit", body.ArchiveReason)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Put(ctx, Record{
		PartitionKey: "SESSION#chat_1",
		SortKey:      "MSG#000001#msg_a",
		Body:         []byte(`{"message_id":"msg_a"}`),
		Content:      "what is the average revenue per region",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.Put(ctx, Record{
		PartitionKey: "SESSION#chat_2",
		SortKey:      "MSG#000001#msg_b",
		Body:         []byte(`{"message_id":"msg_b"}`),
		Content:      "hello there",
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "", "revenue", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].SortKey != "MSG#000001#msg_a" {
		t.Errorf("unexpected search results: %+v", results)
	}

	// Partition-scoped search misses records in other partitions.
	results, err = s.Search(ctx, "SESSION#chat_2", "revenue", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results in chat_2, got %+v", results)
	}
}

func TestSearchUpdatedContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{
		PartitionKey: "SESSION#chat_1",
		SortKey:      "MSG#000001#msg_a",
		Body:         []byte(`{}`),
		Content:      "first version",
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Content = "second version"
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if results, _ := s.Search(ctx, "", "first", 10); len(results) != 0 {
		t.Errorf("stale FTS entry survived update: %+v", results)
	}
	if results, _ := s.Search(ctx, "", "second", 10); len(results) != 1 {
		t.Errorf("updated content not searchable: %+v", results)
	}
}

func sortKeys(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.SortKey
	}
	return out
}
