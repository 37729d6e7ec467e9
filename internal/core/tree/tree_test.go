package tree

import (
	"testing"

	"github.com/coppicehq/coppice/internal/core/models"
)

func msg(id, parent string, index int, role models.Role, active bool) models.Message {
	return models.Message{
		MessageID:       id,
		SessionID:       "chat_test",
		Role:            role,
		Content:         "content of " + id,
		MessageIndex:    index,
		IsActive:        active,
		ParentMessageID: parent,
		Version:         1,
		TokenCount:      10,
	}
}

func TestBuildLinksParents(t *testing.T) {
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, true),
		msg("a1", "u1", 2, models.RoleAssistant, true),
		msg("u2", "a1", 3, models.RoleUser, true),
	}

	tr := Build(messages)

	if len(tr.Roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(tr.Roots))
	}
	if tr.Roots[0].Message.MessageID != "u1" {
		t.Errorf("expected root u1, got %s", tr.Roots[0].Message.MessageID)
	}
	if len(tr.Roots[0].Children) != 1 || tr.Roots[0].Children[0].Message.MessageID != "a1" {
		t.Errorf("u1 should have single child a1")
	}
}

func TestBuildOrphanBecomesRoot(t *testing.T) {
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, true),
		msg("a9", "missing-parent", 9, models.RoleAssistant, true),
	}

	tr := Build(messages)

	if len(tr.Roots) != 2 {
		t.Fatalf("expected orphan to become a root, got %d roots", len(tr.Roots))
	}
	// Roots sorted by index
	if tr.Roots[0].Message.MessageID != "u1" || tr.Roots[1].Message.MessageID != "a9" {
		t.Errorf("roots not sorted by message index: %s, %s",
			tr.Roots[0].Message.MessageID, tr.Roots[1].Message.MessageID)
	}
}

func TestActivePathFollowsActiveBranch(t *testing.T) {
	// u2 was edited: u2 archived, fork u2b active under the same parent.
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, true),
		msg("a1", "u1", 2, models.RoleAssistant, true),
		msg("u2", "a1", 3, models.RoleUser, false),
		msg("a2", "u2", 4, models.RoleAssistant, false),
		msg("u2b", "a1", 3, models.RoleUser, true),
		msg("a2b", "u2b", 5, models.RoleAssistant, true),
	}

	path := Build(messages).ActivePath()

	want := []string{"u1", "a1", "u2b", "a2b"}
	if len(path) != len(want) {
		t.Fatalf("active path length = %d, want %d", len(path), len(want))
	}
	for i, id := range want {
		if path[i].MessageID != id {
			t.Errorf("path[%d] = %s, want %s", i, path[i].MessageID, id)
		}
	}
}

func TestActivePathPicksLowestIndexOnAmbiguity(t *testing.T) {
	// Two active children of a1: invariant violation upstream. Lowest index wins.
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, true),
		msg("a1", "u1", 2, models.RoleAssistant, true),
		msg("u2", "a1", 3, models.RoleUser, true),
		msg("u3", "a1", 4, models.RoleUser, true),
	}

	path := Build(messages).ActivePath()

	if len(path) != 3 || path[2].MessageID != "u2" {
		t.Errorf("expected lowest-index active child u2 on the path, got %v", ids(path))
	}

	violated := CheckActiveBranching(messages)
	if len(violated) != 1 || violated[0] != "a1" {
		t.Errorf("CheckActiveBranching = %v, want [a1]", violated)
	}
}

func TestActivePathSkipsArchivedPrefix(t *testing.T) {
	// Budget eviction archived the oldest pair; the rest of the chain is
	// still the live conversation.
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, false),
		msg("a1", "u1", 2, models.RoleAssistant, false),
		msg("u2", "a1", 3, models.RoleUser, true),
		msg("a2", "u2", 4, models.RoleAssistant, true),
	}

	path := Build(messages).ActivePath()
	want := []string{"u2", "a2"}
	if len(path) != len(want) {
		t.Fatalf("ActivePath() = %v, want %v", ids(path), want)
	}
	for i, id := range want {
		if path[i].MessageID != id {
			t.Errorf("path[%d] = %s, want %s", i, path[i].MessageID, id)
		}
	}
}

func TestActivePathForkBelowArchivedPrefix(t *testing.T) {
	// Eviction archived (u1, a1), then an edit of u2 archived its subtree and
	// forked under the archived a1. The walk must reach the fork through two
	// archived generations.
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, false),
		msg("a1", "u1", 2, models.RoleAssistant, false),
		msg("u2", "a1", 3, models.RoleUser, false),
		msg("a2", "u2", 4, models.RoleAssistant, false),
		msg("u2b", "a1", 3, models.RoleUser, true),
		msg("a2b", "u2b", 5, models.RoleAssistant, true),
	}

	path := Build(messages).ActivePath()
	want := []string{"u2b", "a2b"}
	if len(path) != len(want) {
		t.Fatalf("ActivePath() = %v, want %v", ids(path), want)
	}
	for i, id := range want {
		if path[i].MessageID != id {
			t.Errorf("path[%d] = %s, want %s", i, path[i].MessageID, id)
		}
	}
}

func TestActivePathEmptyWhenAllArchived(t *testing.T) {
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, false),
		msg("a1", "u1", 2, models.RoleAssistant, false),
	}

	if path := Build(messages).ActivePath(); len(path) != 0 {
		t.Errorf("expected empty active path, got %v", ids(path))
	}
}

func TestSubtreeIsExhaustive(t *testing.T) {
	// u2 has two branches below it; subtree must cover both, not just the
	// active one.
	messages := []models.Message{
		msg("u1", "", 1, models.RoleUser, true),
		msg("a1", "u1", 2, models.RoleAssistant, true),
		msg("u2", "a1", 3, models.RoleUser, true),
		msg("a2", "u2", 4, models.RoleAssistant, false),
		msg("a2b", "u2", 5, models.RoleAssistant, true),
		msg("u3", "a2b", 6, models.RoleUser, true),
	}

	sub, ok := Build(messages).Subtree("u2")
	if !ok {
		t.Fatal("subtree root not found")
	}

	got := make(map[string]bool, len(sub))
	for _, m := range sub {
		got[m.MessageID] = true
	}
	for _, id := range []string{"u2", "a2", "a2b", "u3"} {
		if !got[id] {
			t.Errorf("subtree missing %s", id)
		}
	}
	if got["u1"] || got["a1"] {
		t.Error("subtree must not include ancestors")
	}
}

func TestSubtreeUnknownID(t *testing.T) {
	tr := Build([]models.Message{msg("u1", "", 1, models.RoleUser, true)})
	if _, ok := tr.Subtree("nope"); ok {
		t.Error("expected ok=false for unknown message id")
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}
