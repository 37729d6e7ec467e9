// Package tree builds the in-memory conversation tree from a session's flat
// message list.
//
// Messages only store a parent back-reference, so the tree is recovered here:
// an arena of nodes indexed by message id plus a parent -> children index.
// Nothing in this package touches storage; callers pass the full message set.
package tree

import (
	"sort"

	"github.com/coppicehq/coppice/internal/core/models"
)

// Node wraps one message and its ordered children
type Node struct {
	Message  models.Message
	Children []*Node
}

// Tree is the materialized conversation tree for one session
type Tree struct {
	// Roots are messages with no parent, plus orphans whose parent is not in
	// the input set. Sorted by message index.
	Roots []*Node

	byID map[string]*Node
}

// Build constructs the tree from a flat message list. A parent_message_id
// pointing outside the input set is tolerated: the message becomes a root
// instead of being dropped.
func Build(messages []models.Message) *Tree {
	t := &Tree{byID: make(map[string]*Node, len(messages))}

	for _, m := range messages {
		t.byID[m.MessageID] = &Node{Message: m}
	}

	for _, m := range messages {
		node := t.byID[m.MessageID]
		if m.ParentMessageID == "" {
			t.Roots = append(t.Roots, node)
			continue
		}
		parent, ok := t.byID[m.ParentMessageID]
		if !ok || parent == node {
			// Orphan: parent missing from the set (or self-referential).
			t.Roots = append(t.Roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortNodes(t.Roots)
	for _, node := range t.byID {
		sortNodes(node.Children)
	}

	return t
}

// Node returns the node for a message id, if present
func (t *Tree) Node(messageID string) (*Node, bool) {
	n, ok := t.byID[messageID]
	return n, ok
}

// Len returns the number of messages in the tree
func (t *Tree) Len() int {
	return len(t.byID)
}

// ActivePath returns the current conversation: from each root, skip past any
// archived prefix to the first active node, then descend into the lowest-index
// active child until a node has no active children. The concatenation over
// all roots is returned sorted by message index.
//
// By convention at most one branch is active at a time; if that invariant is
// violated upstream the lowest message index wins. CheckActiveBranching
// detects the violation.
func (t *Tree) ActivePath() []models.Message {
	var path []models.Message

	for _, root := range t.Roots {
		// Budget eviction archives the oldest messages in place, so a chain's
		// root is often archived while its tail is still active. The archived
		// prefix is transparent: descend to the first active node and emit the
		// chain from there.
		node := firstActiveUnder(root)
		for node != nil {
			path = append(path, node.Message)
			node = firstActiveChild(node)
		}
	}

	sort.Slice(path, func(i, j int) bool {
		return path[i].MessageIndex < path[j].MessageIndex
	})
	return path
}

// Subtree returns the message identified by messageID plus all of its
// descendants across every branch depth. Order follows a depth-first walk.
// The second return is false when the id is not in the tree.
func (t *Tree) Subtree(messageID string) ([]models.Message, bool) {
	start, ok := t.byID[messageID]
	if !ok {
		return nil, false
	}

	var out []models.Message
	stack := []*Node{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, node.Message)
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return out, true
}

// CheckActiveBranching returns the parent message ids that have more than one
// active child. A non-empty result means the one-active-branch convention has
// been violated and reads are resolving the ambiguity by lowest index.
func CheckActiveBranching(messages []models.Message) []string {
	activeChildren := make(map[string]int)
	for _, m := range messages {
		if m.IsActive && m.ParentMessageID != "" {
			activeChildren[m.ParentMessageID]++
		}
	}

	var violated []string
	for parentID, n := range activeChildren {
		if n > 1 {
			violated = append(violated, parentID)
		}
	}
	sort.Strings(violated)
	return violated
}

// firstActiveUnder returns n itself when active, otherwise the first active
// descendant reachable through archived nodes, in message-index order.
func firstActiveUnder(n *Node) *Node {
	if n.Message.IsActive {
		return n
	}
	for _, child := range n.Children {
		if found := firstActiveUnder(child); found != nil {
			return found
		}
	}
	return nil
}

func firstActiveChild(n *Node) *Node {
	for _, child := range n.Children {
		if child.Message.IsActive {
			return child
		}
	}
	return nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Message.MessageIndex < nodes[j].Message.MessageIndex
	})
}
