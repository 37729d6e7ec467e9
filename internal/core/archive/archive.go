// Package archive decides which messages to soft-evict when a session
// approaches its budget.
//
// Planning is pure: the engine looks at the active messages and returns the
// ones to archive, oldest first. Applying the plan (stamping archive fields,
// recomputing counters) is the caller's job, which keeps re-running a plan
// idempotent by construction.
package archive

import (
	"github.com/coppicehq/coppice/internal/core/models"
)

// LowWaterFraction is where archiving stops once triggered. Draining to 60%
// of the ceiling instead of just under the trigger threshold keeps the
// session from re-triggering on every subsequent turn.
const LowWaterFraction = 0.6

// Strategy plans which active messages to archive before accepting a turn.
// Implementations are pure; the returned slice is in archive order (oldest
// first) and may be empty.
type Strategy interface {
	// Plan inspects the active messages, ordered by message index, and
	// returns the ones to archive given the tokens about to arrive.
	Plan(session *models.ChatSession, active []models.Message, incomingTokens int) []models.Message

	// Reason is stamped on every message this strategy archives
	Reason() models.ArchiveReason
}

// ForPolicy selects the strategy variant for a session's frozen policy. The
// choice is made once at session load, not re-dispatched per call.
func ForPolicy(p models.LimitPolicy) Strategy {
	if p.LimitingStrategy == models.StrategyMessageBased {
		return &messageStrategy{}
	}
	return &tokenStrategy{
		threshold:     p.TokenArchiveThreshold,
		preservePairs: p.PreserveConversationPairs,
	}
}

// tokenStrategy archives by token high/low water marks. The high-water mark
// is policy (default 0.8 of max), the low-water mark is fixed at 0.6.
type tokenStrategy struct {
	threshold     float64
	preservePairs bool
}

func (s *tokenStrategy) Reason() models.ArchiveReason {
	return models.ArchiveReasonTokenLimit
}

func (s *tokenStrategy) Plan(session *models.ChatSession, active []models.Message, incomingTokens int) []models.Message {
	// Work from the messages themselves, not the cached counter, so a plan
	// computed after a restart or a previous bulk archive cannot drift.
	activeTokens := models.ActiveTokenSum(active)

	projected := activeTokens + incomingTokens
	highWater := int(float64(session.MaxTokens) * s.threshold)
	if projected <= highWater {
		return nil
	}

	target := int(float64(session.MaxTokens) * LowWaterFraction)
	toRemove := activeTokens - target
	if toRemove <= 0 {
		return nil
	}

	if s.preservePairs {
		return planPairs(active, toRemove)
	}
	return planSingles(active, toRemove)
}

// planPairs walks forward from the oldest active message archiving whole
// user+assistant units. A lone message with no pair partner (end of an
// amputated branch) is archived individually.
func planPairs(active []models.Message, toRemove int) []models.Message {
	var plan []models.Message
	removed := 0

	i := 0
	for i < len(active) && removed < toRemove {
		msg := active[i]
		plan = append(plan, msg)
		removed += msg.TokenCount

		if msg.Role == models.RoleUser && i+1 < len(active) && active[i+1].Role == models.RoleAssistant {
			reply := active[i+1]
			plan = append(plan, reply)
			removed += reply.TokenCount
			i += 2
			continue
		}
		i++
	}

	return plan
}

func planSingles(active []models.Message, toRemove int) []models.Message {
	var plan []models.Message
	removed := 0

	for _, msg := range active {
		if removed >= toRemove {
			break
		}
		plan = append(plan, msg)
		removed += msg.TokenCount
	}

	return plan
}

// messageStrategy is the fallback: once the active count reaches the message
// ceiling, keep the newest 60% and archive the rest, oldest first. No pair
// logic.
type messageStrategy struct{}

func (s *messageStrategy) Reason() models.ArchiveReason {
	return models.ArchiveReasonMessageLimit
}

func (s *messageStrategy) Plan(session *models.ChatSession, active []models.Message, incomingTokens int) []models.Message {
	if len(active) < session.MaxMessages {
		return nil
	}

	keep := int(float64(session.MaxMessages) * LowWaterFraction)
	if len(active) <= keep {
		return nil
	}

	plan := make([]models.Message, len(active)-keep)
	copy(plan, active[:len(active)-keep])
	return plan
}
