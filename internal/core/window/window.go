// Package window selects the token-bounded context sent to the LLM.
//
// The context window is always a suffix of the active path: the newest turns,
// accumulated backwards until the next unit would overflow the budget. The
// session budget and the context budget are independent; this package only
// ever sees the latter.
package window

import "github.com/coppicehq/coppice/internal/core/models"

// Select returns the trailing subsequence of active (ordered by message
// index) whose token sum fits maxTokens, in chronological order.
//
// With preservePairs, an assistant message and the user message immediately
// before it in the path are accepted or rejected together, so the window
// never opens with a dangling assistant reply.
//
// For a non-empty path the result is never empty: if even the newest unit
// (a message, or a whole pair when pairing) exceeds the budget it is returned
// as-is, and the caller decides whether to reject the turn.
func Select(active []models.Message, maxTokens int, preservePairs bool) []models.Message {
	if len(active) == 0 {
		return nil
	}

	var selected []models.Message
	if preservePairs {
		selected = selectPaired(active, maxTokens)
	} else {
		selected = selectSingles(active, maxTokens)
	}

	if len(selected) == 0 {
		// Even the newest unit overflows the budget. Return it whole rather
		// than an empty context: an overflowing pair stays a pair, so the
		// window never opens with a dangling assistant reply.
		last := len(active) - 1
		if preservePairs && active[last].Role == models.RoleAssistant &&
			last > 0 && active[last-1].Role == models.RoleUser {
			return []models.Message{active[last-1], active[last]}
		}
		return []models.Message{active[last]}
	}
	return selected
}

// SelectByCount returns the last maxMessages entries of the active path, in
// chronological order. Used by message_based sessions where the context
// window is counted in turns, not tokens.
func SelectByCount(active []models.Message, maxMessages int) []models.Message {
	if maxMessages <= 0 || len(active) == 0 {
		return nil
	}
	if len(active) <= maxMessages {
		return active
	}
	return active[len(active)-maxMessages:]
}

func selectPaired(active []models.Message, maxTokens int) []models.Message {
	var reversed []models.Message
	total := 0

	i := len(active) - 1
	for i >= 0 {
		msg := active[i]

		if msg.Role == models.RoleAssistant && i > 0 && active[i-1].Role == models.RoleUser {
			user := active[i-1]
			pairTokens := msg.TokenCount + user.TokenCount
			if total+pairTokens > maxTokens {
				break
			}
			reversed = append(reversed, msg, user)
			total += pairTokens
			i -= 2
			continue
		}

		if total+msg.TokenCount > maxTokens {
			break
		}
		reversed = append(reversed, msg)
		total += msg.TokenCount
		i--
	}

	return reverse(reversed)
}

func selectSingles(active []models.Message, maxTokens int) []models.Message {
	var reversed []models.Message
	total := 0

	for i := len(active) - 1; i >= 0; i-- {
		msg := active[i]
		if total+msg.TokenCount > maxTokens {
			break
		}
		reversed = append(reversed, msg)
		total += msg.TokenCount
	}

	return reverse(reversed)
}

func reverse(msgs []models.Message) []models.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
