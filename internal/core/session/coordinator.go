// Package session ties the engine together: one coordinator per process,
// one exclusive lock per session.
//
// sendMessage and editMessage (and the archiving they trigger) are serialized
// per session id; operations on different sessions never contend. The only
// blocking calls under the lock are the store round trips and the external
// LLM call, which is what the lock exists to order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coppicehq/coppice/internal/core/archive"
	"github.com/coppicehq/coppice/internal/core/llm"
	"github.com/coppicehq/coppice/internal/core/metrics"
	"github.com/coppicehq/coppice/internal/core/models"
	"github.com/coppicehq/coppice/internal/core/repo"
	"github.com/coppicehq/coppice/internal/core/token"
	"github.com/coppicehq/coppice/internal/core/tree"
	"github.com/coppicehq/coppice/internal/core/window"
)

// ErrNoPendingTurn is returned by Regenerate when the active path does not
// end in an unanswered user message.
var ErrNoPendingTurn = errors.New("no pending user turn to regenerate")

// Coordinator is the façade over the conversation engine
type Coordinator struct {
	repo          *repo.Repository
	provider      llm.Provider
	metrics       *metrics.Metrics
	log           zerolog.Logger
	defaultPolicy models.LimitPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now   func() time.Time
	newID func(prefix string) string
}

// NewCoordinator wires the engine. The provider is injected; its lifetime is
// managed by the host application, not by this engine.
func NewCoordinator(r *repo.Repository, provider llm.Provider, m *metrics.Metrics, log zerolog.Logger, defaultPolicy models.LimitPolicy) *Coordinator {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Coordinator{
		repo:          r,
		provider:      provider,
		metrics:       m,
		log:           log.With().Str("component", "coordinator").Logger(),
		defaultPolicy: defaultPolicy,
		locks:         make(map[string]*sync.Mutex),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         shortID,
	}
}

func shortID(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%x", prefix, u[:4])
}

// sessionLock returns the mutex serializing mutations of one session
func (c *Coordinator) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[sessionID] = lock
	}
	return lock
}

// CreateParams describes a new session
type CreateParams struct {
	UserID         int64
	DataSourceID   int64
	DataSourceName string
	DataSourceType string
	Title          string
	Policy         *models.LimitPolicy // nil means engine defaults
}

// CreateSession creates a session with a frozen policy snapshot
func (c *Coordinator) CreateSession(ctx context.Context, params CreateParams) (*models.ChatSession, error) {
	policy := c.defaultPolicy
	if params.Policy != nil {
		policy = *params.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limit policy: %w", err)
	}

	title := params.Title
	if title == "" {
		title = "Chat with " + params.DataSourceName
	}

	now := c.now()
	session := &models.ChatSession{
		SessionID:      c.newID("chat"),
		UserID:         params.UserID,
		DataSourceID:   params.DataSourceID,
		DataSourceName: params.DataSourceName,
		DataSourceType: params.DataSourceType,
		Title:          title,
		Status:         models.SessionStatusActive,
		MaxMessages:    policy.MaxMessages,
		MaxTokens:      policy.MaxTokens,
		CreatedAt:      now,
		UpdatedAt:      now,
		Settings:       policy,
	}

	if err := c.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SendOptions tunes a single turn
type SendOptions struct {
	// TokenCount is the exact token count of the content. Zero means
	// estimate, which requires the session policy to allow estimation.
	TokenCount int
}

// TurnResult is a completed send
type TurnResult struct {
	UserMessage      models.Message
	AssistantMessage models.Message
	ArchivedCount    int
}

// SendMessage appends a user turn, enforcing the session budget first, then
// generates and appends the assistant reply.
//
// If generation fails the user message stays persisted and the error is
// surfaced; the session is valid but awaiting a reply, and Regenerate retries
// only the generation step.
func (c *Coordinator) SendMessage(ctx context.Context, userID int64, sessionID, content string, opts SendOptions) (*TurnResult, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	policy := session.Settings

	incoming, err := resolveTokens(content, opts.TokenCount, policy)
	if err != nil {
		return nil, err
	}
	if incoming > session.MaxTokens {
		return nil, fmt.Errorf("turn of %d tokens against a %d token ceiling: %w",
			incoming, session.MaxTokens, models.ErrTokenBudgetExceeded)
	}

	messages, err := c.repo.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	active := activeOnly(messages)

	if models.ActiveTokenSum(active) >= session.MaxTokens {
		return nil, models.ErrSessionAtLimit
	}

	// Enforce the budget before anything is persisted.
	strategy := archive.ForPolicy(policy)
	plan := strategy.Plan(session, active, incoming)
	if len(plan) > 0 {
		if err := c.repo.ArchiveMessages(ctx, plan, strategy.Reason(), c.now()); err != nil {
			return nil, err
		}
		c.metrics.ArchivedTotal.WithLabelValues(string(strategy.Reason())).Add(float64(len(plan)))
		messages = applyArchive(messages, plan, strategy.Reason(), c.now())
		active = activeOnly(messages)
	}

	if models.ActiveTokenSum(active)+incoming > session.MaxTokens {
		// Archiving could not make room; reject without appending anything.
		// The archiving itself is already persisted, so the cached aggregates
		// must reflect it before the rejection surfaces.
		if len(plan) > 0 {
			cerr := c.repo.SetSessionFields(ctx, session.UserID, session.SessionID, map[string]interface{}{
				"active_message_count": models.ActiveCount(messages),
				"active_tokens":        models.ActiveTokenSum(messages),
				"updated_at":           c.now(),
			})
			if cerr != nil {
				c.log.Error().Err(cerr).Str("session_id", sessionID).Msg("counter update after rejected turn")
			}
		}
		return nil, fmt.Errorf("%d active + %d incoming tokens against a %d token ceiling: %w",
			models.ActiveTokenSum(active), incoming, session.MaxTokens, models.ErrTokenBudgetExceeded)
	}

	now := c.now()
	userMsg := models.Message{
		MessageID:       c.newID("msg"),
		SessionID:       sessionID,
		UserID:          userID,
		Role:            models.RoleUser,
		Content:         content,
		MessageIndex:    session.MessageCount + 1,
		IsActive:        true,
		ParentMessageID: activeLeafID(messages),
		Version:         1,
		TokenCount:      incoming,
		CreatedAt:       now,
	}
	if err := c.repo.PutMessage(ctx, &userMsg); err != nil {
		return nil, err
	}
	messages = append(messages, userMsg)

	reply, err := c.generateReply(ctx, session, messages, userMsg)
	if err != nil {
		// The user turn stands; only generation is retried (Regenerate).
		c.metrics.TurnsTotal.WithLabelValues("generation_failed").Inc()
		if cerr := c.persistCounters(ctx, session, messages, []models.Message{userMsg}, len(plan) > 0); cerr != nil {
			c.log.Error().Err(cerr).Str("session_id", sessionID).Msg("counter update after failed generation")
		}
		return nil, err
	}

	assistantMsg := models.Message{
		MessageID:       c.newID("msg"),
		SessionID:       sessionID,
		UserID:          userID,
		Role:            models.RoleAssistant,
		Content:         reply.Content,
		MessageIndex:    session.MessageCount + 2,
		IsActive:        true,
		ParentMessageID: userMsg.MessageID,
		Version:         1,
		TokenCount:      reply.TokenCount,
		ModelUsed:       reply.Model,
		CreatedAt:       c.now(),
	}
	if err := c.repo.PutMessage(ctx, &assistantMsg); err != nil {
		return nil, err
	}
	messages = append(messages, assistantMsg)

	err = c.persistCounters(ctx, session, messages, []models.Message{userMsg, assistantMsg}, len(plan) > 0)
	if err != nil {
		return nil, err
	}

	c.warnOnBranchAmbiguity(sessionID, messages)
	c.metrics.TurnsTotal.WithLabelValues("ok").Inc()
	c.log.Info().
		Str("session_id", sessionID).
		Int("user_tokens", userMsg.TokenCount).
		Int("assistant_tokens", assistantMsg.TokenCount).
		Int("archived", len(plan)).
		Msg("turn completed")

	return &TurnResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		ArchivedCount:    len(plan),
	}, nil
}

// EditResult is the outcome of an edit with cascade regeneration
type EditResult struct {
	Original    models.Message
	Edited      models.Message
	Regenerated *models.Message // nil when regeneration failed or is disabled
	ArchivedIDs []string
}

// EditMessage archives the edited message's entire descendant subtree,
// creates the edited version as a sibling fork under the original's parent,
// and regenerates the assistant reply.
//
// When only the regeneration step fails, the returned result still carries
// the persisted fork alongside the error: the caller retries generation via
// Regenerate, not the whole edit.
func (c *Coordinator) EditMessage(ctx context.Context, userID int64, sessionID, messageID, content string, opts SendOptions) (*EditResult, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	policy := session.Settings
	if !policy.AllowEditing {
		return nil, models.ErrEditingDisabled
	}

	messages, err := c.repo.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Validate before any mutation: target must exist, belong to the caller,
	// and be a user message.
	original := findMessage(messages, messageID)
	if original == nil || original.UserID != userID {
		return nil, models.ErrMessageNotFound
	}
	if original.Role != models.RoleUser {
		return nil, models.ErrInvalidRole
	}

	incoming, err := resolveTokens(content, opts.TokenCount, policy)
	if err != nil {
		return nil, err
	}

	// Archive everything causally downstream of the original, the original
	// included, regardless of current active state.
	subtree, _ := tree.Build(messages).Subtree(messageID)
	if err := c.repo.ArchiveMessages(ctx, subtree, models.ArchiveReasonCascadeRegeneration, c.now()); err != nil {
		return nil, err
	}
	c.metrics.ArchivedTotal.WithLabelValues(string(models.ArchiveReasonCascadeRegeneration)).Add(float64(len(subtree)))
	messages = applyArchive(messages, subtree, models.ArchiveReasonCascadeRegeneration, c.now())

	// The fork replaces the original as a sibling: same parent, same message
	// index, next version.
	now := c.now()
	fork := models.Message{
		MessageID:       c.newID("msg"),
		SessionID:       sessionID,
		UserID:          userID,
		Role:            models.RoleUser,
		Content:         content,
		MessageIndex:    original.MessageIndex,
		IsActive:        true,
		IsEdited:        true,
		ParentMessageID: original.ParentMessageID,
		Version:         original.Version + 1,
		TokenCount:      incoming,
		CreatedAt:       now,
		EditedAt:        &now,
	}
	if err := c.repo.PutMessage(ctx, &fork); err != nil {
		return nil, err
	}
	messages = append(messages, fork)
	c.metrics.EditsTotal.Inc()

	result := &EditResult{
		Original:    *original,
		Edited:      fork,
		ArchivedIDs: messageIDs(subtree),
	}

	if !policy.RegenerateOnEdit {
		if err := c.persistCounters(ctx, session, messages, []models.Message{fork}, true); err != nil {
			return nil, err
		}
		c.warnOnBranchAmbiguity(sessionID, messages)
		return result, nil
	}

	reply, err := c.generateReply(ctx, session, messages, fork)
	if err != nil {
		// Fork stays active but childless; the session remains valid.
		if cerr := c.persistCounters(ctx, session, messages, []models.Message{fork}, true); cerr != nil {
			c.log.Error().Err(cerr).Str("session_id", sessionID).Msg("counter update after failed regeneration")
		}
		return result, err
	}

	regenerated := models.Message{
		MessageID:       c.newID("msg"),
		SessionID:       sessionID,
		UserID:          userID,
		Role:            models.RoleAssistant,
		Content:         reply.Content,
		MessageIndex:    session.MessageCount + 1,
		IsActive:        true,
		ParentMessageID: fork.MessageID,
		Version:         1,
		TokenCount:      reply.TokenCount,
		ModelUsed:       reply.Model,
		CreatedAt:       c.now(),
	}
	if err := c.repo.PutMessage(ctx, &regenerated); err != nil {
		return nil, err
	}
	messages = append(messages, regenerated)
	result.Regenerated = &regenerated

	if err := c.persistCounters(ctx, session, messages, []models.Message{fork, regenerated}, true); err != nil {
		return nil, err
	}

	c.warnOnBranchAmbiguity(sessionID, messages)
	c.log.Info().
		Str("session_id", sessionID).
		Str("original", messageID).
		Str("fork", fork.MessageID).
		Int("archived", len(subtree)).
		Msg("message edited")

	return result, nil
}

// Regenerate produces the assistant reply for an active path that ends in an
// unanswered user message. This is the recovery path after a failed or
// cancelled generation; the user turn is never re-appended.
func (c *Coordinator) Regenerate(ctx context.Context, userID int64, sessionID string) (*models.Message, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := c.repo.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	path := tree.Build(messages).ActivePath()
	if len(path) == 0 || path[len(path)-1].Role != models.RoleUser {
		return nil, ErrNoPendingTurn
	}
	pending := path[len(path)-1]

	reply, err := c.generateReply(ctx, session, messages, pending)
	if err != nil {
		return nil, err
	}

	assistantMsg := models.Message{
		MessageID:       c.newID("msg"),
		SessionID:       sessionID,
		UserID:          userID,
		Role:            models.RoleAssistant,
		Content:         reply.Content,
		MessageIndex:    session.MessageCount + 1,
		IsActive:        true,
		ParentMessageID: pending.MessageID,
		Version:         1,
		TokenCount:      reply.TokenCount,
		ModelUsed:       reply.Model,
		CreatedAt:       c.now(),
	}
	if err := c.repo.PutMessage(ctx, &assistantMsg); err != nil {
		return nil, err
	}
	messages = append(messages, assistantMsg)

	if err := c.persistCounters(ctx, session, messages, []models.Message{assistantMsg}, false); err != nil {
		return nil, err
	}
	return &assistantMsg, nil
}

// RebuildCounters recomputes the cached session counters from the messages
// themselves. This is the recovery path when the cached aggregates are
// suspect, e.g. after a crash between a bulk archive and its counter update.
func (c *Coordinator) RebuildCounters(ctx context.Context, userID int64, sessionID string) (*models.ChatSession, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := c.repo.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.ActiveMessageCount = models.ActiveCount(messages)
	session.ActiveTokens = models.ActiveTokenSum(messages)
	session.UpdatedAt = c.now()
	if err := c.repo.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// generateReply builds the context window for the active path and calls the
// provider. Failures are wrapped as GenerationError and counted.
func (c *Coordinator) generateReply(ctx context.Context, session *models.ChatSession, messages []models.Message, userTurn models.Message) (llm.Reply, error) {
	policy := session.Settings
	path := tree.Build(messages).ActivePath()

	var ctxWindow []models.Message
	if policy.LimitingStrategy == models.StrategyMessageBased {
		ctxWindow = window.SelectByCount(path, policy.ContextWindowMessages)
	} else {
		ctxWindow = window.Select(path, policy.ContextWindowTokens, policy.PreserveConversationPairs)
	}
	c.metrics.ContextWindowTokens.Observe(float64(models.ActiveTokenSum(ctxWindow)))

	reply, err := c.provider.Generate(ctx, llm.Request{
		Session:  session,
		Context:  ctxWindow,
		UserTurn: userTurn,
	})
	if err != nil {
		c.metrics.GenerationFailures.Inc()
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			return llm.Reply{}, err
		}
		return llm.Reply{}, &llm.GenerationError{Provider: c.provider.Name(), Err: err}
	}

	if reply.TokenCount < 1 {
		reply.TokenCount = token.NewEstimator(policy.CharsPerToken).Estimate(reply.Content)
	}
	return reply, nil
}

// persistCounters updates the session record for one operation that appended
// the given messages. After bulk archiving the active aggregates are
// recomputed from the messages themselves rather than trusted incrementally,
// which keeps them drift-free no matter what the archive plan touched.
func (c *Coordinator) persistCounters(ctx context.Context, session *models.ChatSession, messages, added []models.Message, archived bool) error {
	addedTokens := 0
	for _, m := range added {
		addedTokens += m.TokenCount
	}

	if archived {
		if err := c.repo.IncrementSessionCounters(ctx, session.UserID, session.SessionID, map[string]int{
			"message_count": len(added),
			"total_tokens":  addedTokens,
		}); err != nil {
			return err
		}
		return c.repo.SetSessionFields(ctx, session.UserID, session.SessionID, map[string]interface{}{
			"active_message_count": models.ActiveCount(messages),
			"active_tokens":        models.ActiveTokenSum(messages),
			"updated_at":           c.now(),
		})
	}

	if err := c.repo.IncrementSessionCounters(ctx, session.UserID, session.SessionID, map[string]int{
		"message_count":        len(added),
		"active_message_count": len(added),
		"total_tokens":         addedTokens,
		"active_tokens":        addedTokens,
	}); err != nil {
		return err
	}
	return c.repo.SetSessionFields(ctx, session.UserID, session.SessionID, map[string]interface{}{
		"updated_at": c.now(),
	})
}

func (c *Coordinator) warnOnBranchAmbiguity(sessionID string, messages []models.Message) {
	if violated := tree.CheckActiveBranching(messages); len(violated) > 0 {
		c.log.Warn().
			Str("session_id", sessionID).
			Strs("parents", violated).
			Msg("multiple active children under one parent; reads resolve by lowest index")
	}
}

func resolveTokens(content string, provided int, policy models.LimitPolicy) (int, error) {
	if provided > 0 {
		return provided, nil
	}
	if !policy.EstimateTokens {
		return 0, errors.New("exact token count required: estimation is disabled by session policy")
	}
	return token.NewEstimator(policy.CharsPerToken).Estimate(content), nil
}

func activeOnly(messages []models.Message) []models.Message {
	var active []models.Message
	for _, m := range messages {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active
}

// activeLeafID returns the id of the last message on the active path, or
// empty when the conversation is empty (the new message becomes a root).
func activeLeafID(messages []models.Message) string {
	path := tree.Build(messages).ActivePath()
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1].MessageID
}

func applyArchive(messages, archived []models.Message, reason models.ArchiveReason, at time.Time) []models.Message {
	ids := make(map[string]bool, len(archived))
	for _, m := range archived {
		ids[m.MessageID] = true
	}
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		if ids[m.MessageID] {
			m.Archive(reason, at)
		}
		out[i] = m
	}
	return out
}

func findMessage(messages []models.Message, messageID string) *models.Message {
	for i := range messages {
		if messages[i].MessageID == messageID {
			return &messages[i]
		}
	}
	return nil
}

func messageIDs(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.MessageID
	}
	return out
}
