package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront-agent/models"
)

// Outcome of handling one inbound message.
type Outcome string

const (
	OutcomeReplied       Outcome = "replied"
	OutcomeAwaitingHuman Outcome = "awaiting_human" // mode was not ai; message recorded only
	OutcomeDiscarded     Outcome = "discarded"      // mode left ai while the reply was generated
	OutcomeFailed        Outcome = "failed"         // completion failed; no reply this turn
	OutcomeInactive      Outcome = "inactive"       // tenant disabled; message recorded only
)

// InboundMessage is a channel-neutral customer message.
type InboundMessage struct {
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	Channel    string    `json:"channel"`
	Text       string    `json:"text"`
	ExternalID string    `json:"external_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// InboundResult reports what happened to an inbound message.
type InboundResult struct {
	ConversationID  string                       `json:"conversation_id"`
	Outcome         Outcome                      `json:"outcome"`
	Escalated       bool                         `json:"escalated"`
	Reply           *models.Message              `json:"reply,omitempty"`
	Recommendations []models.RecommendationEvent `json:"recommendations,omitempty"`
}

type OrchestratorDeps struct {
	Store             Store
	Conversations     *ConversationService
	Retriever         *Retriever
	Completer         Completer
	Hours             HoursChecker
	Deliverer         Deliverer
	Notifier          Notifier
	CompletionTimeout time.Duration
}

// Orchestrator runs the per-message response pipeline.
type Orchestrator struct {
	store             Store
	conversations     *ConversationService
	retriever         *Retriever
	completer         Completer
	hours             HoursChecker
	deliverer         Deliverer
	notifier          Notifier
	completionTimeout time.Duration
	now               func() time.Time
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Hours == nil {
		deps.Hours = WeeklyHours{}
	}
	if deps.CompletionTimeout <= 0 {
		deps.CompletionTimeout = 45 * time.Second
	}
	return &Orchestrator{
		store:             deps.Store,
		conversations:     deps.Conversations,
		retriever:         deps.Retriever,
		completer:         deps.Completer,
		hours:             deps.Hours,
		deliverer:         deps.Deliverer,
		notifier:          deps.Notifier,
		completionTimeout: deps.CompletionTimeout,
		now:               time.Now,
	}
}

// HandleInbound records the message and, while the conversation belongs to
// the AI, generates and sends a reply. Collaborator failures end the turn
// without a reply; they are not returned as errors. Errors are reserved for
// failures to record the message itself.
func (o *Orchestrator) HandleInbound(ctx context.Context, in InboundMessage) (*InboundResult, error) {
	if in.TenantID == "" || in.CustomerID == "" {
		return nil, fmt.Errorf("tenant and customer are required")
	}
	now := o.now()
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}

	tenant, err := o.store.GetTenant(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	cfg := tenant.WithDefaults()

	conv, _, err := o.store.GetOrCreate(ctx, in.TenantID, in.CustomerID, in.Channel, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	// 1. record the message
	inbound := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Direction:      models.DirectionInbound,
		Text:           in.Text,
		ProducedBy:     models.ProducedByCustomer,
		ExternalID:     in.ExternalID,
		Timestamp:      in.Timestamp,
	}
	if err := o.store.AppendMessage(ctx, inbound); err != nil {
		return nil, fmt.Errorf("failed to save inbound message: %w", err)
	}
	o.notifier.Publish(conv.TenantID, EventMessage, inbound)
	InboundMessages.WithLabelValues(string(conv.Mode)).Inc()

	// customer activity does not count as operator activity
	if _, err := o.store.TouchActivity(ctx, conv.ID, now, models.ModeAI, models.ModePaused); err != nil {
		slog.Warn("Failed to refresh conversation activity", "conversationID", conv.ID, "error", err)
	}

	result := &InboundResult{ConversationID: conv.ID}

	if !cfg.Active {
		result.Outcome = OutcomeInactive
		return result, nil
	}

	// 2. anything but ai waits for a human
	if conv.Mode != models.ModeAI {
		result.Outcome = OutcomeAwaitingHuman
		slog.Info("Message recorded for human handling",
			"conversationID", conv.ID,
			"mode", conv.Mode,
		)
		return result, nil
	}

	// 3. escalation, retrieval, prompt, completion
	if _, flagged, err := o.conversations.DetectEscalation(ctx, conv, cfg.EscalationKeywords, in.Text); err != nil {
		slog.Warn("Escalation detection failed", "conversationID", conv.ID, "error", err)
	} else {
		result.Escalated = flagged
	}

	candidates := o.retrieve(ctx, conv, in.Text)

	open, known := o.hours.IsOpen(ctx, &cfg, now)

	history, err := o.store.RecentMessages(ctx, conv.ID, cfg.HistoryTurns)
	if err != nil {
		slog.Warn("Failed to load history, using current message only", "conversationID", conv.ID, "error", err)
		history = []models.Message{*inbound}
	}

	instructions := AssemblePrompt(PromptInput{
		Tenant:              cfg,
		Hours:               HoursStatus{Known: known, Open: open},
		Candidates:          candidates,
		EscalationTriggered: result.Escalated,
	})

	reply, err := o.complete(ctx, instructions, BuildTurns(history))
	if err != nil {
		AIReplies.WithLabelValues(string(OutcomeFailed)).Inc()
		slog.Error("Completion failed, no reply this turn",
			"conversationID", conv.ID,
			"tenantID", conv.TenantID,
			"error", err,
		)
		result.Outcome = OutcomeFailed
		return result, nil
	}

	// 4. re-check control right before committing the reply
	claimed, err := o.store.ClaimAIReply(ctx, conv.ID, o.now())
	if err != nil {
		AIReplies.WithLabelValues(string(OutcomeFailed)).Inc()
		slog.Error("Failed to re-check conversation mode", "conversationID", conv.ID, "error", err)
		result.Outcome = OutcomeFailed
		return result, nil
	}
	if !claimed {
		AIReplies.WithLabelValues(string(OutcomeDiscarded)).Inc()
		slog.Info("Conversation left ai mode during completion, discarding reply",
			"conversationID", conv.ID,
		)
		result.Outcome = OutcomeDiscarded
		return result, nil
	}

	outbound := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Direction:      models.DirectionOutbound,
		Text:           reply,
		ProducedBy:     models.ProducedByAI,
		Timestamp:      o.now(),
	}
	if err := o.store.AppendMessage(ctx, outbound); err != nil {
		AIReplies.WithLabelValues(string(OutcomeFailed)).Inc()
		slog.Error("Failed to save AI reply", "conversationID", conv.ID, "error", err)
		result.Outcome = OutcomeFailed
		return result, nil
	}
	o.notifier.Publish(conv.TenantID, EventMessage, outbound)

	if err := o.deliverer.Deliver(ctx, conv, reply); err != nil {
		slog.Warn("Failed to deliver AI reply",
			"conversationID", conv.ID,
			"tenantID", conv.TenantID,
			"error", err,
		)
	}
	AIReplies.WithLabelValues(string(OutcomeReplied)).Inc()
	result.Outcome = OutcomeReplied
	result.Reply = outbound

	// 5. one event per candidate the reply actually mentions
	result.Recommendations = o.recordMentions(ctx, conv, outbound, candidates)
	return result, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, conv *models.Conversation, text string) []Candidate {
	if o.retriever == nil {
		return nil
	}
	candidates, err := o.retriever.Recommend(ctx, conv.TenantID, text)
	if err != nil {
		if !errors.Is(err, ErrEmptyQuery) {
			slog.Warn("Retrieval failed, replying without catalog candidates",
				"conversationID", conv.ID,
				"error", err,
			)
		}
		return nil
	}
	return candidates
}

func (o *Orchestrator) complete(ctx context.Context, instructions string, turns []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.completionTimeout)
	defer cancel()

	start := time.Now()
	reply, err := o.completer.Complete(ctx, instructions, turns)
	CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("empty completion")
	}
	return reply, nil
}

func (o *Orchestrator) recordMentions(ctx context.Context, conv *models.Conversation, reply *models.Message, candidates []Candidate) []models.RecommendationEvent {
	lower := strings.ToLower(reply.Text)
	seen := make(map[string]bool)
	var events []models.RecommendationEvent

	for _, c := range candidates {
		name := strings.ToLower(strings.TrimSpace(c.Item.Name))
		if name == "" || seen[c.Item.ID] || !strings.Contains(lower, name) {
			continue
		}
		seen[c.Item.ID] = true

		ev := models.RecommendationEvent{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			TenantID:       conv.TenantID,
			ItemID:         c.Item.ID,
			MessageID:      reply.ID,
			SurfacedAt:     reply.Timestamp,
		}
		if err := o.store.RecordRecommendation(ctx, &ev); err != nil {
			slog.Warn("Failed to record recommendation", "conversationID", conv.ID, "itemID", c.Item.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}
