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

var (
	ErrNotAssigned = errors.New("conversation is not assigned to this operator")
	ErrEmptyReply  = errors.New("reply text is empty")
)

// ModeChangeEvent is pushed to dashboards whenever a transition applies.
type ModeChangeEvent struct {
	ConversationID string      `json:"conversation_id"`
	Mode           models.Mode `json:"mode"`
	OperatorID     string      `json:"operator_id,omitempty"`
	Kind           string      `json:"kind"`
}

// ConversationService owns conversation mode transitions. Every transition is
// a conditional update in the store; a failed precondition is reported as
// applied=false and has no side effects.
type ConversationService struct {
	conversations ConversationStore
	messages      MessageStore
	tenants       TenantStore
	deliverer     Deliverer
	notifier      Notifier
	now           func() time.Time
}

func NewConversationService(conversations ConversationStore, messages MessageStore, tenants TenantStore, deliverer Deliverer, notifier Notifier) *ConversationService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		tenants:       tenants,
		deliverer:     deliverer,
		notifier:      notifier,
		now:           time.Now,
	}
}

// Get returns a conversation, optionally restricted to a tenant.
func (s *ConversationService) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Takeover hands the conversation to an operator (ai|paused -> human).
func (s *ConversationService) Takeover(ctx context.Context, id, operatorID string) (bool, error) {
	if operatorID == "" {
		return false, fmt.Errorf("operator id is required")
	}
	return s.transition(ctx, "takeover",
		ModeCondition{ConversationID: id, From: []models.Mode{models.ModeAI, models.ModePaused}, NotArchived: true},
		ModeChange{To: models.ModeHuman, OperatorID: operatorID},
	)
}

// Release returns control to the AI (human -> ai). A non-empty operatorID
// must match the assigned operator. Only an applied release sends the handback.
func (s *ConversationService) Release(ctx context.Context, id, operatorID string) (bool, error) {
	applied, err := s.transition(ctx, "release",
		ModeCondition{ConversationID: id, From: []models.Mode{models.ModeHuman}, OperatorID: operatorID},
		ModeChange{To: models.ModeAI},
	)
	if err != nil || !applied {
		return applied, err
	}
	s.handback(ctx, id)
	return true, nil
}

// ReleaseIdle releases a human conversation only if it has been idle since
// before cutoff.
func (s *ConversationService) ReleaseIdle(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	applied, err := s.transition(ctx, "auto_release",
		ModeCondition{ConversationID: id, From: []models.Mode{models.ModeHuman}, IdleBefore: cutoff},
		ModeChange{To: models.ModeAI},
	)
	if err != nil || !applied {
		return applied, err
	}
	s.handback(ctx, id)
	return true, nil
}

// Pause disables auto-reply without assigning an operator (ai -> paused).
func (s *ConversationService) Pause(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, "pause",
		ModeCondition{ConversationID: id, From: []models.Mode{models.ModeAI}, NotArchived: true},
		ModeChange{To: models.ModePaused},
	)
}

// Resume re-enables the responder (paused -> ai).
func (s *ConversationService) Resume(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, "resume",
		ModeCondition{ConversationID: id, From: []models.Mode{models.ModePaused}, NotArchived: true},
		ModeChange{To: models.ModeAI},
	)
}

// Archive closes a conversation that is not under human control. The next
// message from the same customer opens a new conversation.
func (s *ConversationService) Archive(ctx context.Context, id string) (bool, error) {
	applied, err := s.conversations.Archive(ctx, id, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to archive conversation: %w", err)
	}
	Transitions.WithLabelValues("archive", appliedLabel(applied)).Inc()
	if applied {
		slog.Info("Conversation archived", "conversationID", id)
	}
	return applied, nil
}

func (s *ConversationService) transition(ctx context.Context, kind string, cond ModeCondition, change ModeChange) (bool, error) {
	if change.At.IsZero() {
		change.At = s.now()
	}

	applied, err := s.conversations.Transition(ctx, cond, change)
	if err != nil {
		return false, fmt.Errorf("failed to apply %s: %w", kind, err)
	}
	Transitions.WithLabelValues(kind, appliedLabel(applied)).Inc()

	if !applied {
		slog.Debug("Conversation transition not applied",
			"conversationID", cond.ConversationID,
			"kind", kind,
		)
		return false, nil
	}

	slog.Info("Conversation mode changed",
		"conversationID", cond.ConversationID,
		"kind", kind,
		"mode", change.To,
		"operatorID", change.OperatorID,
	)
	if conv, err := s.conversations.Get(ctx, cond.ConversationID); err == nil {
		s.notifier.Publish(conv.TenantID, EventModeChange, ModeChangeEvent{
			ConversationID: conv.ID,
			Mode:           change.To,
			OperatorID:     change.OperatorID,
			Kind:           kind,
		})
	}
	return true, nil
}

// handback appends the system handback message and attempts delivery. A
// delivery failure does not undo the release.
func (s *ConversationService) handback(ctx context.Context, id string) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		slog.Error("Failed to load conversation for handback", "conversationID", id, "error", err)
		return
	}

	text := models.DefaultHandbackMessage
	if tenant, err := s.tenants.GetTenant(ctx, conv.TenantID); err == nil {
		text = tenant.WithDefaults().HandbackMessage
	} else {
		slog.Warn("Using default handback message", "tenantID", conv.TenantID, "error", err)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Direction:      models.DirectionOutbound,
		Text:           text,
		ProducedBy:     models.ProducedBySystem,
		Timestamp:      s.now(),
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to save handback message", "conversationID", conv.ID, "error", err)
		return
	}
	s.notifier.Publish(conv.TenantID, EventMessage, msg)

	if err := s.deliverer.Deliver(ctx, conv, text); err != nil {
		slog.Warn("Failed to deliver handback message",
			"conversationID", conv.ID,
			"tenantID", conv.TenantID,
			"error", err,
		)
	}
}

// OperatorReply records and delivers a message from the operator in control.
// It also refreshes last_activity_at, which keeps the sweeper away.
func (s *ConversationService) OperatorReply(ctx context.Context, id, operatorID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyReply
	}

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Mode != models.ModeHuman || conv.AssignedOperatorID != operatorID {
		return nil, ErrNotAssigned
	}

	now := s.now()
	touched, err := s.conversations.TouchActivity(ctx, id, now, models.ModeHuman)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh activity: %w", err)
	}
	if !touched {
		return nil, ErrNotAssigned
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Direction:      models.DirectionOutbound,
		Text:           text,
		ProducedBy:     models.ProducedByOperator,
		OperatorID:     operatorID,
		Timestamp:      now,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save operator message: %w", err)
	}
	s.notifier.Publish(conv.TenantID, EventMessage, msg)

	if err := s.deliverer.Deliver(ctx, conv, text); err != nil {
		slog.Warn("Failed to deliver operator message",
			"conversationID", conv.ID,
			"operatorID", operatorID,
			"error", err,
		)
	}
	return msg, nil
}

// DetectEscalation flags the conversation when text matches one of the
// tenant's escalation keywords. It flags at most once per episode; the
// returned bool reports whether this call raised the flag.
func (s *ConversationService) DetectEscalation(ctx context.Context, conv *models.Conversation, keywords []string, text string) (string, bool, error) {
	if conv.Mode != models.ModeAI || conv.EscalationRequested {
		return "", false, nil
	}
	keyword, ok := MatchesAny(text, keywords)
	if !ok {
		return "", false, nil
	}

	reason := fmt.Sprintf("keyword %q", keyword)
	applied, err := s.conversations.FlagEscalation(ctx, conv.ID, reason, s.now())
	if err != nil {
		return keyword, false, fmt.Errorf("failed to flag escalation: %w", err)
	}
	if !applied {
		return keyword, false, nil
	}

	Escalations.Inc()
	slog.Info("Escalation requested",
		"conversationID", conv.ID,
		"tenantID", conv.TenantID,
		"keyword", keyword,
	)
	s.notifier.Publish(conv.TenantID, EventEscalation, map[string]string{
		"conversation_id": conv.ID,
		"reason":          reason,
	})
	return keyword, true, nil
}
