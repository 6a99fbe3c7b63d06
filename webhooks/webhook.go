package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront-agent/config"
	"storefront-agent/services"
)

const processTimeout = 90 * time.Second

// InboundHandler runs the response pipeline for one customer message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in services.InboundMessage) (*services.InboundResult, error)
}

// Processor turns Messenger events into channel-neutral inbound messages.
type Processor struct {
	tenants         services.TenantStore
	inbound         InboundHandler
	defaultTenantID string
}

func NewProcessor(tenants services.TenantStore, inbound InboundHandler, defaultTenantID string) *Processor {
	return &Processor{tenants: tenants, inbound: inbound, defaultTenantID: defaultTenantID}
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, p *Processor) {
	webhook := app.Group("/webhook")

	// Webhook verification endpoint
	webhook.Get("/", verifyWebhook(cfg))

	// Webhook event handler
	webhook.Post("/", handleWebhookEvent(p))
}

// verifyWebhook handles Facebook webhook verification
func verifyWebhook(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		challenge := c.Query("hub.challenge")

		if mode == "subscribe" && token == cfg.VerifyToken {
			slog.Info("Webhook verified successfully")
			return c.SendString(challenge)
		}

		slog.Warn("Webhook verification failed", "mode", mode)
		return c.SendStatus(fiber.StatusForbidden)
	}
}

// handleWebhookEvent processes incoming webhook events
func handleWebhookEvent(p *Processor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body WebhookEvent
		if err := c.BodyParser(&body); err != nil {
			slog.Error("Failed to parse webhook body", "error", err)
			return c.SendStatus(fiber.StatusBadRequest)
		}

		// Only process page events
		if body.Object != "page" {
			return c.SendStatus(fiber.StatusNotFound)
		}

		// Return immediately to Facebook
		go p.Process(context.Background(), body)

		return c.SendString("EVENT_RECEIVED")
	}
}

// Process handles every customer message in the event. A failure or panic
// for one message is logged and does not affect the others.
func (p *Processor) Process(ctx context.Context, body WebhookEvent) {
	for _, entry := range body.Entry {
		for _, messaging := range entry.Messaging {
			if messaging.Message == nil || messaging.Message.IsEcho {
				continue
			}
			if strings.TrimSpace(messaging.Message.Text) == "" {
				slog.Debug("Skipping message without text", "pageID", entry.ID, "mid", messaging.Message.MID)
				continue
			}
			p.processMessage(ctx, entry.ID, messaging)
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, pageID string, messaging Messaging) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while processing webhook message", "pageID", pageID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	tenantID, err := p.resolveTenant(ctx, pageID)
	if err != nil {
		slog.Warn("No tenant for page, dropping message", "pageID", pageID, "error", err)
		return
	}

	ts := time.Now()
	if messaging.Timestamp > 0 {
		ts = time.UnixMilli(messaging.Timestamp)
	}

	result, err := p.inbound.HandleInbound(ctx, services.InboundMessage{
		TenantID:   tenantID,
		CustomerID: messaging.Sender.ID,
		Channel:    "messenger",
		Text:       messaging.Message.Text,
		ExternalID: messaging.Message.MID,
		Timestamp:  ts,
	})
	if err != nil {
		slog.Error("Failed to handle messenger message",
			"pageID", pageID,
			"tenantID", tenantID,
			"error", err,
		)
		return
	}

	slog.Info("Messenger message processed",
		"pageID", pageID,
		"conversationID", result.ConversationID,
		"outcome", result.Outcome,
	)
}

func (p *Processor) resolveTenant(ctx context.Context, pageID string) (string, error) {
	tenant, err := p.tenants.GetTenantByPageID(ctx, pageID)
	if err == nil {
		return tenant.TenantID, nil
	}
	if errors.Is(err, services.ErrTenantNotFound) && p.defaultTenantID != "" {
		return p.defaultTenantID, nil
	}
	return "", err
}
