package handlers

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront-agent/services"
)

type inboundRequest struct {
	CustomerID string `json:"customer_id"`
	Channel    string `json:"channel"`
	Text       string `json:"text"`
	ExternalID string `json:"external_id"`
}

// HandleInbound accepts a channel-neutral customer message for the caller's
// tenant and runs the response pipeline synchronously.
func (h *Handler) HandleInbound(c *fiber.Ctx) error {
	var req inboundRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.CustomerID == "" || strings.TrimSpace(req.Text) == "" {
		return errorResponse(c, fiber.StatusBadRequest, "customer_id and text are required")
	}
	if req.Channel == "" {
		req.Channel = "api"
	}

	result, err := h.Orchestrator.HandleInbound(c.UserContext(), services.InboundMessage{
		TenantID:   tenantID(c),
		CustomerID: req.CustomerID,
		Channel:    req.Channel,
		Text:       req.Text,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		slog.Error("Failed to handle inbound message", "tenantID", tenantID(c), "error", err)
		return storeError(c, err, "handle inbound message")
	}

	return c.JSON(result)
}
