package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront-agent/services"
)

const requestTimeout = 10 * time.Second

// Handler serves the operator API.
type Handler struct {
	Store         services.Store
	Conversations *services.ConversationService
	Catalog       *services.CatalogService
	Retriever     *services.Retriever
	Orchestrator  *services.Orchestrator
	WebSockets    *services.WebSocketManager
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

func localString(c *fiber.Ctx, key string) string {
	v, _ := c.Locals(key).(string)
	return v
}

func tenantID(c *fiber.Ctx) string   { return localString(c, "tenant_id") }
func operatorID(c *fiber.Ctx) string { return localString(c, "operator_id") }

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// storeError maps store errors to responses; anything unexpected is a 500.
func storeError(c *fiber.Ctx, err error, action string) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return errorResponse(c, fiber.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrTenantNotFound):
		return errorResponse(c, fiber.StatusNotFound, "Tenant not found")
	}
	slog.Error("Request failed", "action", action, "error", err)
	return errorResponse(c, fiber.StatusInternalServerError, "Failed to "+action)
}
