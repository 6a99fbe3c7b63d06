package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront-agent/services"
)

const APIKeyHeader = "X-API-Key"

// RequireAPIKey authenticates an operator by API key and stores the operator
// and tenant in locals for downstream handlers. The key may also be passed as
// the api_key query parameter, which browsers need for WebSocket upgrades.
func RequireAPIKey(operators services.OperatorStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(APIKeyHeader)
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		op, err := services.AuthenticateOperator(ctx, operators, key)
		if err != nil {
			if !errors.Is(err, services.ErrInvalidAPIKey) {
				slog.Error("Failed to authenticate operator", "error", err)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		c.Locals("operator_id", op.ID)
		c.Locals("tenant_id", op.TenantID)
		c.Locals("operator_name", op.Name)

		return c.Next()
	}
}
