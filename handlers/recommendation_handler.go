package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// MarkRecommendationClicked sets the clicked flag of a recommendation event
func (h *Handler) MarkRecommendationClicked(c *fiber.Ctx) error {
	return h.markRecommendation(c, h.Store.MarkClicked)
}

// MarkRecommendationPurchased sets the purchased flag of a recommendation event
func (h *Handler) MarkRecommendationPurchased(c *fiber.Ctx) error {
	return h.markRecommendation(c, h.Store.MarkPurchased)
}

func (h *Handler) markRecommendation(c *fiber.Ctx, mark func(ctx context.Context, tenantID, id string, at time.Time) (bool, error)) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	updated, err := mark(ctx, tenantID(c), c.Params("id"), time.Now())
	if err != nil {
		return storeError(c, err, "update recommendation")
	}

	return c.JSON(fiber.Map{
		"id":      c.Params("id"),
		"updated": updated,
	})
}
