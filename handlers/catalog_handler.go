package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"storefront-agent/services"
)

// SearchCatalog runs an exact-search lookup for the operator's tenant
func (h *Handler) SearchCatalog(c *fiber.Ctx) error {
	query := c.Query("q")

	ctx, cancel := requestContext(c)
	defer cancel()

	candidates, err := h.Retriever.ExactSearch(ctx, tenantID(c), query)
	if errors.Is(err, services.ErrEmptyQuery) {
		return errorResponse(c, fiber.StatusBadRequest, "Query parameter q is required")
	}
	if err != nil {
		slog.Error("Catalog search failed", "tenantID", tenantID(c), "error", err)
		return errorResponse(c, fiber.StatusBadGateway, "Catalog search is unavailable")
	}
	if candidates == nil {
		candidates = []services.Candidate{}
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": candidates,
		"count":   len(candidates),
	})
}

// IngestItems accepts one item or an array of items from the import collaborator
func (h *Handler) IngestItems(c *fiber.Ctx) error {
	var items []services.ItemInput
	body := c.Body()
	if len(body) > 0 && body[0] == '{' {
		var one services.ItemInput
		if err := c.BodyParser(&one); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
		}
		items = append(items, one)
	} else if err := c.BodyParser(&items); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(items) == 0 {
		return errorResponse(c, fiber.StatusBadRequest, "No items provided")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	type ingested struct {
		ID             string `json:"id"`
		ExternalID     string `json:"external_id,omitempty"`
		ContentVersion int64  `json:"content_version"`
		Stale          bool   `json:"stale"`
	}
	results := make([]ingested, 0, len(items))
	for _, in := range items {
		item, err := h.Catalog.Ingest(ctx, tenantID(c), in)
		if err != nil {
			slog.Error("Failed to ingest catalog item", "externalID", in.ExternalID, "error", err)
			return errorResponse(c, fiber.StatusBadRequest, err.Error())
		}
		results = append(results, ingested{
			ID:             item.ID,
			ExternalID:     item.ExternalID,
			ContentVersion: item.ContentVersion,
			Stale:          item.IsStale(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"items": results,
		"count": len(results),
	})
}
