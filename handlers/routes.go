package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the operator API under /api behind auth.
func RegisterRoutes(app *fiber.App, h *Handler, auth fiber.Handler) {
	api := app.Group("/api", auth)

	api.Post("/inbound", h.HandleInbound)

	conversations := api.Group("/conversations")
	conversations.Get("/:id", h.GetConversation)
	conversations.Get("/:id/messages", h.GetConversationMessages)
	conversations.Post("/:id/takeover", h.Takeover)
	conversations.Post("/:id/release", h.Release)
	conversations.Post("/:id/pause", h.Pause)
	conversations.Post("/:id/resume", h.Resume)
	conversations.Post("/:id/archive", h.Archive)
	conversations.Post("/:id/reply", h.Reply)

	catalog := api.Group("/catalog")
	catalog.Get("/search", h.SearchCatalog)
	catalog.Post("/items", h.IngestItems)

	recommendations := api.Group("/recommendations")
	recommendations.Post("/:id/click", h.MarkRecommendationClicked)
	recommendations.Post("/:id/purchase", h.MarkRecommendationPurchased)

	if h.WebSockets != nil {
		api.Get("/ws", WebSocketUpgrade, websocket.New(h.HandleWebSocket))
	}
}
