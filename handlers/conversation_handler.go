package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"storefront-agent/models"
	"storefront-agent/services"
)

// GetConversation returns one conversation of the operator's tenant
func (h *Handler) GetConversation(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.Conversations.Get(ctx, tenantID(c), c.Params("id"))
	if err != nil {
		return storeError(c, err, "retrieve conversation")
	}
	return c.JSON(conv)
}

// GetConversationMessages returns the latest messages, oldest first
func (h *Handler) GetConversationMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.Conversations.Get(ctx, tenantID(c), c.Params("id"))
	if err != nil {
		return storeError(c, err, "retrieve conversation")
	}

	messages, err := h.Store.RecentMessages(ctx, conv.ID, limit)
	if err != nil {
		return storeError(c, err, "retrieve messages")
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return c.JSON(fiber.Map{
		"conversation_id": conv.ID,
		"messages":        messages,
		"count":           len(messages),
	})
}

func (h *Handler) Takeover(c *fiber.Ctx) error {
	return h.transition(c, "take over conversation", func(ctx context.Context, id string) (bool, error) {
		return h.Conversations.Takeover(ctx, id, operatorID(c))
	})
}

func (h *Handler) Release(c *fiber.Ctx) error {
	return h.transition(c, "release conversation", func(ctx context.Context, id string) (bool, error) {
		return h.Conversations.Release(ctx, id, operatorID(c))
	})
}

func (h *Handler) Pause(c *fiber.Ctx) error {
	return h.transition(c, "pause conversation", h.Conversations.Pause)
}

func (h *Handler) Resume(c *fiber.Ctx) error {
	return h.transition(c, "resume conversation", h.Conversations.Resume)
}

func (h *Handler) Archive(c *fiber.Ctx) error {
	return h.transition(c, "archive conversation", h.Conversations.Archive)
}

// transition runs a conditional transition. A precondition miss is 409 with
// applied=false and the current state, so the caller can see who won.
func (h *Handler) transition(c *fiber.Ctx, action string, apply func(ctx context.Context, id string) (bool, error)) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.Conversations.Get(ctx, tenantID(c), c.Params("id"))
	if err != nil {
		return storeError(c, err, action)
	}

	applied, err := apply(ctx, conv.ID)
	if err != nil {
		return storeError(c, err, action)
	}

	current, err := h.Store.Get(ctx, conv.ID)
	if err != nil {
		return storeError(c, err, action)
	}

	status := fiber.StatusOK
	if !applied {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{
		"applied":      applied,
		"conversation": current,
	})
}

type replyRequest struct {
	Text string `json:"text"`
}

// Reply sends a message from the operator in control of the conversation
func (h *Handler) Reply(c *fiber.Ctx) error {
	var req replyRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.Conversations.Get(ctx, tenantID(c), c.Params("id"))
	if err != nil {
		return storeError(c, err, "send reply")
	}

	msg, err := h.Conversations.OperatorReply(ctx, conv.ID, operatorID(c), req.Text)
	switch {
	case errors.Is(err, services.ErrEmptyReply):
		return errorResponse(c, fiber.StatusBadRequest, "Text is required")
	case errors.Is(err, services.ErrNotAssigned):
		return errorResponse(c, fiber.StatusConflict, "Take over the conversation before replying")
	case err != nil:
		return storeError(c, err, "send reply")
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}
