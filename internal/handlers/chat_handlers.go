// Package handlers exposes the local synchronized view to the UI layer over
// HTTP. It is a thin translation layer; all state lives in the session
// controller.
package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-sync/internal/chat"
)

// Handler routes UI requests into the session controller.
type Handler struct {
	session *chat.Controller
}

// New builds the handler set.
func New(session *chat.Controller) *Handler {
	return &Handler{session: session}
}

// Register mounts the routes.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/api/chats", h.listChats)
	app.Post("/api/chats", h.createChat)
	app.Post("/api/chats/:id/open", h.openChat)
	app.Post("/api/session/close", h.closeChat)
	app.Get("/api/chats/:id/messages", h.listMessages)
	app.Post("/api/messages", h.sendMessage)
	app.Post("/api/messages/:clientId/retry", h.retrySend)
	app.Delete("/api/messages/:clientId", h.dismissSend)
	app.Post("/api/chats/:id/read", h.markRead)
	app.Post("/api/read-all", h.markAllRead)
	app.Post("/api/typing", h.typing)
	app.Post("/api/history/older", h.loadOlder)
	app.Get("/api/chats/:id/search", h.search)
	app.Get("/api/chats/:id/typing", h.typingUsers)
	app.Get("/api/unread", h.unread)
	app.Get("/api/drafts/:id", h.getDraft)
	app.Put("/api/drafts/:id", h.putDraft)
	app.Get("/api/settings", h.getSettings)
	app.Put("/api/settings", h.putSettings)
	app.Get("/api/status", h.status)
}

// GET /api/chats
func (h *Handler) listChats(c *fiber.Ctx) error {
	return c.JSON(h.session.Chats())
}

// POST /api/chats
func (h *Handler) createChat(c *fiber.Ctx) error {
	var data chat.ChatCreate
	if err := c.BodyParser(&data); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	created, err := h.session.CreateChat(c.Context(), data)
	if err != nil {
		return toHTTP(err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// POST /api/chats/:id/open
func (h *Handler) openChat(c *fiber.Ctx) error {
	snapshot, err := h.session.Open(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(snapshot)
}

// POST /api/session/close
func (h *Handler) closeChat(c *fiber.Ctx) error {
	if err := h.session.Close(c.Context()); err != nil {
		return toHTTP(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/chats/:id/messages?grouped=1
func (h *Handler) listMessages(c *fiber.Ctx) error {
	chatID := c.Params("id")
	if c.QueryBool("grouped") {
		return c.JSON(h.session.MessagesByDate(chatID))
	}
	return c.JSON(h.session.Messages(chatID))
}

type sendBody struct {
	Content   string           `json:"content"`
	Type      chat.MessageType `json:"type"`
	ReplyToID string           `json:"reply_to_id"`
}

// POST /api/messages
func (h *Handler) sendMessage(c *fiber.Ctx) error {
	var body sendBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	msg, err := h.session.Send(c.Context(), body.Content, body.Type, body.ReplyToID)
	if err != nil {
		return toHTTP(err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// POST /api/messages/:clientId/retry
func (h *Handler) retrySend(c *fiber.Ctx) error {
	msg, err := h.session.RetrySend(c.Context(), c.Params("clientId"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(msg)
}

// DELETE /api/messages/:clientId
func (h *Handler) dismissSend(c *fiber.Ctx) error {
	h.session.DismissSend(c.Params("clientId"))
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /api/chats/:id/read
func (h *Handler) markRead(c *fiber.Ctx) error {
	if err := h.session.MarkRead(c.Context(), c.Params("id")); err != nil {
		return toHTTP(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /api/read-all
func (h *Handler) markAllRead(c *fiber.Ctx) error {
	if err := h.session.MarkAllRead(c.Context()); err != nil {
		return toHTTP(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type typingBody struct {
	IsTyping bool `json:"is_typing"`
}

// POST /api/typing
func (h *Handler) typing(c *fiber.Ctx) error {
	var body typingBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := h.session.Typing(body.IsTyping); err != nil {
		return toHTTP(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// POST /api/history/older
func (h *Handler) loadOlder(c *fiber.Ctx) error {
	if err := h.session.LoadOlder(c.Context()); err != nil {
		return toHTTP(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/chats/:id/search?term=&page=&size=
func (h *Handler) search(c *fiber.Ctx) error {
	term := strings.TrimSpace(c.Query("term"))
	page := chat.Page{Page: c.QueryInt("page", 1), Size: c.QueryInt("size", 0)}
	hits, err := h.session.Search(c.Context(), c.Params("id"), term, page)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(fiber.Map{"content": hits})
}

// GET /api/chats/:id/typing
func (h *Handler) typingUsers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"users": h.session.TypingUsers(c.Params("id"))})
}

// GET /api/unread
func (h *Handler) unread(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"total":    h.session.UnreadTotal(),
		"per_chat": h.session.UnreadCounts(),
	})
}

// GET /api/drafts/:id
func (h *Handler) getDraft(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"text": h.session.Draft(c.Params("id"))})
}

type draftBody struct {
	Text string `json:"text"`
}

// PUT /api/drafts/:id
func (h *Handler) putDraft(c *fiber.Ctx) error {
	var body draftBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	h.session.SaveDraft(c.Params("id"), body.Text)
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/settings
func (h *Handler) getSettings(c *fiber.Ctx) error {
	settings, err := h.session.Settings(c.Context())
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(settings)
}

// PUT /api/settings
func (h *Handler) putSettings(c *fiber.Ctx) error {
	var settings chat.Settings
	if err := c.BodyParser(&settings); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := h.session.SaveSettings(c.Context(), settings); err != nil {
		return toHTTP(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/status
func (h *Handler) status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected":   h.session.Connected(),
		"active_chat": h.session.ActiveChat(),
	})
}

func toHTTP(err error) error {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	switch ce.Code {
	case chat.CodeNotFound:
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case chat.CodeValidation:
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case chat.CodeNetwork, chat.CodeTransportDown:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
