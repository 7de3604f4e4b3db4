package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ultranesh/edbase/internal/auth"
	"github.com/ultranesh/edbase/internal/conversation"
	"github.com/ultranesh/edbase/internal/message"
)

// ConversationHandler serves the operator inbox: listing threads, message
// history, block and lead management, and websocket room token issuance.
type ConversationHandler struct {
	conversations *conversation.Service
	messages      *message.Store
	roomTokens    *auth.RoomTokens
	logger        *slog.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Store, roomTokens *auth.RoomTokens) *ConversationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		roomTokens:    roomTokens,
		logger:        log.With(slog.String("handler", "conversation")),
	}
}

// Register registers the conversation routes.
func (h *ConversationHandler) Register(e *echo.Echo) {
	e.GET("/conversations", h.List)
	e.GET("/conversations/:id", h.Get)
	e.POST("/conversations/:id/block", h.SetBlocked)
	e.POST("/conversations/:id/lead", h.LinkLead)
	e.POST("/conversations/:id/read", h.MarkRead)
	e.GET("/conversations/:id/messages", h.ListMessages)
	e.POST("/conversations/:id/room-token", h.IssueRoomToken)
}

// List returns conversations ordered by last activity.
//
// @Summary List conversations ordered by last message
// @Tags conversations
// @Produce json
// @Param limit query int false "maximum number of conversations"
// @Success 200 {array} conversation.Conversation
// @Security BearerAuth
// @Router /conversations [get]
func (h *ConversationHandler) List(c echo.Context) error {
	limit := int32(100)
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = int32(parsed)
	}
	conversations, err := h.conversations.List(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("list conversations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list conversations failed")
	}
	if conversations == nil {
		conversations = []conversation.Conversation{}
	}
	return c.JSON(http.StatusOK, conversations)
}

// Get returns one conversation.
//
// @Summary Get one conversation
// @Tags conversations
// @Produce json
// @Param id path string true "conversation id"
// @Success 200 {object} conversation.Conversation
// @Failure 404 {object} echo.HTTPError
// @Security BearerAuth
// @Router /conversations/{id} [get]
func (h *ConversationHandler) Get(c echo.Context) error {
	conv, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

type blockRequest struct {
	Blocked bool `json:"blocked"`
}

// SetBlocked toggles the block flag.
//
// @Summary Block or unblock a conversation
// @Tags conversations
// @Accept json
// @Param id path string true "conversation id"
// @Success 200
// @Failure 404 {object} echo.HTTPError
// @Security BearerAuth
// @Router /conversations/{id}/block [post]
func (h *ConversationHandler) SetBlocked(c echo.Context) error {
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.conversations.SetBlocked(c.Request().Context(), c.Param("id"), req.Blocked); err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"blocked": req.Blocked})
}

type leadRequest struct {
	LeadID string `json:"lead_id"`
}

// LinkLead attaches or detaches a CRM lead reference.
//
// @Summary Attach or detach a CRM lead
// @Tags conversations
// @Accept json
// @Param id path string true "conversation id"
// @Success 204
// @Failure 404 {object} echo.HTTPError
// @Security BearerAuth
// @Router /conversations/{id}/lead [post]
func (h *ConversationHandler) LinkLead(c echo.Context) error {
	var req leadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.conversations.LinkLead(c.Request().Context(), c.Param("id"), req.LeadID); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkRead resets the unread counter.
//
// @Summary Reset the unread counter
// @Tags conversations
// @Param id path string true "conversation id"
// @Success 204
// @Failure 404 {object} echo.HTTPError
// @Security BearerAuth
// @Router /conversations/{id}/read [post]
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	if err := h.conversations.MarkRead(c.Request().Context(), c.Param("id")); err != nil {
		return h.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMessages returns message history in ascending creation order.
// Pagination walks backwards with ?before=<RFC3339 timestamp>.
//
// @Summary List message history
// @Tags messages
// @Produce json
// @Param id path string true "conversation id"
// @Param before query string false "RFC3339 cursor, messages created before it"
// @Param limit query int false "page size"
// @Success 200 {array} message.Message
// @Security BearerAuth
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	conv, err := h.lookup(c)
	if err != nil {
		return err
	}

	var before time.Time
	if raw := c.QueryParam("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before cursor")
		}
		before = parsed
	}
	limit := int32(50)
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = int32(parsed)
	}

	items, err := h.messages.ListByConversation(c.Request().Context(), conv.ID, before, limit)
	if err != nil {
		h.logger.Error("list messages failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "list messages failed")
	}
	if items == nil {
		items = []message.Message{}
	}
	return c.JSON(http.StatusOK, items)
}

type roomTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueRoomToken grants a websocket subscription to this conversation.
//
// @Summary Issue a websocket room token for one conversation
// @Tags realtime
// @Produce json
// @Param id path string true "conversation id"
// @Success 200 {object} roomTokenResponse
// @Failure 404 {object} echo.HTTPError
// @Security BearerAuth
// @Router /conversations/{id}/room-token [post]
func (h *ConversationHandler) IssueRoomToken(c echo.Context) error {
	conv, err := h.lookup(c)
	if err != nil {
		return err
	}
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	token, expiresAt, err := h.roomTokens.Issue(conv.ID, userID)
	if err != nil {
		h.logger.Error("room token issue failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "room token issue failed")
	}
	return c.JSON(http.StatusOK, roomTokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *ConversationHandler) lookup(c echo.Context) (conversation.Conversation, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return conversation.Conversation{}, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	conv, err := h.conversations.Get(c.Request().Context(), id)
	if err != nil {
		return conversation.Conversation{}, h.mapError(err)
	}
	return conv, nil
}

func (h *ConversationHandler) mapError(err error) error {
	if errors.Is(err, conversation.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if strings.Contains(err.Error(), "invalid") {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Error("conversation operation failed", slog.Any("error", err))
	return echo.NewHTTPError(http.StatusInternalServerError, "conversation operation failed")
}
