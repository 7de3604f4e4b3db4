package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ultranesh/edbase/internal/auth"
	"github.com/ultranesh/edbase/internal/conversation"
	"github.com/ultranesh/edbase/internal/graph"
	"github.com/ultranesh/edbase/internal/message"
	"github.com/ultranesh/edbase/internal/metrics"
	"github.com/ultranesh/edbase/internal/webhook"
)

// SendHandler posts operator messages to the vendor and records them.
type SendHandler struct {
	conversations *conversation.Service
	messages      *message.Store
	graph         *graph.Client
	logger        *slog.Logger
}

// NewSendHandler creates a SendHandler.
func NewSendHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Store, graphClient *graph.Client) *SendHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SendHandler{
		conversations: conversations,
		messages:      messages,
		graph:         graphClient,
		logger:        log.With(slog.String("handler", "send")),
	}
}

// Register registers the send route.
func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/conversations/:id/messages", h.Send)
}

type sendRequest struct {
	Type     string               `json:"type" validate:"required,oneof=text image video audio document sticker template"`
	Text     string               `json:"text" validate:"required_if=Type text"`
	MediaURL string               `json:"media_url" validate:"omitempty,url"`
	MediaID  string               `json:"media_id"`
	MimeType string               `json:"mime_type"`
	Caption  string               `json:"caption"`
	Filename string               `json:"filename"`
	Template *sendTemplateRequest `json:"template" validate:"required_if=Type template"`
}

type sendTemplateRequest struct {
	Name     string   `json:"name" validate:"required"`
	Language string   `json:"language" validate:"required"`
	Params   []string `json:"params"`
}

// Send delivers one operator message. The vendor call happens first; only
// an accepted message is persisted, carrying the vendor id receipts will
// later reference.
//
// @Summary Send an operator message
// @Tags messages
// @Accept json
// @Produce json
// @Param id path string true "conversation id"
// @Param body body sendRequest true "message to send"
// @Success 201 {object} message.Message
// @Failure 409 {object} echo.HTTPError
// @Failure 502 {object} echo.HTTPError
// @Security BearerAuth
// @Router /conversations/{id}/messages [post]
func (h *SendHandler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	conv, err := h.conversations.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if conv.Blocked {
		return echo.NewHTTPError(http.StatusConflict, "conversation is blocked")
	}

	senderID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	vendorID, draft, err := h.dispatch(c, conv, req)
	if err != nil {
		var sendErr *graph.SendError
		if errors.As(err, &sendErr) {
			metrics.SendFailures.WithLabelValues(conv.Platform.String()).Inc()
			h.logger.Warn("vendor rejected send",
				slog.String("conversation_id", conv.ID),
				slog.String("platform", conv.Platform.String()),
				slog.Any("error", sendErr),
			)
			return echo.NewHTTPError(http.StatusBadGateway, sendErr.Message)
		}
		return err
	}
	draft.SenderID = senderID

	msg, err := h.messages.RecordOutgoing(ctx, conv, vendorID, draft)
	if err != nil {
		// The vendor accepted the message but we lost the record; surface
		// loudly, the thread is now ahead of the store.
		h.logger.Error("outgoing message not recorded",
			slog.String("conversation_id", conv.ID),
			slog.String("vendor_message_id", vendorID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "message sent but not recorded")
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *SendHandler) dispatch(c echo.Context, conv conversation.Conversation, req sendRequest) (string, message.OutgoingDraft, error) {
	ctx := c.Request().Context()

	switch req.Type {
	case "text":
		vendorID, err := h.graph.SendText(ctx, conv.Platform, conv.ExternalUserID, req.Text)
		return vendorID, message.OutgoingDraft{Type: webhook.TypeText, Body: req.Text}, err

	case "template":
		if conv.Platform != webhook.PlatformWhatsApp {
			return "", message.OutgoingDraft{}, echo.NewHTTPError(http.StatusBadRequest, "templates are a whatsapp feature")
		}
		vendorID, err := h.graph.SendTemplate(ctx, conv.ExternalUserID, req.Template.Name, req.Template.Language, req.Template.Params)
		return vendorID, message.OutgoingDraft{Type: webhook.TypeTemplate, Body: req.Template.Name}, err

	default:
		if req.MediaURL == "" && req.MediaID == "" {
			return "", message.OutgoingDraft{}, echo.NewHTTPError(http.StatusBadRequest, "media_url or media_id is required")
		}
		kind := webhook.MessageType(req.Type)
		vendorID, err := h.graph.SendMedia(ctx, conv.Platform, conv.ExternalUserID, graph.MediaDraft{
			Kind:          kind,
			URL:           req.MediaURL,
			VendorMediaID: req.MediaID,
			Mime:          req.MimeType,
			Caption:       req.Caption,
			Filename:      req.Filename,
		})
		draft := message.OutgoingDraft{
			Type:     kind,
			MediaID:  req.MediaID,
			MediaURL: req.MediaURL,
			MimeType: req.MimeType,
			Caption:  req.Caption,
			Filename: req.Filename,
		}
		return vendorID, draft, err
	}
}
