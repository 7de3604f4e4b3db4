package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ultranesh/edbase/internal/config"
	"github.com/ultranesh/edbase/internal/message"
	"github.com/ultranesh/edbase/internal/metrics"
	"github.com/ultranesh/edbase/internal/webhook"
)

const signatureHeader = "X-Hub-Signature-256"

// WebhookHandler receives vendor webhook notifications. Every POST returns
// 200 regardless of outcome: a non-2xx tells the vendor to replay the
// notification, and replays of a poison payload would fail forever.
type WebhookHandler struct {
	meta     config.MetaConfig
	whatsapp config.WhatsAppConfig
	pipeline *message.Pipeline
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(log *slog.Logger, cfg config.Config, pipeline *message.Pipeline) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		meta:     cfg.Meta,
		whatsapp: cfg.WhatsApp,
		pipeline: pipeline,
		logger:   log.With(slog.String("handler", "webhook")),
	}
}

// Register registers the webhook routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/meta", h.verify(func() string { return h.meta.VerifyToken }))
	e.POST("/webhooks/meta", h.ReceiveMeta)
	e.GET("/webhooks/whatsapp", h.verify(func() string { return h.whatsapp.VerifyToken }))
	e.POST("/webhooks/whatsapp", h.ReceiveWhatsApp)
}

// verify answers Meta's subscription handshake: echo hub.challenge back
// when the verify token matches.
func (h *WebhookHandler) verify(token func() string) echo.HandlerFunc {
	return func(c echo.Context) error {
		mode := c.QueryParam("hub.mode")
		verifyToken := c.QueryParam("hub.verify_token")
		if mode != "subscribe" || verifyToken == "" || verifyToken != token() {
			return echo.NewHTTPError(http.StatusForbidden, "verification failed")
		}
		return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
	}
}

// ReceiveMeta handles Messenger and Instagram notifications.
func (h *WebhookHandler) ReceiveMeta(c echo.Context) error {
	return h.receive(c, h.meta.AppSecret, func(body []byte) ([]webhook.Event, string) {
		events, err := webhook.ParseMeta(body)
		if err != nil {
			h.logger.Warn("unparseable meta payload",
				slog.String("payload_sha256", bodyHash(body)),
				slog.Any("error", err),
			)
			return nil, "meta"
		}
		return events, "meta"
	})
}

// ReceiveWhatsApp handles WhatsApp Cloud API notifications.
func (h *WebhookHandler) ReceiveWhatsApp(c echo.Context) error {
	return h.receive(c, h.whatsapp.AppSecret, func(body []byte) ([]webhook.Event, string) {
		events, err := webhook.ParseWhatsApp(body)
		if err != nil {
			h.logger.Warn("unparseable whatsapp payload",
				slog.String("payload_sha256", bodyHash(body)),
				slog.Any("error", err),
			)
			return nil, "whatsapp"
		}
		return events, "whatsapp"
	})
}

func (h *WebhookHandler) receive(c echo.Context, secret string, parse func([]byte) ([]webhook.Event, string)) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.Warn("webhook body read failed", slog.Any("error", err))
		return h.ok(c)
	}

	if !webhook.VerifySignature(body, c.Request().Header.Get(signatureHeader), secret) {
		metrics.WebhookDropped.WithLabelValues("unknown", "bad_signature").Inc()
		h.logger.Warn("webhook signature mismatch",
			slog.String("payload_sha256", bodyHash(body)),
		)
		return h.ok(c)
	}

	events, source := parse(body)
	if len(events) == 0 {
		return h.ok(c)
	}

	h.process(c, source, events)
	return h.ok(c)
}

// process shields the vendor response from anything the pipeline does,
// including panics from unexpected payload corners.
func (h *WebhookHandler) process(c echo.Context, source string, events []webhook.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("webhook processing panic",
				slog.String("source", source),
				slog.Any("panic", r),
			)
		}
	}()
	h.pipeline.Process(c.Request().Context(), events)
}

func (h *WebhookHandler) ok(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:8])
}
