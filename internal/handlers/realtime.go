package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ultranesh/edbase/internal/realtime"
)

// RealtimeHandler upgrades operator connections to websockets. The upgrade
// happens behind JWT auth; room membership is gated per room inside the
// connection.
type RealtimeHandler struct {
	hub      *realtime.Hub
	tokens   realtime.RoomTokenVerifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewRealtimeHandler creates a RealtimeHandler.
func NewRealtimeHandler(log *slog.Logger, hub *realtime.Hub, tokens realtime.RoomTokenVerifier) *RealtimeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RealtimeHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: log.With(slog.String("handler", "realtime")),
	}
}

// Register registers the websocket route.
func (h *RealtimeHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// Connect upgrades the request and serves the connection until it drops.
func (h *RealtimeHandler) Connect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade failed")
	}
	client := realtime.NewClient(h.hub, conn, h.tokens)
	client.Serve()
	return nil
}
