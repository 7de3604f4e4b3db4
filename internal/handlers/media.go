package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ultranesh/edbase/internal/mediaproxy"
	"github.com/ultranesh/edbase/internal/webhook"
)

// MediaHandler streams vendor media through the proxy so browser clients
// never touch short-lived signed CDN URLs directly.
type MediaHandler struct {
	proxy  *mediaproxy.Service
	logger *slog.Logger
}

// NewMediaHandler creates a MediaHandler.
func NewMediaHandler(log *slog.Logger, proxy *mediaproxy.Service) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		proxy:  proxy,
		logger: log.With(slog.String("handler", "media")),
	}
}

// Register registers the media routes.
func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media/:platform/:media_id", h.StreamByID)
	e.GET("/media", h.StreamByURL)
}

// StreamByID serves media addressed by a stable vendor media id.
//
// @Summary Stream vendor media by id
// @Tags media
// @Param platform path string true "platform"
// @Param media_id path string true "vendor media id"
// @Param Range header string false "byte range"
// @Success 200
// @Success 206
// @Failure 404 {object} echo.HTTPError
// @Security BearerAuth
// @Router /media/{platform}/{media_id} [get]
func (h *MediaHandler) StreamByID(c echo.Context) error {
	platform := webhook.Platform(c.Param("platform"))
	switch platform {
	case webhook.PlatformMessenger, webhook.PlatformInstagram, webhook.PlatformWhatsApp:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown platform")
	}
	mediaID := strings.TrimSpace(c.Param("media_id"))
	if mediaID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "media id is required")
	}

	stream, err := h.proxy.StreamByID(c.Request().Context(), platform, mediaID, c.Request().Header.Get("Range"))
	if err != nil {
		return h.mapError(err)
	}
	return h.relay(c, stream)
}

// StreamByURL serves legacy records that stored a direct CDN URL.
func (h *MediaHandler) StreamByURL(c echo.Context) error {
	rawURL := c.QueryParam("url")
	if rawURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	stream, err := h.proxy.StreamByURL(c.Request().Context(), rawURL, c.Request().Header.Get("Range"))
	if err != nil {
		return h.mapError(err)
	}
	return h.relay(c, stream)
}

func (h *MediaHandler) relay(c echo.Context, stream *mediaproxy.Stream) error {
	defer func() {
		_ = stream.Body.Close()
	}()
	header := c.Response().Header()
	header.Set("Accept-Ranges", "bytes")
	if stream.ContentLength != "" {
		header.Set("Content-Length", stream.ContentLength)
	}
	if stream.ContentRange != "" {
		header.Set("Content-Range", stream.ContentRange)
	}
	contentType := stream.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("Content-Type", contentType)
	c.Response().WriteHeader(stream.StatusCode)
	_, err := io.Copy(c.Response(), stream.Body)
	return err
}

func (h *MediaHandler) mapError(err error) error {
	switch {
	case errors.Is(err, mediaproxy.ErrHostNotAllowed):
		return echo.NewHTTPError(http.StatusForbidden, "media host not allowed")
	case errors.Is(err, mediaproxy.ErrMediaNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	default:
		h.logger.Error("media stream failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "media fetch failed")
	}
}
