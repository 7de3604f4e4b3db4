package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/swaggo/swag"

	_ "github.com/ultranesh/edbase/docs"
)

// SwaggerHandler serves the generated OpenAPI document.
type SwaggerHandler struct{}

func NewSwaggerHandler() *SwaggerHandler {
	return &SwaggerHandler{}
}

func (h *SwaggerHandler) Register(e *echo.Echo) {
	e.GET("/api/swagger.json", h.Spec)
}

func (h *SwaggerHandler) Spec(c echo.Context) error {
	doc, err := swag.ReadDoc()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "swagger document unavailable")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte(doc))
}
