// Package api provides HTTP handlers for the gateway.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/llmgate/gateway"
)

// Handler handles HTTP requests.
type Handler struct {
	gateway *gateway.Service
}

// NewHandler creates a new handler.
func NewHandler(gw *gateway.Service) *Handler {
	return &Handler{gateway: gw}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/models", h.ListModels)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.POST("/v1/sessions/:session_id/stream", h.InitiateStream)
	e.POST("/v1/chat", h.Chat)
	e.GET("/v1/usage", h.GetUsage)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
