package api

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListModels returns the model catalog.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	ctx := c.Request().Context()

	models, err := h.gateway.Store().ListModels(ctx)
	if err != nil {
		log.Printf("ERROR: failed to list models: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list models"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"models":        models,
		"default_model": h.gateway.Config().DefaultModel,
	})
}
