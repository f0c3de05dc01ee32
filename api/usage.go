package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// GetUsage returns usage records, optionally filtered by session, plus the
// per-model summary.
// GET /v1/usage
func (h *Handler) GetUsage(c echo.Context) error {
	ctx := c.Request().Context()

	sessionID := c.QueryParam("session_id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	records, err := h.gateway.Store().GetUsage(ctx, sessionID, limit)
	if err != nil {
		log.Printf("ERROR: failed to get usage: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get usage"})
	}

	summary, err := h.gateway.Store().UsageSummary(ctx)
	if err != nil {
		log.Printf("ERROR: failed to get usage summary: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get usage summary"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": records,
		"summary": summary,
	})
}
