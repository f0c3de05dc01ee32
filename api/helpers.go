package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/llmgate/gateway"
	"github.com/xiaot623/llmgate/provider"
)

// chatError maps exchange errors to HTTP responses.
func (h *Handler) chatError(c echo.Context, err error) error {
	var verr *gateway.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": verr.Error()})
	}

	var perr *gateway.PolicyError
	if errors.As(err, &perr) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": perr.Error()})
	}

	var cerr *provider.ConfigurationError
	if errors.As(err, &cerr) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": cerr.Error()})
	}

	var merr *provider.CredentialMissingError
	if errors.As(err, &merr) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": merr.Error()})
	}

	var aerr *provider.AuthError
	if errors.As(err, &aerr) {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": aerr.Error()})
	}

	log.Printf("ERROR: chat exchange failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "exchange failed"})
}
