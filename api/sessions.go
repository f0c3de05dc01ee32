package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/llmgate/domain"
	"github.com/xiaot623/llmgate/session"
)

// GetSessionMessages returns the durable transcript of a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	sc, err := h.gateway.Store().GetSessionContext(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: failed to get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	if sc == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	messages := sc.Messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":   sc.SessionID,
		"messages":     messages,
		"total_tokens": sc.TotalTokens,
	})
}

// initiateStreamRequest is the body for InitiateStream.
type initiateStreamRequest struct {
	UserInput string            `json:"user_input"`
	Model     string            `json:"model,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InitiateStream registers a pending stream request for the session. The
// client then sends stream_start over its WebSocket connection to run it;
// output arrives there as receive_message chunks.
// POST /v1/sessions/:session_id/stream
func (h *Handler) InitiateStream(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	var req initiateStreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserInput == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_input is required"})
	}

	if _, err := h.gateway.Sessions().GetOrCreate(ctx, sessionID); err != nil {
		log.Printf("ERROR: failed to create session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	pending := &session.PendingRequest{
		RequestID: "req_" + uuid.New().String()[:8],
		Message: domain.InboundMessage{
			SessionID: sessionID,
			UserInput: req.UserInput,
			Model:     req.Model,
			Stream:    true,
			Metadata:  req.Metadata,
		},
		StoredAt: time.Now(),
	}
	h.gateway.Sessions().StorePending(sessionID, pending)

	return c.JSON(http.StatusAccepted, map[string]string{
		"request_id": pending.RequestID,
		"session_id": sessionID,
		"status":     "pending",
	})
}

// Chat runs a non-streaming exchange and returns the full response.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var msg domain.InboundMessage
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.gateway.Chat(ctx, msg)
	if err != nil {
		return h.chatError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}
