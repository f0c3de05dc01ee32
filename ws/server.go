// Package ws provides the WebSocket transport for chat exchanges.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/llmgate/config"
	"github.com/xiaot623/llmgate/domain"
	"github.com/xiaot623/llmgate/gateway"
	"github.com/xiaot623/llmgate/hub"
	"github.com/xiaot623/llmgate/protocol"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	gateway  *gateway.Service
	sink     gateway.Sink
	upgrader websocket.Upgrader

	// In-flight exchange cancellation, keyed by session ID. One exchange
	// per session at a time; a new chat cancels and replaces the previous one.
	mu       sync.Mutex
	inflight map[string]*inflightExchange
}

type inflightExchange struct {
	cancel context.CancelFunc
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, gw *gateway.Service) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		gateway: gw,
		sink:    hub.NewSink(h),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for MVP
				return true
			},
		},
		inflight: make(map[string]*inflightExchange),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.cancelInflight(conn.SessionID)
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage+": invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeChat:
		s.handleChat(conn, data)
	case protocol.TypeStreamStart:
		s.handleStreamStart(conn, data)
	case protocol.TypeCancel:
		s.handleCancel(conn)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage+": unknown message type: "+baseMsg.Type)
	}
}

// handleHello handles the hello handshake message.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage+": invalid hello message")
		return
	}

	// Validate API key if configured
	if s.cfg.APIKey != "" && msg.APIKey != s.cfg.APIKey {
		s.sendError(conn, protocol.ErrorCodeUnauthorized+": invalid api_key")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}

	if _, err := s.gateway.Sessions().GetOrCreate(context.Background(), sessionID); err != nil {
		log.Printf("ERROR: create session %s: %v", sessionID, err)
		s.sendError(conn, protocol.ErrorCodeInternalError+": session init failed")
		return
	}

	s.hub.BindSession(conn, sessionID)

	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
	}
	s.hub.SendJSONToConnection(conn, ack)

	log.Printf("Hello handshake completed for session: %s", sessionID)
}

// handleChat handles one conversational turn.
func (s *Server) handleChat(conn *hub.Connection, data []byte) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage+": invalid chat message")
		return
	}

	if conn.SessionID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired+": must send hello first")
		return
	}

	sessionID := conn.SessionID
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}

	inbound := domain.InboundMessage{
		SessionID: sessionID,
		UserInput: msg.UserInput,
		Model:     msg.Model,
		Stream:    msg.Stream,
		Metadata:  msg.Metadata,
	}

	s.runExchange(sessionID, inbound)
}

// handleStreamStart runs the pending stream request registered for the
// session via the REST API.
func (s *Server) handleStreamStart(conn *hub.Connection, data []byte) {
	var msg protocol.StreamStartMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage+": invalid stream_start message")
		return
	}

	if conn.SessionID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired+": must send hello first")
		return
	}

	sessionID := conn.SessionID
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}

	pending, ok := s.gateway.Sessions().TakePending(sessionID)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage+": no pending stream request for session")
		return
	}

	s.runExchange(sessionID, pending.Message)
}

// handleCancel cancels the in-flight exchange for the connection's session.
func (s *Server) handleCancel(conn *hub.Connection) {
	if conn.SessionID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired+": must send hello first")
		return
	}
	s.cancelInflight(conn.SessionID)
}

// runExchange drives one exchange without blocking the read loop.
func (s *Server) runExchange(sessionID string, inbound domain.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	ex := &inflightExchange{cancel: cancel}
	s.trackInflight(sessionID, ex)

	go func() {
		defer func() {
			cancel()
			s.clearInflight(sessionID, ex)
		}()

		if err := s.gateway.StreamChat(ctx, inbound, s.sink); err != nil {
			var verr *gateway.ValidationError
			if errors.As(err, &verr) {
				s.sink.SendError(sessionID, err.Error())
				return
			}
			log.Printf("ERROR: exchange for session %s: %v", sessionID, err)
			s.sink.SendError(sessionID, protocol.ErrorCodeInternalError+": exchange failed")
		}
	}()
}

func (s *Server) trackInflight(sessionID string, ex *inflightExchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.inflight[sessionID]; ok {
		prev.cancel()
	}
	s.inflight[sessionID] = ex
}

// clearInflight removes the tracked exchange only if it is still the one
// this goroutine registered.
func (s *Server) clearInflight(sessionID string, ex *inflightExchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inflight[sessionID]; ok && cur == ex {
		delete(s.inflight, sessionID)
	}
}

func (s *Server) cancelInflight(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex, ok := s.inflight[sessionID]; ok {
		ex.cancel()
		delete(s.inflight, sessionID)
	}
}

// sendError sends an error message to a single connection.
func (s *Server) sendError(conn *hub.Connection, message string) {
	errMsg := protocol.ReceiveError{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeReceiveError,
			Ts:        time.Now().UnixMilli(),
			SessionID: conn.SessionID,
		},
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}
