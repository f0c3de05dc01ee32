// Package protocol defines the WebSocket message protocol between clients
// and the gateway.
package protocol

// Message types from client to gateway
const (
	TypeHello       = "hello"
	TypeChat        = "chat"
	TypeStreamStart = "stream_start"
	TypeCancel      = "cancel"
)

// Message types from gateway to client
const (
	TypeHelloAck       = "hello_ack"
	TypeReceiveMessage = "receive_message"
	TypeReceiveError   = "receive_error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage is sent by a client to establish its session binding.
type HelloMessage struct {
	BaseMessage
	APIKey     string            `json:"api_key,omitempty"`
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckMessage acknowledges a successful hello.
type HelloAckMessage struct {
	BaseMessage
}

// ChatMessage carries one conversational turn from the client.
type ChatMessage struct {
	BaseMessage
	UserInput string            `json:"user_input"`
	Model     string            `json:"model,omitempty"`
	Stream    bool              `json:"stream"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// StreamStartMessage asks the gateway to run the pending stream request
// previously registered for the session.
type StreamStartMessage struct {
	BaseMessage
}

// CancelMessage cancels the in-flight exchange for the session.
type CancelMessage struct {
	BaseMessage
}

// ReceiveMessage is one ordered chunk of model output. The final chunk of
// an exchange has IsComplete set; no further chunks follow it.
type ReceiveMessage struct {
	BaseMessage
	Output     string `json:"output"`
	IsComplete bool   `json:"is_complete"`
}

// ReceiveError reports an exchange-level error to the client.
type ReceiveError struct {
	BaseMessage
	Message string `json:"message"`
}

// Error codes carried in ReceiveError messages.
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeInternalError   = "internal_error"
)
