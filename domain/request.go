package domain

// RequestMessage is one role/content pair in a provider request.
type RequestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic request built once per exchange.
// It is never mutated after being handed to a provider client.
type ChatRequest struct {
	Model           string           `json:"model"`
	Messages        []RequestMessage `json:"messages"`
	Temperature     float64          `json:"temperature"`
	MaxOutputTokens int              `json:"max_tokens"`
	Stream          bool             `json:"stream"`
	Tools           []Tool           `json:"tools,omitempty"`
}

// Tool is a tool definition passed through to the provider.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function exposed to the model.
type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// TokenUsage is the token accounting reported by a provider response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the normalized non-streaming provider response.
type ChatResponse struct {
	Model   string      `json:"model"`
	Content string      `json:"content"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// InboundMessage is one chat turn submitted by a client, either over the
// websocket directly or registered as a pending stream request.
type InboundMessage struct {
	SessionID string            `json:"session_id"`
	UserInput string            `json:"user_input"`
	Model     string            `json:"model,omitempty"`
	Stream    bool              `json:"stream"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
