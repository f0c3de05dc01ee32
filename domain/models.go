// Package domain defines the core domain models for the gateway.
package domain

import (
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a session context. Messages are immutable
// once appended; ordering is append order and significant.
type Message struct {
	MessageID  string    `json:"message_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionContext is the ordered conversation history for one session.
// TotalTokens always equals the sum of TokenCount over Messages.
type SessionContext struct {
	SessionID     string            `json:"session_id"`
	Messages      []Message         `json:"messages"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
	TotalTokens   int               `json:"total_tokens"`
}

// Provider is an external LLM backend reachable through a normalized client.
type Provider struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
	BaseURL    string `json:"base_url,omitempty"`
	// APIKey is a directly stored plaintext key. Checked before the sealed
	// credential store and the environment fallback.
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelInfo describes a model in the catalog, including its context window
// and per-1K-token pricing used for cost estimation.
type ModelInfo struct {
	ModelID          string  `json:"model_id"`
	ProviderID       string  `json:"provider_id"`
	MaxContextTokens int     `json:"max_context_tokens"`
	CostPerKInput    float64 `json:"cost_per_k_input"`
	CostPerKOutput   float64 `json:"cost_per_k_output"`
}

// CredentialScope distinguishes system-wide keys from per-user keys.
type CredentialScope string

const (
	ScopeSystem CredentialScope = "system"
	ScopeUser   CredentialScope = "user"
)

// Credential is a sealed API key for a provider. SecretSealed is opaque to
// the core; the credential store decrypts it on read.
type Credential struct {
	CredentialID string          `json:"credential_id"`
	ProviderID   string          `json:"provider_id"`
	Scope        CredentialScope `json:"scope"`
	UserID       string          `json:"user_id,omitempty"`
	SecretSealed []byte          `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UsageRecord is the write-once accounting entry for one exchange.
type UsageRecord struct {
	RecordID      string    `json:"record_id"`
	SessionID     string    `json:"session_id"`
	ModelID       string    `json:"model_id"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	DurationMs    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UsageSummary aggregates usage records per model.
type UsageSummary struct {
	ModelID       string  `json:"model_id"`
	ExchangeCount int     `json:"exchange_count"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}
