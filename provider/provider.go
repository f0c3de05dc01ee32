// Package provider maps provider names to clients capable of sending and
// streaming chat requests to LLM backends.
package provider

import (
	"context"

	"github.com/xiaot623/llmgate/domain"
)

// EmitFunc receives stream events in production order. Returning an error
// stops the stream.
type EmitFunc func(domain.StreamEvent) error

// Client is a normalized connection to one provider/model pair. Clients are
// stateless per request and constructed fresh for each exchange.
type Client interface {
	// Send performs a non-streaming chat call. An upstream 401 is returned
	// as *AuthError; other failures as plain errors.
	Send(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)

	// Stream performs a streaming chat call. Every invocation emits exactly
	// one terminal event (StreamComplete or StreamError); HTTP and network
	// failures are absorbed into a terminal StreamError event rather than
	// returned. The returned error is only non-nil when emit itself failed.
	Stream(ctx context.Context, req *domain.ChatRequest, emit EmitFunc) error
}

// KeyResolver resolves a decrypted API key for a provider. Implemented by
// the credential store; a miss is reported as an error.
type KeyResolver interface {
	GetDecryptedKey(ctx context.Context, providerID, userID string) (string, error)
}

// Factory builds a client for one named provider.
type Factory interface {
	ProviderName() string
	// NewClient resolves the API key and builds a client. Key resolution
	// priority: the provider's stored plaintext key, then the sealed
	// credential store, then the environment fallback. If none yields a
	// key, *CredentialMissingError is returned and no network call is made.
	NewClient(ctx context.Context, prov domain.Provider, userID string) (Client, error)
}
