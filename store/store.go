// Package store defines the persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/xiaot623/llmgate/domain"
)

// SessionRepository persists session contexts between exchanges.
type SessionRepository interface {
	// GetSessionContext loads a context with its ordered messages. A miss
	// returns (nil, nil).
	GetSessionContext(ctx context.Context, sessionID string) (*domain.SessionContext, error)
	// SaveSessionContext upserts the session row and appends any messages
	// not yet persisted.
	SaveSessionContext(ctx context.Context, sc *domain.SessionContext) error
}

// UsageSink accepts completed-exchange accounting records.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec *domain.UsageRecord) error
}

// Catalog reads provider, model, and credential configuration.
type Catalog interface {
	GetProvider(ctx context.Context, providerID string) (*domain.Provider, error)
	GetModel(ctx context.Context, modelID string) (*domain.ModelInfo, error)
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
	GetCredential(ctx context.Context, providerID, userID string) (*domain.Credential, error)
}

// Store is the full persistence surface.
type Store interface {
	SessionRepository
	UsageSink
	Catalog

	UpsertProvider(ctx context.Context, p *domain.Provider) error
	UpsertModel(ctx context.Context, m *domain.ModelInfo) error
	PutCredential(ctx context.Context, c *domain.Credential) error

	GetUsage(ctx context.Context, sessionID string, limit int) ([]domain.UsageRecord, error)
	UsageSummary(ctx context.Context) ([]domain.UsageSummary, error)

	Close() error
}
