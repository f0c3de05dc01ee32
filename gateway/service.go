// Package gateway orchestrates one conversational exchange end to end:
// session resolution, context trimming, provider selection, streaming, and
// usage accounting.
package gateway

import (
	"fmt"

	"github.com/xiaot623/llmgate/config"
	"github.com/xiaot623/llmgate/policy"
	"github.com/xiaot623/llmgate/provider"
	"github.com/xiaot623/llmgate/session"
	"github.com/xiaot623/llmgate/store"
)

// Sink is the delivery channel view the orchestrator writes to. Delivery
// order must match the order of calls.
type Sink interface {
	SendMessage(sessionID, text string, isComplete bool)
	SendError(sessionID, message string)
}

// ValidationError rejects a malformed inbound message before any provider
// work. It is reported to the caller as a request-level error, not a chunk.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// PolicyError reports an exchange blocked by the admission policy.
type PolicyError struct {
	Model  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("exchange blocked by policy for model %s: %s", e.Model, e.Reason)
}

// Service is the streaming orchestrator.
type Service struct {
	cfg      *config.Config
	store    store.Store
	sessions *session.Manager
	registry *provider.Registry
	policy   *policy.Engine
}

// New wires the orchestrator.
func New(cfg *config.Config, st store.Store, sessions *session.Manager, registry *provider.Registry, pol *policy.Engine) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		registry: registry,
		policy:   pol,
	}
}

// Sessions exposes the session manager for transport layers that register
// pending stream requests.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Store exposes the persistence surface for read-only API handlers.
func (s *Service) Store() store.Store {
	return s.store
}

// Config returns the loaded configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}
