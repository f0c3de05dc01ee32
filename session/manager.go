// Package session holds per-session conversation state: get-or-create of
// session contexts, serialized context mutation, and the single pending
// stream-request slot per session.
package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/llmgate/domain"
	"github.com/xiaot623/llmgate/store"
	"github.com/xiaot623/llmgate/tokens"
)

const shardCount = 32

// PendingRequest is an initiated stream request handed off to a second
// phase of processing. One slot per session; storing overwrites.
type PendingRequest struct {
	RequestID string
	Message   domain.InboundMessage
	StoredAt  time.Time
}

type shard struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]*PendingRequest
}

// Manager owns the mutable per-session state. Session keys are sharded so
// unrelated sessions never contend on the same lock.
type Manager struct {
	repo   store.SessionRepository
	shards [shardCount]*shard
}

// NewManager creates a manager backed by the given repository.
func NewManager(repo store.SessionRepository) *Manager {
	m := &Manager{repo: repo}
	for i := range m.shards {
		m.shards[i] = &shard{
			locks:   make(map[string]*sync.Mutex),
			pending: make(map[string]*PendingRequest),
		}
	}
	return m
}

func (m *Manager) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return m.shards[h.Sum32()%shardCount]
}

// lockSession acquires the per-session mutex and returns its unlock func.
// Lock entries live for the process lifetime; there is no eviction for
// idle sessions, so the footprint grows with the number of distinct
// session ids seen.
func (m *Manager) lockSession(sessionID string) func() {
	sh := m.shardFor(sessionID)

	sh.mu.Lock()
	mu, ok := sh.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		sh.locks[sessionID] = mu
	}
	sh.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// GetOrCreate loads the session context, creating and persisting an empty
// one on first use.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	sc, err := m.repo.GetSessionContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if sc != nil {
		return sc, nil
	}

	now := time.Now().UTC()
	sc = &domain.SessionContext{
		SessionID:     sessionID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := m.repo.SaveSessionContext(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", sessionID, err)
	}
	return sc, nil
}

// SetMetadata merges caller-supplied metadata into the session context and
// persists it.
func (m *Manager) SetMetadata(ctx context.Context, sessionID string, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	unlock := m.lockSession(sessionID)
	defer unlock()

	sc, err := m.repo.GetSessionContext(ctx, sessionID)
	if err != nil {
		return err
	}
	if sc == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sc.Metadata == nil {
		sc.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		sc.Metadata[k] = v
	}
	sc.LastUpdatedAt = time.Now().UTC()
	return m.repo.SaveSessionContext(ctx, sc)
}

// AddUserMessage appends a user message under the session lock.
func (m *Manager) AddUserMessage(ctx context.Context, sessionID, content string) (*domain.SessionContext, error) {
	return m.appendMessage(ctx, sessionID, domain.RoleUser, content)
}

// AddAssistantMessage appends an assistant message under the session lock.
func (m *Manager) AddAssistantMessage(ctx context.Context, sessionID, content string) (*domain.SessionContext, error) {
	return m.appendMessage(ctx, sessionID, domain.RoleAssistant, content)
}

// appendMessage does the serialized read-modify-write: append the message,
// recompute TotalTokens, persist. TotalTokens equals the sum of TokenCount
// over messages after every mutation.
func (m *Manager) appendMessage(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.SessionContext, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	sc, err := m.repo.GetSessionContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	now := time.Now().UTC()
	msg := domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	msg.TokenCount = tokens.CountMessage(msg)

	sc.Messages = append(sc.Messages, msg)
	sc.TotalTokens += msg.TokenCount
	sc.LastUpdatedAt = now

	if err := m.repo.SaveSessionContext(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}
	return sc, nil
}

// StorePending stores a pending stream request for a session, overwriting
// any existing one. There is no queue.
func (m *Manager) StorePending(sessionID string, req *PendingRequest) {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	sh.pending[sessionID] = req
	sh.mu.Unlock()
}

// TakePending removes and returns the pending request for a session.
// A miss is non-fatal: it is logged as a warning and reported as not found.
func (m *Manager) TakePending(sessionID string) (*PendingRequest, bool) {
	sh := m.shardFor(sessionID)
	sh.mu.Lock()
	req, ok := sh.pending[sessionID]
	if ok {
		delete(sh.pending, sessionID)
	}
	sh.mu.Unlock()

	if !ok {
		log.Printf("WARN: no pending stream request for session %s", sessionID)
		return nil, false
	}
	return req, true
}
