package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/xiaot623/llmgate/domain"
)

type memSource struct {
	creds map[string]*domain.Credential
}

func (m *memSource) GetCredential(ctx context.Context, providerID, userID string) (*domain.Credential, error) {
	if userID != "" {
		if c, ok := m.creds[providerID+"/"+userID]; ok {
			return c, nil
		}
	}
	c, ok := m.creds[providerID]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := NewStore(nil, "master-secret")
	sealed, err := s.Seal("sk-abc123")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got != "sk-abc123" {
		t.Fatalf("Open = %q, want %q", got, "sk-abc123")
	}
}

func TestOpenWrongMasterKey(t *testing.T) {
	s := NewStore(nil, "master-secret")
	sealed, err := s.Seal("sk-abc123")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	other := NewStore(nil, "different-secret")
	if _, err := other.Open(sealed); err == nil {
		t.Fatalf("expected open to fail with wrong key")
	}
}

func TestGetDecryptedKey(t *testing.T) {
	s := NewStore(nil, "master-secret")
	sealed, err := s.Seal("sk-system")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	src := &memSource{creds: map[string]*domain.Credential{
		"p1": {ProviderID: "p1", Scope: domain.ScopeSystem, SecretSealed: sealed},
	}}
	s.src = src

	key, err := s.GetDecryptedKey(context.Background(), "p1", "")
	if err != nil {
		t.Fatalf("GetDecryptedKey failed: %v", err)
	}
	if key != "sk-system" {
		t.Fatalf("key = %q, want %q", key, "sk-system")
	}
}

func TestGetDecryptedKeyUserScopePreferred(t *testing.T) {
	s := NewStore(nil, "master-secret")
	system, _ := s.Seal("sk-system")
	user, _ := s.Seal("sk-user")

	s.src = &memSource{creds: map[string]*domain.Credential{
		"p1":    {ProviderID: "p1", Scope: domain.ScopeSystem, SecretSealed: system},
		"p1/u1": {ProviderID: "p1", Scope: domain.ScopeUser, UserID: "u1", SecretSealed: user},
	}}

	key, err := s.GetDecryptedKey(context.Background(), "p1", "u1")
	if err != nil {
		t.Fatalf("GetDecryptedKey failed: %v", err)
	}
	if key != "sk-user" {
		t.Fatalf("key = %q, want %q", key, "sk-user")
	}
}

func TestGetDecryptedKeyMiss(t *testing.T) {
	s := NewStore(&memSource{creds: map[string]*domain.Credential{}}, "master-secret")
	_, err := s.GetDecryptedKey(context.Background(), "p1", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
