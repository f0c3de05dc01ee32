// Package credential resolves decrypted API keys for providers. Secrets
// are held sealed at rest and opened on read; decrypted material is never
// cached here, it is resolved once per exchange.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/xiaot623/llmgate/domain"
)

// ErrNotFound is returned when no credential exists for a provider.
var ErrNotFound = errors.New("credential not found")

// Source reads sealed credentials from durable storage. A per-user lookup
// that misses falls back to the system-scoped credential.
type Source interface {
	GetCredential(ctx context.Context, providerID, userID string) (*domain.Credential, error)
}

// Store decrypts sealed credentials with a master key.
type Store struct {
	src Source
	key [32]byte
}

// NewStore derives the sealing key from the configured master secret.
func NewStore(src Source, masterSecret string) *Store {
	return &Store{
		src: src,
		key: sha256.Sum256([]byte(masterSecret)),
	}
}

// Seal encrypts secret for storage. The random nonce is prepended to the
// ciphertext.
func (s *Store) Seal(secret string) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(secret), &nonce, &s.key), nil
}

// Open decrypts a sealed blob produced by Seal.
func (s *Store) Open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", errors.New("sealed credential too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("failed to open sealed credential")
	}
	return string(plain), nil
}

// GetDecryptedKey resolves the API key for a provider, preferring a
// per-user credential when userID is set. A miss returns ErrNotFound.
func (s *Store) GetDecryptedKey(ctx context.Context, providerID, userID string) (string, error) {
	cred, err := s.src.GetCredential(ctx, providerID, userID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", ErrNotFound
	}
	return s.Open(cred.SecretSealed)
}
