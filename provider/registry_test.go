package provider

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/xiaot623/llmgate/domain"
)

type staticKeys struct {
	key string
	err error
}

func (s staticKeys) GetDecryptedKey(ctx context.Context, providerID, userID string) (string, error) {
	return s.key, s.err
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOpenAIFactory("openai", "https://api.openai.com", "OPENAI_API_KEY", nil, time.Second))

	f, err := r.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if f.ProviderName() != "openai" {
		t.Fatalf("unexpected factory: %s", f.ProviderName())
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if cfgErr.Provider != "nope" {
		t.Fatalf("unexpected provider in error: %s", cfgErr.Provider)
	}
}

func TestFactoryKeyFromProvider(t *testing.T) {
	f := NewOpenAIFactory("openai", "https://api.openai.com", "LLMGATE_TEST_KEY_UNSET", staticKeys{key: "stored"}, time.Second)
	client, err := f.NewClient(context.Background(), domain.Provider{ProviderID: "p1", APIKey: "plain"}, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.(*OpenAIClient).apiKey != "plain" {
		t.Fatalf("plaintext key should take priority")
	}
}

func TestFactoryKeyFromCredentialStore(t *testing.T) {
	f := NewOpenAIFactory("openai", "https://api.openai.com", "LLMGATE_TEST_KEY_UNSET", staticKeys{key: "sealed"}, time.Second)
	client, err := f.NewClient(context.Background(), domain.Provider{ProviderID: "p1"}, "u1")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.(*OpenAIClient).apiKey != "sealed" {
		t.Fatalf("expected key from credential store")
	}
}

func TestFactoryKeyFromEnv(t *testing.T) {
	t.Setenv("LLMGATE_TEST_ENV_KEY", "from-env")
	f := NewOpenAIFactory("openai", "https://api.openai.com", "LLMGATE_TEST_ENV_KEY", staticKeys{err: errors.New("not found")}, time.Second)
	client, err := f.NewClient(context.Background(), domain.Provider{ProviderID: "p1"}, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.(*OpenAIClient).apiKey != "from-env" {
		t.Fatalf("expected env fallback key")
	}
}

func TestFactoryCredentialMissing(t *testing.T) {
	os.Unsetenv("LLMGATE_TEST_KEY_UNSET")
	f := NewOpenAIFactory("openai", "https://api.openai.com", "LLMGATE_TEST_KEY_UNSET", staticKeys{err: errors.New("not found")}, time.Second)
	_, err := f.NewClient(context.Background(), domain.Provider{ProviderID: "p1"}, "")

	var missing *CredentialMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *CredentialMissingError, got %v", err)
	}
}

func TestFactoryBaseURLOverride(t *testing.T) {
	f := NewOpenAIFactory("local", "http://localhost:4000", "LLMGATE_TEST_KEY_UNSET", staticKeys{key: "k"}, time.Second)
	client, err := f.NewClient(context.Background(), domain.Provider{ProviderID: "p1", BaseURL: "http://litellm:4000/"}, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.(*OpenAIClient).baseURL != "http://litellm:4000" {
		t.Fatalf("unexpected base URL: %s", client.(*OpenAIClient).baseURL)
	}
}
