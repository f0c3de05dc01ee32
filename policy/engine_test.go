package policy

import (
	"context"
	"testing"
)

func TestDefaultPolicyAllows(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	decision, err := e.Evaluate(ctx, map[string]interface{}{
		"model":      "gpt-test",
		"session_id": "s1",
		"stream":     true,
		"metadata":   map[string]string{},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestDefaultPolicyBlocksRestrictedStream(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	decision, err := e.Evaluate(ctx, map[string]interface{}{
		"model":      "gpt-test",
		"session_id": "s1",
		"stream":     true,
		"metadata":   map[string]string{"no_stream": "true"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionBlock {
		t.Fatalf("expected block, got %s", decision)
	}
}

func TestDefaultPolicyBlocksDenylistedModel(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	decision, err := e.Evaluate(ctx, map[string]interface{}{
		"model":      "gpt-test",
		"session_id": "s1",
		"stream":     false,
		"metadata":   map[string]string{"blocked_model": "gpt-test"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionBlock {
		t.Fatalf("expected block, got %s", decision)
	}
}
