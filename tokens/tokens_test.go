package tokens

import (
	"fmt"
	"testing"

	"github.com/xiaot623/llmgate/domain"
)

func msg(role domain.Role, content string) domain.Message {
	return domain.Message{Role: role, Content: content}
}

func TestCount(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"hello world!", 3},
	}
	for _, tc := range cases {
		if got := Count(tc.text); got != tc.want {
			t.Fatalf("Count(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCountMonotonic(t *testing.T) {
	prev := 0
	text := ""
	for i := 0; i < 64; i++ {
		text += "x"
		got := Count(text)
		if got < prev {
			t.Fatalf("Count not monotonic at length %d: %d < %d", i+1, got, prev)
		}
		prev = got
	}
}

func TestCountMessageIncludesOverhead(t *testing.T) {
	m := msg(domain.RoleUser, "abcd")
	if got := CountMessage(m); got != 1+MessageOverhead {
		t.Fatalf("CountMessage = %d, want %d", got, 1+MessageOverhead)
	}
}

func TestCountContextMatchesSum(t *testing.T) {
	sc := domain.SessionContext{
		SessionID: "s1",
		Messages: []domain.Message{
			msg(domain.RoleSystem, "be terse"),
			msg(domain.RoleUser, "hello there"),
			msg(domain.RoleAssistant, "hi, how can I help you today?"),
		},
	}
	sum := 0
	for _, m := range sc.Messages {
		sum += CountMessage(m)
	}
	if got := CountContext(sc); got != sum {
		t.Fatalf("CountContext = %d, want %d", got, sum)
	}
}

func TestTrimToFitKeepsTrailingSuffix(t *testing.T) {
	sc := domain.SessionContext{SessionID: "s1"}
	for i := 0; i < 10; i++ {
		sc.Messages = append(sc.Messages, msg(domain.RoleUser, fmt.Sprintf("message number %d", i)))
	}
	full := CountContext(sc)

	for limit := CountMessage(sc.Messages[9]); limit <= full; limit += 5 {
		got := TrimToFit(sc, limit)
		if CountContext(got) > limit {
			t.Fatalf("limit %d: trimmed context has %d tokens", limit, CountContext(got))
		}
		if got.TotalTokens != CountContext(got) {
			t.Fatalf("limit %d: TotalTokens %d != counted %d", limit, got.TotalTokens, CountContext(got))
		}
		// Result must be the trailing suffix of the input, order preserved.
		offset := len(sc.Messages) - len(got.Messages)
		for i, m := range got.Messages {
			if m.Content != sc.Messages[offset+i].Content {
				t.Fatalf("limit %d: message %d is %q, want %q", limit, i, m.Content, sc.Messages[offset+i].Content)
			}
		}
	}
}

func TestTrimToFitDoesNotMutateInput(t *testing.T) {
	sc := domain.SessionContext{
		SessionID: "s1",
		Messages: []domain.Message{
			msg(domain.RoleUser, "first message with some words"),
			msg(domain.RoleAssistant, "second message with some words"),
		},
	}
	before := len(sc.Messages)
	_ = TrimToFit(sc, 1)
	if len(sc.Messages) != before {
		t.Fatalf("input context mutated: %d messages, want %d", len(sc.Messages), before)
	}
}

func TestTrimToFitOversizedNewestMessage(t *testing.T) {
	big := ""
	for i := 0; i < 100; i++ {
		big += "abcd"
	}
	sc := domain.SessionContext{
		SessionID: "s1",
		Messages: []domain.Message{
			msg(domain.RoleUser, "old"),
			msg(domain.RoleUser, big),
		},
	}
	got := TrimToFit(sc, 10)
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
	if got.Messages[0].Content != big {
		t.Fatalf("newest message content was altered")
	}
}

func TestTrimToFitEmptyContext(t *testing.T) {
	got := TrimToFit(domain.SessionContext{SessionID: "s1"}, 100)
	if len(got.Messages) != 0 || got.TotalTokens != 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestBuildRequestMessages(t *testing.T) {
	history := []domain.Message{
		msg(domain.RoleSystem, "be terse"),
		msg(domain.RoleAssistant, "ok"),
	}
	got := BuildRequestMessages(history, "what now?")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Role != "system" || got[1].Role != "assistant" {
		t.Fatalf("history order not preserved: %+v", got)
	}
	last := got[2]
	if last.Role != "user" || last.Content != "what now?" {
		t.Fatalf("unexpected final message: %+v", last)
	}
}
