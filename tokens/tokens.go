// Package tokens provides token counting and context trimming for keeping
// a conversation inside a model's context window.
package tokens

import (
	"unicode/utf8"

	"github.com/xiaot623/llmgate/domain"
)

// MessageOverhead is the fixed per-message token cost covering role and
// framing tokens. It is part of the counting contract and must not change
// without recomputing stored totals.
const MessageOverhead = 4

// Count approximates the token count of text: one token per four runes,
// rounded up. Deterministic and monotonic in text length.
func Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// CountMessage returns the token cost of a single message including the
// per-message overhead.
func CountMessage(m domain.Message) int {
	return Count(m.Content) + MessageOverhead
}

// CountContext returns the token cost of all messages in a context.
func CountContext(sc domain.SessionContext) int {
	total := 0
	for _, m := range sc.Messages {
		total += CountMessage(m)
	}
	return total
}

// TrimToFit returns a new context whose message sequence is the longest
// trailing suffix of sc's messages that fits within maxTokens. The input is
// not mutated and message order is preserved. If even the single most
// recent message exceeds maxTokens, the result contains only that message
// with its content untouched; callers see the overflow rather than a
// silently truncated message.
func TrimToFit(sc domain.SessionContext, maxTokens int) domain.SessionContext {
	out := sc
	out.Messages = nil

	if len(sc.Messages) == 0 {
		out.TotalTokens = 0
		return out
	}

	start := len(sc.Messages)
	budget := maxTokens
	for i := len(sc.Messages) - 1; i >= 0; i-- {
		cost := CountMessage(sc.Messages[i])
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}
	if start == len(sc.Messages) {
		// Newest message alone is over the limit.
		start = len(sc.Messages) - 1
	}

	out.Messages = make([]domain.Message, len(sc.Messages)-start)
	copy(out.Messages, sc.Messages[start:])
	out.TotalTokens = CountContext(out)
	return out
}

// BuildRequestMessages converts trimmed history into the exact message list
// handed to a provider request, appending the new user input last.
func BuildRequestMessages(history []domain.Message, userInput string) []domain.RequestMessage {
	out := make([]domain.RequestMessage, 0, len(history)+1)
	for _, m := range history {
		out = append(out, domain.RequestMessage{Role: string(m.Role), Content: m.Content})
	}
	out = append(out, domain.RequestMessage{Role: string(domain.RoleUser), Content: userInput})
	return out
}
