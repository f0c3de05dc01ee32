package domain

// StreamEventKind discriminates the closed set of streaming events.
type StreamEventKind int

const (
	// StreamPartial carries one incremental text fragment.
	StreamPartial StreamEventKind = iota
	// StreamComplete carries the full accumulated text and terminates the
	// stream. Exactly one terminal event is emitted per stream.
	StreamComplete
	// StreamError carries a terminal error message. Like StreamComplete it
	// ends the stream; no further events follow.
	StreamError
)

// StreamEvent is one event produced by a streaming provider call. Events
// are produced in strict order and consumed exactly once.
type StreamEvent struct {
	Kind StreamEventKind
	// Text is the fragment for StreamPartial, the accumulated full text for
	// StreamComplete, and the error message for StreamError.
	Text string
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == StreamComplete || e.Kind == StreamError
}

// ErrorSentinel prefixes the text of terminal error events absorbed by the
// streaming transport. The delivery channel relies on every stream ending
// with a terminal event, so transport failures are folded into the event
// stream rather than raised to the caller.
const ErrorSentinel = "[ERROR_NO_BILLING]"
