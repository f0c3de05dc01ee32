package gateway

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/xiaot623/llmgate/domain"
	"github.com/xiaot623/llmgate/policy"
	"github.com/xiaot623/llmgate/provider"
	"github.com/xiaot623/llmgate/tokens"
)

// exchange carries the state built up by prepare for one call.
type exchange struct {
	msg         domain.InboundMessage
	modelID     string
	model       *domain.ModelInfo
	client      provider.Client
	request     *domain.ChatRequest
	inputTokens int
	started     time.Time
}

// prepare runs the pre-streaming states: validation, context load, policy
// admission, trimming, and provider resolution. No upstream call is made;
// every failure is fatal for the exchange with no retry.
func (s *Service) prepare(ctx context.Context, msg domain.InboundMessage) (*exchange, error) {
	if msg.SessionID == "" {
		return nil, &ValidationError{Field: "session_id"}
	}
	if strings.TrimSpace(msg.UserInput) == "" {
		return nil, &ValidationError{Field: "user_input"}
	}

	ex := &exchange{msg: msg, started: time.Now()}
	ex.modelID = msg.Model
	if ex.modelID == "" {
		ex.modelID = s.cfg.DefaultModel
	}

	sc, err := s.sessions.GetOrCreate(ctx, msg.SessionID)
	if err != nil {
		return ex, err
	}
	if len(msg.Metadata) > 0 {
		if err := s.sessions.SetMetadata(ctx, msg.SessionID, msg.Metadata); err != nil {
			return ex, err
		}
		if sc.Metadata == nil {
			sc.Metadata = make(map[string]string, len(msg.Metadata))
		}
		for k, v := range msg.Metadata {
			sc.Metadata[k] = v
		}
	}

	decision, err := s.policy.Evaluate(ctx, map[string]interface{}{
		"model":      ex.modelID,
		"session_id": msg.SessionID,
		"stream":     msg.Stream,
		"metadata":   sc.Metadata,
	})
	if err != nil {
		return ex, err
	}
	if decision != policy.DecisionAllow {
		return ex, &PolicyError{Model: ex.modelID, Reason: decision}
	}

	ex.model, err = s.store.GetModel(ctx, ex.modelID)
	if err != nil {
		return ex, err
	}
	if ex.model == nil {
		return ex, &provider.ConfigurationError{Provider: ex.modelID, Reason: "unknown model"}
	}

	window := ex.model.MaxContextTokens
	if window <= 0 || window > s.cfg.MaxContextTokens {
		window = s.cfg.MaxContextTokens
	}
	trimmed := tokens.TrimToFit(*sc, window)

	prov, err := s.store.GetProvider(ctx, ex.model.ProviderID)
	if err != nil {
		return ex, err
	}
	if prov == nil {
		return ex, &provider.ConfigurationError{Provider: ex.model.ProviderID, Reason: "model has no provider"}
	}

	factory, err := s.registry.Resolve(prov.Name)
	if err != nil {
		return ex, err
	}
	ex.client, err = factory.NewClient(ctx, *prov, msg.Metadata["user_id"])
	if err != nil {
		return ex, err
	}

	reqMessages := tokens.BuildRequestMessages(trimmed.Messages, msg.UserInput)
	for _, rm := range reqMessages {
		ex.inputTokens += tokens.Count(rm.Content) + tokens.MessageOverhead
	}

	ex.request = &domain.ChatRequest{
		Model:           ex.modelID,
		Messages:        reqMessages,
		Temperature:     s.cfg.Temperature,
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		Stream:          msg.Stream,
	}
	return ex, nil
}

// StreamChat runs one streaming exchange. Validation failures are returned
// to the caller as request-level errors; every later failure is absorbed:
// a terminal error chunk is delivered through sink and a usage record is
// emitted, so the client never hangs waiting for a close signal.
func (s *Service) StreamChat(ctx context.Context, msg domain.InboundMessage, sink Sink) error {
	ex, err := s.prepare(ctx, msg)
	if err != nil {
		if _, ok := err.(*ValidationError); ok {
			return err
		}
		log.Printf("ERROR: exchange setup failed for session %s: %v", msg.SessionID, err)
		s.recordUsage(context.WithoutCancel(ctx), ex.model, msg.SessionID, ex.modelID, ex.inputTokens, 0, ex.started, false, err.Error())
		sink.SendError(msg.SessionID, err.Error())
		return nil
	}

	var fullText string
	var streamErr string
	terminal := false
	cancelled := false

	emitErr := ex.client.Stream(ctx, ex.request, func(ev domain.StreamEvent) error {
		if ctx.Err() != nil {
			// Client gone or request timed out: stop forwarding and stop
			// blocking on further reads.
			cancelled = true
			return ctx.Err()
		}
		switch ev.Kind {
		case domain.StreamPartial:
			sink.SendMessage(msg.SessionID, ev.Text, false)
		case domain.StreamComplete:
			fullText = ev.Text
			terminal = true
			sink.SendMessage(msg.SessionID, ev.Text, true)
		case domain.StreamError:
			streamErr = ev.Text
			terminal = true
			sink.SendMessage(msg.SessionID, ev.Text, true)
		}
		return nil
	})

	if cancelled || (emitErr != nil && ctx.Err() != nil) {
		reason := "cancelled"
		if ctx.Err() != nil {
			reason = "cancelled: " + ctx.Err().Error()
		}
		log.Printf("WARN: exchange cancelled for session %s", msg.SessionID)
		if !terminal {
			// A still-connected client (timeout rather than disconnect) must
			// see the stream close out.
			sink.SendMessage(msg.SessionID, domain.ErrorSentinel+reason, true)
		}
		s.recordUsage(context.WithoutCancel(ctx), ex.model, msg.SessionID, ex.modelID, ex.inputTokens, 0, ex.started, false, reason)
		return nil
	}
	if emitErr != nil {
		log.Printf("ERROR: chunk delivery failed for session %s: %v", msg.SessionID, emitErr)
		s.recordUsage(ctx, ex.model, msg.SessionID, ex.modelID, ex.inputTokens, 0, ex.started, false, emitErr.Error())
		return nil
	}

	if streamErr != "" {
		// The exchange reached the provider; the user's turn is part of the
		// durable transcript even though no assistant output arrived.
		if _, err := s.sessions.AddUserMessage(ctx, msg.SessionID, msg.UserInput); err != nil {
			log.Printf("ERROR: failed to persist user message for session %s: %v", msg.SessionID, err)
		}
		s.recordUsage(ctx, ex.model, msg.SessionID, ex.modelID, ex.inputTokens, 0, ex.started, false, streamErr)
		return nil
	}

	s.finalize(ctx, ex, fullText, tokens.Count(fullText))
	return nil
}

// Chat runs one non-streaming exchange. Upstream auth failures propagate
// as *provider.AuthError so callers can report the provider name and raw
// diagnostic body.
func (s *Service) Chat(ctx context.Context, msg domain.InboundMessage) (*domain.ChatResponse, error) {
	ex, err := s.prepare(ctx, msg)
	if err != nil {
		if _, ok := err.(*ValidationError); !ok {
			s.recordUsage(ctx, ex.model, msg.SessionID, ex.modelID, ex.inputTokens, 0, ex.started, false, err.Error())
		}
		return nil, err
	}

	resp, err := ex.client.Send(ctx, ex.request)
	if err != nil {
		log.Printf("ERROR: provider call failed for session %s: %v", msg.SessionID, err)
		s.recordUsage(ctx, ex.model, msg.SessionID, ex.modelID, ex.inputTokens, 0, ex.started, false, err.Error())
		return nil, err
	}

	// Prefer the provider's reported counts over the local approximation.
	outputTokens := tokens.Count(resp.Content)
	if resp.Usage != nil {
		ex.inputTokens = resp.Usage.PromptTokens
		outputTokens = resp.Usage.CompletionTokens
	}
	s.finalize(ctx, ex, resp.Content, outputTokens)
	return resp, nil
}

// finalize appends the user and assistant messages to the session context,
// persists it, and emits the usage record for a successful exchange.
func (s *Service) finalize(ctx context.Context, ex *exchange, assistantText string, outputTokens int) {
	if _, err := s.sessions.AddUserMessage(ctx, ex.msg.SessionID, ex.msg.UserInput); err != nil {
		log.Printf("ERROR: failed to persist user message for session %s: %v", ex.msg.SessionID, err)
	}
	if _, err := s.sessions.AddAssistantMessage(ctx, ex.msg.SessionID, assistantText); err != nil {
		log.Printf("ERROR: failed to persist assistant message for session %s: %v", ex.msg.SessionID, err)
	}

	s.recordUsage(ctx, ex.model, ex.msg.SessionID, ex.modelID, ex.inputTokens, outputTokens, ex.started, true, "")
}
