package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xiaot623/llmgate/domain"
)

// wire shapes for the OpenAI-compatible chat completions API.

type wireRequest struct {
	Model       string                  `json:"model"`
	Messages    []domain.RequestMessage `json:"messages"`
	Temperature float64                 `json:"temperature,omitempty"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Stream      bool                    `json:"stream,omitempty"`
	Tools       []domain.Tool           `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type wireResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []wireChoice       `json:"choices"`
	Usage   *domain.TokenUsage `json:"usage,omitempty"`
}

type wireChunk struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
}

type wireError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	provider   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for one exchange.
func NewOpenAIClient(providerName, baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		provider: providerName,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *OpenAIClient) post(ctx context.Context, req *domain.ChatRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
		Stream:      stream,
		Tools:       req.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.httpClient.Do(httpReq)
}

// extractErrorMessage pulls a human-readable message out of an error body.
func extractErrorMessage(body []byte) string {
	var werr wireError
	if err := json.Unmarshal(body, &werr); err == nil && werr.Error != nil && werr.Error.Message != "" {
		return werr.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// Send performs a non-streaming chat call.
func (c *OpenAIClient) Send(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthError{
			Provider: c.provider,
			Message:  extractErrorMessage(respBody),
			RawBody:  string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, extractErrorMessage(respBody))
	}

	var result wireResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	out := &domain.ChatResponse{Model: result.Model, Usage: result.Usage}
	if len(result.Choices) > 0 && result.Choices[0].Message != nil {
		out.Content = result.Choices[0].Message.Content
	}
	return out, nil
}

// Stream performs a streaming chat call. HTTP and network failures are
// absorbed into a single terminal StreamError event so the delivery channel
// always sees the stream close out; only emit failures are returned.
func (c *OpenAIClient) Stream(ctx context.Context, req *domain.ChatRequest, emit EmitFunc) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		log.Printf("ERROR: %s stream request failed: %v", c.provider, err)
		return emit(domain.StreamEvent{
			Kind: domain.StreamError,
			Text: domain.ErrorSentinel + err.Error(),
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := extractErrorMessage(respBody)
		log.Printf("ERROR: %s stream returned status %d: %s", c.provider, resp.StatusCode, msg)
		return emit(domain.StreamEvent{
			Kind: domain.StreamError,
			Text: domain.ErrorSentinel + msg,
		})
	}

	reader := bufio.NewReader(resp.Body)
	var accumulated strings.Builder

	for {
		select {
		case <-ctx.Done():
			return emit(domain.StreamEvent{
				Kind: domain.StreamError,
				Text: domain.ErrorSentinel + ctx.Err().Error(),
			})
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Upstream closed without [DONE]; terminate with what we have.
				return emit(domain.StreamEvent{Kind: domain.StreamComplete, Text: accumulated.String()})
			}
			log.Printf("ERROR: %s stream read failed: %v", c.provider, err)
			return emit(domain.StreamEvent{
				Kind: domain.StreamError,
				Text: domain.ErrorSentinel + err.Error(),
			})
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return emit(domain.StreamEvent{Kind: domain.StreamComplete, Text: accumulated.String()})
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed frames are skipped, not fatal.
			log.Printf("WARN: %s stream: skipping malformed frame: %v", c.provider, err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta != nil && choice.Delta.Content != "" {
			accumulated.WriteString(choice.Delta.Content)
			if err := emit(domain.StreamEvent{Kind: domain.StreamPartial, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
		if choice.FinishReason != "" {
			return emit(domain.StreamEvent{Kind: domain.StreamComplete, Text: accumulated.String()})
		}
	}
}

// OpenAIFactory builds OpenAI-compatible clients for one named provider.
type OpenAIFactory struct {
	name       string
	defaultURL string
	envKey     string
	keys       KeyResolver
	timeout    time.Duration
}

// NewOpenAIFactory creates a factory. envKey names the environment variable
// used as the last-resort API key.
func NewOpenAIFactory(name, defaultURL, envKey string, keys KeyResolver, timeout time.Duration) *OpenAIFactory {
	return &OpenAIFactory{
		name:       name,
		defaultURL: defaultURL,
		envKey:     envKey,
		keys:       keys,
		timeout:    timeout,
	}
}

// ProviderName returns the registry name for this factory.
func (f *OpenAIFactory) ProviderName() string {
	return f.name
}

// NewClient resolves the API key and builds a client. Resolution order:
// stored plaintext key, sealed credential store, environment fallback.
func (f *OpenAIFactory) NewClient(ctx context.Context, prov domain.Provider, userID string) (Client, error) {
	key := prov.APIKey
	if key == "" && f.keys != nil {
		resolved, err := f.keys.GetDecryptedKey(ctx, prov.ProviderID, userID)
		if err == nil {
			key = resolved
		}
	}
	if key == "" {
		key = os.Getenv(f.envKey)
	}
	if key == "" {
		return nil, &CredentialMissingError{Provider: f.name}
	}

	baseURL := prov.BaseURL
	if baseURL == "" {
		baseURL = f.defaultURL
	}
	return NewOpenAIClient(f.name, baseURL, key, f.timeout), nil
}
