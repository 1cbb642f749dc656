package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultLocalEndpoint is the OpenAI-compatible endpoint of a local
// llama.cpp or ollama server.
const DefaultLocalEndpoint = "http://127.0.0.1:11434/v1"

// Local implements Backend for a locally served model speaking the
// OpenAI-compatible chat completions API.
type Local struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Facts map[string]any `json:"facts,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// LocalOption configures a Local backend.
type LocalOption func(*Local)

// WithAPIKey sets a bearer token for servers that require one.
func WithAPIKey(key string) LocalOption {
	return func(l *Local) { l.apiKey = key }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) LocalOption {
	return func(l *Local) { l.httpClient = c }
}

// NewLocal creates a backend for an OpenAI-compatible endpoint.
func NewLocal(endpoint string, opts ...LocalOption) *Local {
	if endpoint == "" {
		endpoint = DefaultLocalEndpoint
	}
	l := &Local{
		baseURL:    strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the provider identifier.
func (l *Local) Name() string {
	return "local"
}

// Generate posts a chat completion to the local server.
func (l *Local) Generate(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens(req),
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, fmt.Errorf("local server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, Malformed("failed to parse response: %v", err)
	}
	if parsed.Error != nil {
		return nil, Unavailable(fmt.Errorf("local server error: %s (type: %s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return nil, Malformed("local server returned no choices")
	}

	return &Response{
		Text:    parsed.Choices[0].Message.Content,
		Facts:   parsed.Facts,
		Model:   req.Model,
		Backend: l.Name(),
		Usage: &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
