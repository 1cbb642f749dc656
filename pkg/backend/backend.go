// Package backend is the request/response boundary to model backends.
// Inference itself happens elsewhere; a Backend only carries a prompt out
// and a text answer, optional structured facts, or a typed failure back.
package backend

import "context"

// Backend sends requests to one model provider.
type Backend interface {
	// Generate sends a request and returns the model's answer.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier.
	Name() string
}

// Request is one generation call.
type Request struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

// Response is a backend answer.
type Response struct {
	Text    string         `json:"text"`
	Facts   map[string]any `json:"facts,omitempty"`
	Model   string         `json:"model"`
	Backend string         `json:"backend"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func maxTokens(req Request) int {
	if req.MaxTokens <= 0 {
		return 1024
	}
	return req.MaxTokens
}
