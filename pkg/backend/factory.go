package backend

import (
	"fmt"
	"log/slog"

	"github.com/zen-systems/sentinel/pkg/registry"
)

// Credentials carries provider API keys.
type Credentials struct {
	Anthropic string
	OpenAI    string
	Google    string
}

// New builds the client for one registry entry.
func New(d *registry.Descriptor, creds Credentials) (Backend, error) {
	switch d.Provider {
	case "anthropic":
		return NewAnthropic(creds.Anthropic)
	case "openai":
		return NewOpenAI(creds.OpenAI)
	case "google", "gemini":
		return NewGoogle(creds.Google)
	case "ollama", "llamacpp", "llama.cpp", "local", "openai-compatible":
		return NewLocal(d.Endpoint), nil
	case "mock":
		return NewMock(d.ID), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q for model %s", d.Provider, d.ID)
	}
}

// Clients builds a client per registry entry, keyed by model id. Entries
// whose client cannot be built (typically a remote provider without a key)
// are skipped and logged; the router treats them as unavailable.
func Clients(reg *registry.Registry, creds Credentials, logger *slog.Logger) map[string]Backend {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[string]Backend)
	for _, d := range reg.List() {
		b, err := New(d, creds)
		if err != nil {
			logger.Debug("backend client skipped", "model", d.ID, "provider", d.Provider, "error", err)
			continue
		}
		out[d.ID] = b
	}
	return out
}
