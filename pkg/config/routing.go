package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RoutingConfig holds the routing rules configuration.
type RoutingConfig struct {
	DefaultModel  string                      `yaml:"default_model"`
	OfflineChain  []string                    `yaml:"offline_chain"`
	Intents       map[string][]string         `yaml:"intents,omitempty"`
	Performance   map[string][]string         `yaml:"performance,omitempty"`
	Context       map[string]ContextBucket    `yaml:"context,omitempty"`
	Aliases       map[string]string           `yaml:"aliases,omitempty"`
	LoadBalancing LoadBalancingConfig         `yaml:"load_balancing"`
	Retry         RetryConfig                 `yaml:"retry,omitempty"`
	Generation    map[string]GenerationConfig `yaml:"generation,omitempty"`
}

// ContextBucket groups models suited to prompts up to MaxTokens.
type ContextBucket struct {
	MaxTokens int      `yaml:"max_tokens"`
	Models    []string `yaml:"models"`
}

// LoadBalancingConfig bounds concurrent route executions.
type LoadBalancingConfig struct {
	// Strategy is "queue" (wait up to QueueTimeoutMs for a slot) or
	// "reject" (fail immediately with Overloaded).
	Strategy              string  `yaml:"strategy"`
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
	QueueTimeoutMs        int     `yaml:"queue_timeout_ms,omitempty"`
	RequestsPerSecond     float64 `yaml:"requests_per_second,omitempty"`
	TimeoutMs             int     `yaml:"timeout_ms"`
	RetryAttempts         int     `yaml:"retry_attempts"`
}

// RetryConfig defines backoff between attempts on the same backend.
type RetryConfig struct {
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// GenerationConfig holds per-intent generation parameters.
type GenerationConfig struct {
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		DefaultModel: "llama3_8b",
		OfflineChain: []string{"phi2_local", "mistral_7b", "llama3_8b"},
		Intents: map[string][]string{
			"tool_call":         {"phi2_local", "mistral_7b"},
			"code_generation":   {"deepseek_coder", "llama3_8b", "claude"},
			"system_analysis":   {"llama3_8b", "mistral_7b", "phi2_local"},
			"quick_response":    {"phi2_local", "mistral_7b"},
			"visual_analysis":   {"llama3_vision", "gemini"},
			"complex_reasoning": {"claude", "deepseek_coder", "llama3_8b"},
			"general_knowledge": {"llama3_8b", "mistral_7b", "phi2_local"},
		},
		Performance: map[string][]string{
			"realtime": {"phi2_local"},
			"fast":     {"mistral_7b", "gpt"},
			"balanced": {"llama3_8b", "deepseek_coder"},
			"powerful": {"claude", "gemini", "llama3_vision"},
		},
		Context: map[string]ContextBucket{
			"small":  {MaxTokens: 2048, Models: []string{"phi2_local"}},
			"medium": {MaxTokens: 8192, Models: []string{"mistral_7b", "llama3_8b"}},
			"large":  {MaxTokens: 200000, Models: []string{"deepseek_coder", "claude", "gemini"}},
		},
		Aliases: map[string]string{
			"fast":  "phi2_local",
			"coder": "deepseek_coder",
		},
		Generation: map[string]GenerationConfig{
			"tool_call":         {Temperature: 0.1, MaxTokens: 256, SystemPrompt: "Reply with the exact tool invocation and nothing else."},
			"code_generation":   {Temperature: 0.2, MaxTokens: 4096, SystemPrompt: "You are a careful programmer. Return working code."},
			"system_analysis":   {Temperature: 0.3, MaxTokens: 1024, SystemPrompt: "You diagnose operating system state. Report metrics with units."},
			"quick_response":    {Temperature: 0.5, MaxTokens: 256},
			"visual_analysis":   {Temperature: 0.4, MaxTokens: 1024},
			"complex_reasoning": {Temperature: 0.7, MaxTokens: 4096, SystemPrompt: "Reason step by step before answering."},
			"general_knowledge": {Temperature: 0.7, MaxTokens: 1024},
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	lb := &cfg.LoadBalancing
	if lb.Strategy == "" {
		lb.Strategy = "queue"
	}
	if lb.MaxConcurrentRequests == 0 {
		lb.MaxConcurrentRequests = 4
	}
	if lb.QueueTimeoutMs == 0 {
		lb.QueueTimeoutMs = 5000
	}
	if lb.TimeoutMs == 0 {
		lb.TimeoutMs = 30000
	}
	if lb.RetryAttempts == 0 {
		lb.RetryAttempts = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 100
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 1000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
}

// Validate cross-checks every model reference against the catalogue.
func (c *RoutingConfig) Validate(models *ModelsConfig) error {
	var errs []error

	if c.DefaultModel == "" {
		errs = append(errs, fmt.Errorf("default_model is required"))
	} else if !models.Has(c.ResolveModel(c.DefaultModel)) {
		errs = append(errs, fmt.Errorf("default_model %q not found", c.DefaultModel))
	}
	for _, id := range c.OfflineChain {
		if !models.Has(id) {
			errs = append(errs, fmt.Errorf("offline_chain model %q not found", id))
		}
	}
	for _, intent := range sortedKeys(c.Intents) {
		for _, id := range c.Intents[intent] {
			if !models.Has(id) {
				errs = append(errs, fmt.Errorf("intent %s model %q not found", intent, id))
			}
		}
	}
	for _, tier := range sortedKeys(c.Performance) {
		for _, id := range c.Performance[tier] {
			if !models.Has(id) {
				errs = append(errs, fmt.Errorf("performance tier %s model %q not found", tier, id))
			}
		}
	}
	for _, name := range sortedKeys(c.Context) {
		for _, id := range c.Context[name].Models {
			if !models.Has(id) {
				errs = append(errs, fmt.Errorf("context bucket %s model %q not found", name, id))
			}
		}
	}
	for _, alias := range sortedKeys(c.Aliases) {
		if !models.Has(c.Aliases[alias]) {
			errs = append(errs, fmt.Errorf("alias %s target %q not found", alias, c.Aliases[alias]))
		}
	}
	switch c.LoadBalancing.Strategy {
	case "queue", "reject":
	default:
		errs = append(errs, fmt.Errorf("unknown load_balancing.strategy %q", c.LoadBalancing.Strategy))
	}
	if c.LoadBalancing.MaxConcurrentRequests < 0 {
		errs = append(errs, fmt.Errorf("load_balancing.max_concurrent_requests must not be negative"))
	}

	return errors.Join(errs...)
}

// ResolveModel maps an alias to its model id. Unknown names pass through.
func (c *RoutingConfig) ResolveModel(name string) string {
	if target, ok := c.Aliases[name]; ok {
		return target
	}
	return name
}

// GenerationFor returns generation parameters for an intent, falling back
// to conservative defaults.
func (c *RoutingConfig) GenerationFor(intent string) GenerationConfig {
	if gen, ok := c.Generation[intent]; ok {
		if gen.MaxTokens == 0 {
			gen.MaxTokens = 1024
		}
		return gen
	}
	return GenerationConfig{Temperature: 0.7, MaxTokens: 1024}
}

// ContextBucketFor returns the smallest bucket that fits tokens.
func (c *RoutingConfig) ContextBucketFor(tokens int) (string, bool) {
	best := ""
	bestMax := 0
	for _, name := range sortedKeys(c.Context) {
		bucket := c.Context[name]
		if bucket.MaxTokens < tokens {
			continue
		}
		if best == "" || bucket.MaxTokens < bestMax {
			best = name
			bestMax = bucket.MaxTokens
		}
	}
	return best, best != ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
