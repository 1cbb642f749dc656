package config

import (
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
)

// ModelsConfig is the backend catalogue loaded from models.toml.
type ModelsConfig struct {
	Models map[string]ModelConfig `toml:"models"`

	// Order lists model ids in declaration order. Routing uses it to keep
	// sorting stable for entries that compare equal.
	Order []string `toml:"-"`
}

// ModelConfig describes one backend entry.
type ModelConfig struct {
	ID              string   `toml:"-" json:"-"`
	Name            string   `toml:"name" json:"name"`
	Provider        string   `toml:"provider" json:"provider"`
	Endpoint        string   `toml:"endpoint" json:"endpoint,omitempty"`
	ModelID         string   `toml:"model_id" json:"model_id,omitempty"`
	Location        string   `toml:"location" json:"location"`
	Trusted         bool     `toml:"trusted" json:"trusted"`
	AllowToolCalls  bool     `toml:"allow_tool_calls" json:"allow_tool_calls"`
	OfflineOnly     bool     `toml:"offline_only" json:"offline_only"`
	Capabilities    []string `toml:"capabilities" json:"capabilities"`
	PerformanceTier string   `toml:"performance_tier" json:"performance_tier"`
	ContextLength   int      `toml:"context_length" json:"context_length"`
	Priority        int      `toml:"priority" json:"priority"`
	UseCases        []string `toml:"use_cases" json:"use_cases,omitempty"`
	SafetyNotes     string   `toml:"safety_notes" json:"safety_notes,omitempty"`
}

const modelSchema = `
name:             string & !=""
provider:         string & !=""
endpoint?:        string
model_id?:        string
location:         "local" | "remote"
trusted:          bool
allow_tool_calls: bool
offline_only:     bool
capabilities:     [string, ...string]
performance_tier: "realtime" | "fast" | "balanced" | "powerful" | "specialized"
context_length:   int & >0
priority:         int & >=0 & <=100
use_cases?:       [...string]
safety_notes?:    string
`

// LoadModels reads and validates models.toml.
func LoadModels(path string) (*ModelsConfig, error) {
	var cfg ModelsConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == "models" {
			cfg.Order = append(cfg.Order, key[1])
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every model entry against the catalogue schema.
func (m *ModelsConfig) Validate() error {
	if len(m.Models) == 0 {
		return fmt.Errorf("no models configured")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + modelSchema + "})")
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile model schema: %w", err)
	}

	for _, id := range m.IDs() {
		model := m.Models[id]
		value := ctx.Encode(model)
		if err := value.Err(); err != nil {
			return fmt.Errorf("model %s: %w", id, err)
		}
		if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
			return fmt.Errorf("model %s: %w", id, err)
		}
	}
	return nil
}

// normalize fills ids, default locations and declaration order, then validates.
func (m *ModelsConfig) normalize() error {
	if m.Models == nil {
		m.Models = make(map[string]ModelConfig)
	}

	seen := make(map[string]bool, len(m.Order))
	order := m.Order[:0]
	for _, id := range m.Order {
		if _, ok := m.Models[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	var missing []string
	for id := range m.Models {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	m.Order = append(order, missing...)

	for _, id := range m.Order {
		model := m.Models[id]
		model.ID = id
		if model.Location == "" {
			if model.OfflineOnly {
				model.Location = "local"
			} else {
				model.Location = "remote"
			}
		}
		if model.ModelID == "" {
			model.ModelID = id
		}
		m.Models[id] = model
	}

	return m.Validate()
}

// IDs returns model ids in declaration order, falling back to sorted order
// for entries that were not declared through a file.
func (m *ModelsConfig) IDs() []string {
	if len(m.Order) == len(m.Models) {
		return append([]string(nil), m.Order...)
	}
	ids := make([]string, 0, len(m.Models))
	for id := range m.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether a model id exists.
func (m *ModelsConfig) Has(id string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Models[id]
	return ok
}

// DefaultModels returns the built-in backend catalogue used when no
// models.toml exists.
func DefaultModels() *ModelsConfig {
	cfg := &ModelsConfig{
		Models: map[string]ModelConfig{
			"phi2_local": {
				Name:            "Phi-2 (local)",
				Provider:        "ollama",
				Endpoint:        "http://localhost:11434/v1",
				ModelID:         "phi",
				Location:        "local",
				Trusted:         true,
				AllowToolCalls:  true,
				OfflineOnly:     true,
				Capabilities:    []string{"tool_calling", "text_generation", "question_answering"},
				PerformanceTier: "realtime",
				ContextLength:   2048,
				Priority:        90,
				UseCases:        []string{"tool calls", "quick answers"},
				SafetyNotes:     "Trusted for system tool execution.",
			},
			"mistral_7b": {
				Name:            "Mistral 7B Instruct",
				Provider:        "ollama",
				Endpoint:        "http://localhost:11434/v1",
				ModelID:         "mistral:7b-instruct",
				Location:        "local",
				Trusted:         true,
				AllowToolCalls:  true,
				OfflineOnly:     true,
				Capabilities:    []string{"tool_calling", "text_generation", "question_answering", "system_analysis"},
				PerformanceTier: "fast",
				ContextLength:   8192,
				Priority:        80,
				UseCases:        []string{"diagnostics", "general questions"},
			},
			"llama3_8b": {
				Name:            "Llama 3 8B",
				Provider:        "ollama",
				Endpoint:        "http://localhost:11434/v1",
				ModelID:         "llama3:8b",
				Location:        "local",
				Trusted:         true,
				AllowToolCalls:  false,
				OfflineOnly:     true,
				Capabilities:    []string{"text_generation", "question_answering", "system_analysis", "code_generation"},
				PerformanceTier: "balanced",
				ContextLength:   8192,
				Priority:        70,
			},
			"deepseek_coder": {
				Name:            "DeepSeek Coder V2",
				Provider:        "ollama",
				Endpoint:        "http://localhost:11434/v1",
				ModelID:         "deepseek-coder-v2",
				Location:        "local",
				Trusted:         false,
				AllowToolCalls:  false,
				OfflineOnly:     true,
				Capabilities:    []string{"code_generation", "text_generation", "question_answering"},
				PerformanceTier: "balanced",
				ContextLength:   16384,
				Priority:        75,
				SafetyNotes:     "Code output only; never executes tools.",
			},
			"llama3_vision": {
				Name:            "Llama 3.2 Vision",
				Provider:        "ollama",
				Endpoint:        "http://localhost:11434/v1",
				ModelID:         "llama3.2-vision",
				Location:        "local",
				Capabilities:    []string{"vision", "text_generation"},
				PerformanceTier: "powerful",
				ContextLength:   8192,
				Priority:        60,
			},
			"claude": {
				Name:            "Claude Sonnet",
				Provider:        "anthropic",
				ModelID:         "claude-sonnet-4-20250514",
				Location:        "remote",
				Capabilities:    []string{"text_generation", "question_answering", "code_generation", "system_analysis", "vision"},
				PerformanceTier: "powerful",
				ContextLength:   200000,
				Priority:        50,
				SafetyNotes:     "Remote; answers only, no tool execution.",
			},
			"gpt": {
				Name:            "GPT",
				Provider:        "openai",
				ModelID:         "gpt-5.2-instant",
				Location:        "remote",
				Capabilities:    []string{"text_generation", "question_answering", "code_generation"},
				PerformanceTier: "fast",
				ContextLength:   128000,
				Priority:        45,
			},
			"gemini": {
				Name:            "Gemini Pro",
				Provider:        "google",
				ModelID:         "gemini-2.0-pro",
				Location:        "remote",
				Capabilities:    []string{"text_generation", "question_answering", "vision"},
				PerformanceTier: "powerful",
				ContextLength:   1000000,
				Priority:        40,
			},
		},
		Order: []string{"phi2_local", "mistral_7b", "llama3_8b", "deepseek_coder", "llama3_vision", "claude", "gpt", "gemini"},
	}
	if err := cfg.normalize(); err != nil {
		panic(fmt.Sprintf("default models invalid: %v", err))
	}
	return cfg
}
