// Package registry holds the immutable catalogue of model backends.
package registry

import (
	"fmt"
	"sort"

	"github.com/zen-systems/sentinel/pkg/config"
)

// Capability tags a function a backend can perform.
type Capability string

const (
	CapToolCalling       Capability = "tool_calling"
	CapCodeGeneration    Capability = "code_generation"
	CapSystemAnalysis    Capability = "system_analysis"
	CapTextGeneration    Capability = "text_generation"
	CapVision            Capability = "vision"
	CapQuestionAnswering Capability = "question_answering"
)

// Tier is a backend's performance class.
type Tier string

const (
	TierRealtime    Tier = "realtime"
	TierFast        Tier = "fast"
	TierBalanced    Tier = "balanced"
	TierPowerful    Tier = "powerful"
	TierSpecialized Tier = "specialized"
)

// Rank orders tiers by expected latency, fastest first.
func (t Tier) Rank() int {
	switch t {
	case TierRealtime:
		return 0
	case TierFast:
		return 1
	case TierBalanced:
		return 2
	case TierPowerful:
		return 3
	case TierSpecialized:
		return 4
	default:
		return 5
	}
}

// Descriptor describes one backend. Descriptors are shared read-only
// after the registry is built.
type Descriptor struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Provider       string       `json:"provider"`
	Endpoint       string       `json:"endpoint,omitempty"`
	ModelID        string       `json:"model_id"`
	Trusted        bool         `json:"trusted"`
	AllowToolCalls bool         `json:"allow_tool_calls"`
	Local          bool         `json:"local"`
	Capabilities   []Capability `json:"capabilities"`
	Tier           Tier         `json:"performance_tier"`
	ContextLength  int          `json:"context_length"`
	Priority       int          `json:"priority"`
	UseCases       []string     `json:"use_cases,omitempty"`
	SafetyNotes    string       `json:"safety_notes,omitempty"`

	order int
}

// Has reports whether the backend declares a capability.
func (d *Descriptor) Has(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasAll reports whether the backend declares every capability in caps.
func (d *Descriptor) HasAll(caps []Capability) bool {
	for _, c := range caps {
		if !d.Has(c) {
			return false
		}
	}
	return true
}

// ToolEligible reports whether the backend may be the source of a tool
// execution.
func (d *Descriptor) ToolEligible() bool {
	return d.Trusted && d.AllowToolCalls
}

// Order returns the declaration index of the backend.
func (d *Descriptor) Order() int {
	return d.order
}

// Registry is the catalogue of backends, keyed by id.
type Registry struct {
	byID    map[string]*Descriptor
	ordered []*Descriptor
}

// New builds a registry from a validated models configuration.
func New(cfg *config.ModelsConfig) (*Registry, error) {
	if cfg == nil || len(cfg.Models) == 0 {
		return nil, fmt.Errorf("registry requires at least one model")
	}

	r := &Registry{byID: make(map[string]*Descriptor, len(cfg.Models))}
	for i, id := range cfg.IDs() {
		m := cfg.Models[id]
		caps := make([]Capability, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, Capability(c))
		}
		d := &Descriptor{
			ID:             id,
			Name:           m.Name,
			Provider:       m.Provider,
			Endpoint:       m.Endpoint,
			ModelID:        m.ModelID,
			Trusted:        m.Trusted,
			AllowToolCalls: m.AllowToolCalls,
			Local:          m.Location == "local" || m.OfflineOnly,
			Capabilities:   caps,
			Tier:           Tier(m.PerformanceTier),
			ContextLength:  m.ContextLength,
			Priority:       m.Priority,
			UseCases:       append([]string(nil), m.UseCases...),
			SafetyNotes:    m.SafetyNotes,
			order:          i,
		}
		if d.ModelID == "" {
			d.ModelID = id
		}
		r.byID[id] = d
		r.ordered = append(r.ordered, d)
	}
	return r, nil
}

// Get returns the backend with the given id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// List returns all backends in declaration order.
func (r *Registry) List() []*Descriptor {
	return append([]*Descriptor(nil), r.ordered...)
}

// Lookup resolves ids in order, failing on the first unknown id.
func (r *Registry) Lookup(ids []string) ([]*Descriptor, error) {
	out := make([]*Descriptor, 0, len(ids))
	for _, id := range ids {
		d, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown model %q", id)
		}
		out = append(out, d)
	}
	return out, nil
}

// ByTier returns backends in one tier, highest priority first.
func (r *Registry) ByTier(t Tier) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.ordered {
		if d.Tier == t {
			out = append(out, d)
		}
	}
	sortByPriority(out)
	return out
}

// Local returns the backends that run without network access.
func (r *Registry) Local() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.ordered {
		if d.Local {
			out = append(out, d)
		}
	}
	return out
}

// ForContext returns the backend with the smallest context window that
// still fits tokens, preferring higher priority among equals.
func (r *Registry) ForContext(tokens int) (*Descriptor, bool) {
	var fits []*Descriptor
	for _, d := range r.ordered {
		if d.ContextLength >= tokens {
			fits = append(fits, d)
		}
	}
	if len(fits) == 0 {
		return nil, false
	}
	sort.SliceStable(fits, func(i, j int) bool {
		if fits[i].ContextLength != fits[j].ContextLength {
			return fits[i].ContextLength < fits[j].ContextLength
		}
		return fits[i].Priority > fits[j].Priority
	})
	return fits[0], true
}

func sortByPriority(ds []*Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority > ds[j].Priority
		}
		return ds[i].order < ds[j].order
	})
}
