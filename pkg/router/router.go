// Package router selects and calls model backends for a classified request.
package router

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/zen-systems/sentinel/pkg/backend"
	"github.com/zen-systems/sentinel/pkg/config"
	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/registry"
)

// Router filters the registry into a chain for each request and executes it.
type Router struct {
	registry  *registry.Registry
	config    *config.RoutingConfig
	clients   map[string]backend.Backend
	admission *admission
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a router. clients maps model ids to their backend clients;
// models without a client are skipped at execution time.
func New(reg *registry.Registry, cfg *config.RoutingConfig, clients map[string]backend.Backend, opts ...Option) *Router {
	if cfg == nil {
		cfg = config.DefaultRoutingConfig()
	}
	r := &Router{
		registry:  reg,
		config:    cfg,
		clients:   clients,
		admission: newAdmission(cfg.LoadBalancing),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Options modify a single routing decision.
type Options struct {
	// Offline restricts the chain to local backends.
	Offline bool
}

// Elimination records why a backend left the candidate set.
type Elimination struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
}

// Stage is one step of the filter pipeline.
type Stage struct {
	Name       string        `json:"name"`
	Remaining  []string      `json:"remaining"`
	Eliminated []Elimination `json:"eliminated,omitempty"`
}

// Chain is the ordered candidate list for one request. It is built fresh
// per request and never persisted.
type Chain struct {
	Intent          intent.Category        `json:"intent"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	Offline         bool                   `json:"offline"`
	Candidates      []*registry.Descriptor `json:"-"`
	Stages          []Stage                `json:"stages"`
}

// IDs returns the candidate ids in order.
func (c *Chain) IDs() []string {
	if c == nil {
		return nil
	}
	return descriptorIDs(c.Candidates)
}

type filter struct {
	name string
	keep func(d *registry.Descriptor) (bool, string)
}

// Route builds the routing chain for a classified request. Every stage
// only narrows the set. Stage (b) is applied for ToolCall requests
// unconditionally; no configuration can readmit an untrusted backend.
func (r *Router) Route(res intent.Result, opts Options) (*Chain, error) {
	chain := &Chain{
		Intent:          res.Category,
		EstimatedTokens: res.EstimatedTokens,
		Offline:         opts.Offline,
	}

	filters := []filter{{
		name: "capabilities",
		keep: func(d *registry.Descriptor) (bool, string) {
			for _, c := range res.Capabilities {
				if !d.Has(c) {
					return false, fmt.Sprintf("missing capability %s", c)
				}
			}
			return true, ""
		},
	}}
	if res.Category == intent.ToolCall {
		filters = append(filters, filter{name: "tool_trust", keep: toolTrust})
	}
	filters = append(filters, filter{
		name: "context_length",
		keep: func(d *registry.Descriptor) (bool, string) {
			if d.ContextLength < res.EstimatedTokens {
				return false, fmt.Sprintf("context %d < estimated %d tokens", d.ContextLength, res.EstimatedTokens)
			}
			return true, ""
		},
	})
	if opts.Offline {
		filters = append(filters, filter{
			name: "offline",
			keep: func(d *registry.Descriptor) (bool, string) {
				if !d.Local {
					return false, "remote backend in offline mode"
				}
				return true, ""
			},
		})
	}

	candidates := r.registry.List()
	for _, f := range filters {
		stage := Stage{Name: f.name}
		kept := candidates[:0:0]
		for _, d := range candidates {
			if ok, reason := f.keep(d); ok {
				kept = append(kept, d)
			} else {
				stage.Eliminated = append(stage.Eliminated, Elimination{Backend: d.ID, Reason: reason})
			}
		}
		stage.Remaining = descriptorIDs(kept)
		chain.Stages = append(chain.Stages, stage)
		candidates = kept
	}

	r.order(res.Category, candidates)
	chain.Candidates = candidates

	if len(candidates) == 0 {
		return chain, fmt.Errorf("%w for intent %s", ErrNoEligibleBackend, res.Category)
	}
	return chain, nil
}

func toolTrust(d *registry.Descriptor) (bool, string) {
	switch {
	case !d.Trusted:
		return false, "untrusted backend cannot source a tool call"
	case !d.AllowToolCalls:
		return false, "tool calls not allowed"
	}
	return true, ""
}

// order sorts by priority, then tier latency, then the intent's configured
// preference list, then declaration order.
func (r *Router) order(category intent.Category, ds []*registry.Descriptor) {
	pref := make(map[string]int)
	for i, id := range r.config.Intents[string(category)] {
		id = r.config.ResolveModel(id)
		if _, ok := pref[id]; !ok {
			pref[id] = i
		}
	}
	rank := func(id string) int {
		if i, ok := pref[id]; ok {
			return i
		}
		return len(pref)
	}

	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() < b.Tier.Rank()
		}
		if ra, rb := rank(a.ID), rank(b.ID); ra != rb {
			return ra < rb
		}
		return a.Order() < b.Order()
	})
}

// offlineChain resolves the configured offline chain, excluding backends
// already tried and, for ToolCall requests, backends that may not source
// a tool call.
func (r *Router) offlineChain(category intent.Category, tried map[string]bool) []*registry.Descriptor {
	var out []*registry.Descriptor
	for _, id := range r.config.OfflineChain {
		d, ok := r.registry.Get(r.config.ResolveModel(id))
		if !ok || tried[d.ID] {
			continue
		}
		if category == intent.ToolCall {
			if ok, _ := toolTrust(d); !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// RouteInfo describes the configured preferences for one intent.
type RouteInfo struct {
	Intent       intent.Category       `json:"intent"`
	Capabilities []registry.Capability `json:"capabilities"`
	Tier         registry.Tier         `json:"performance"`
	Preferred    []string              `json:"preferred,omitempty"`
}

// Routes lists the routing preferences for every intent category.
func (r *Router) Routes() []RouteInfo {
	routes := make([]RouteInfo, 0, len(intent.Categories))
	for _, c := range intent.Categories {
		caps, tier := intent.Profile(c)
		var preferred []string
		for _, id := range r.config.Intents[string(c)] {
			preferred = append(preferred, r.config.ResolveModel(id))
		}
		routes = append(routes, RouteInfo{Intent: c, Capabilities: caps, Tier: tier, Preferred: preferred})
	}
	return routes
}

// Config returns the routing configuration.
func (r *Router) Config() *config.RoutingConfig {
	return r.config
}

func descriptorIDs(ds []*registry.Descriptor) []string {
	ids := make([]string, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.ID)
	}
	return ids
}
