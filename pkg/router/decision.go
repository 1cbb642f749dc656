package router

import (
	"errors"

	"github.com/zen-systems/sentinel/pkg/intent"
)

// Decision captures routing decision details for dry runs.
type Decision struct {
	Intent          intent.Category `json:"intent"`
	Confidence      float64         `json:"confidence"`
	Signals         []string        `json:"signals,omitempty"`
	Hybrid          intent.Hybrid   `json:"hybrid"`
	EstimatedTokens int             `json:"estimated_tokens"`
	ContextBucket   string          `json:"context_bucket,omitempty"`
	Stages          []Stage         `json:"stages"`
	Chain           []string        `json:"chain"`
	OfflineChain    []string        `json:"offline_chain"`
	Offline         bool            `json:"offline"`
	NoEligible      bool            `json:"no_eligible_backend,omitempty"`
}

// Explain routes a request without executing it and reports each step.
func (r *Router) Explain(res intent.Result, opts Options) *Decision {
	chain, err := r.Route(res, opts)

	d := &Decision{
		Intent:          res.Category,
		Confidence:      res.Confidence,
		Signals:         res.Signals,
		Hybrid:          res.Hybrid,
		EstimatedTokens: res.EstimatedTokens,
		Stages:          chain.Stages,
		Chain:           chain.IDs(),
		Offline:         opts.Offline,
		NoEligible:      errors.Is(err, ErrNoEligibleBackend),
	}
	if bucket, ok := r.config.ContextBucketFor(res.EstimatedTokens); ok {
		d.ContextBucket = bucket
	}
	tried := make(map[string]bool)
	for _, id := range d.Chain {
		tried[id] = true
	}
	d.OfflineChain = descriptorIDs(r.offlineChain(res.Category, tried))
	return d
}
