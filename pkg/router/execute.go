package router

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/sentinel/pkg/backend"
	"github.com/zen-systems/sentinel/pkg/config"
	"github.com/zen-systems/sentinel/pkg/registry"
)

// Result is a successful execution.
type Result struct {
	Response *backend.Response    `json:"response"`
	Backend  *registry.Descriptor `json:"backend"`
	Attempts []Attempt            `json:"attempts"`
	// FallbackUsed is set when the answer did not come from the first candidate.
	FallbackUsed bool `json:"fallback_used"`
	// OfflineChain is set when the answer came from the static offline chain.
	OfflineChain bool `json:"offline_chain"`
}

// Execute calls the chain's candidates in order. Each candidate gets up to
// retry_attempts tries, each bounded by timeout_ms; non-transient failures
// advance immediately. When the chain is exhausted the offline chain is
// tried, also when the routing filters left no candidates at all. Failure of
// both yields an *UnavailableError; an empty chain with no offline fallback
// is ErrNoEligibleBackend.
func (r *Router) Execute(ctx context.Context, chain *Chain, req backend.Request) (*Result, error) {
	if chain == nil {
		return nil, ErrNoEligibleBackend
	}
	tried := make(map[string]bool, len(chain.Candidates))
	for _, d := range chain.Candidates {
		tried[d.ID] = true
	}
	offline := r.offlineChain(chain.Intent, tried)
	if len(chain.Candidates) == 0 && len(offline) == 0 {
		return nil, ErrNoEligibleBackend
	}

	release, err := r.admission.acquire(ctx)
	if err != nil {
		r.logger.Warn("request not admitted", "intent", chain.Intent, "error", err)
		return nil, err
	}
	defer release()

	var attempts []Attempt
	for idx, d := range chain.Candidates {
		resp, err := r.call(ctx, d, req, false, &attempts)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return &Result{Response: resp, Backend: d, Attempts: attempts, FallbackUsed: idx > 0}, nil
		}
	}

	if len(offline) > 0 {
		r.logger.Warn("routing chain exhausted, trying offline chain", "intent", chain.Intent, "offline_chain", descriptorIDs(offline))
	}
	for _, d := range offline {
		resp, err := r.call(ctx, d, req, true, &attempts)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return &Result{Response: resp, Backend: d, Attempts: attempts, FallbackUsed: true, OfflineChain: true}, nil
		}
	}

	return nil, &UnavailableError{Attempts: attempts, OfflineTried: len(offline) > 0}
}

// call tries one backend. It returns (nil, nil) when the backend failed and
// the next candidate should be tried, and an error only when the caller's
// context ended.
func (r *Router) call(ctx context.Context, d *registry.Descriptor, req backend.Request, offline bool, attempts *[]Attempt) (*backend.Response, error) {
	client, ok := r.clients[d.ID]
	if !ok {
		*attempts = append(*attempts, Attempt{Backend: d.ID, Try: 1, Offline: offline, Error: "no client configured"})
		return nil, nil
	}

	lb := r.config.LoadBalancing
	tries := lb.RetryAttempts
	if tries < 1 {
		tries = 1
	}
	timeout := time.Duration(lb.TimeoutMs) * time.Millisecond

	req.Model = d.ModelID
	for try := 1; try <= tries; try++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		start := time.Now()
		resp, err := client.Generate(actx, req)
		cancel()
		elapsed := time.Since(start)

		if err == nil && resp == nil {
			err = backend.Malformed("backend returned no response")
		}
		if err == nil {
			*attempts = append(*attempts, Attempt{Backend: d.ID, Try: try, Offline: offline, Duration: elapsed.Milliseconds()})
			resp.Backend = d.ID
			if resp.Model == "" {
				resp.Model = d.ModelID
			}
			return resp, nil
		}

		*attempts = append(*attempts, Attempt{Backend: d.ID, Try: try, Offline: offline, Duration: elapsed.Milliseconds(), Error: err.Error()})
		if ctx.Err() != nil {
			return nil, fmt.Errorf("routing %s: %w", d.ID, ctx.Err())
		}
		r.logger.Debug("backend attempt failed", "backend", d.ID, "try", try, "kind", backend.KindOf(err), "error", err)

		if !backend.IsTransient(err) || try == tries {
			break
		}
		if err := pause(ctx, retryDelay(r.config.Retry, try)); err != nil {
			return nil, fmt.Errorf("routing %s: %w", d.ID, err)
		}
	}
	return nil, nil
}

// retryDelay is the wait after failed try n (1-based): the base delay
// doubled for every earlier retry, capped at the configured maximum.
func retryDelay(rc config.RetryConfig, n int) time.Duration {
	limit := time.Duration(rc.MaxBackoffMs) * time.Millisecond
	d := time.Duration(rc.BaseBackoffMs) * time.Millisecond
	for i := 1; i < n && d < limit; i++ {
		d *= 2
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

// pause waits for d or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
