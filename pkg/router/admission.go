package router

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/zen-systems/sentinel/pkg/config"
)

// admission bounds in-flight executions. Excess requests either wait for
// a slot up to the queue timeout or are refused at once, depending on the
// strategy; they are never dropped without an error.
type admission struct {
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	reject       bool
	queueTimeout time.Duration
	capacity     int64
}

func newAdmission(lb config.LoadBalancingConfig) *admission {
	capacity := int64(lb.MaxConcurrentRequests)
	if capacity <= 0 {
		capacity = 1
	}
	a := &admission{
		sem:          semaphore.NewWeighted(capacity),
		reject:       lb.Strategy == "reject",
		queueTimeout: time.Duration(lb.QueueTimeoutMs) * time.Millisecond,
		capacity:     capacity,
	}
	if lb.RequestsPerSecond > 0 {
		burst := int(lb.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(lb.RequestsPerSecond), burst)
	}
	return a
}

// acquire takes a slot. The returned release must be called exactly once.
func (a *admission) acquire(ctx context.Context) (func(), error) {
	if a.reject {
		if !a.sem.TryAcquire(1) {
			return nil, fmt.Errorf("%w: %d executions in flight", ErrOverloaded, a.capacity)
		}
		if a.limiter != nil && !a.limiter.Allow() {
			a.sem.Release(1)
			return nil, fmt.Errorf("%w: rate limit exceeded", ErrOverloaded)
		}
		return func() { a.sem.Release(1) }, nil
	}

	qctx := ctx
	if a.queueTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, a.queueTimeout)
		defer cancel()
	}

	if err := a.sem.Acquire(qctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: queued longer than %s", ErrOverloaded, a.queueTimeout)
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(qctx); err != nil {
			a.sem.Release(1)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: rate limit exceeded", ErrOverloaded)
		}
	}
	return func() { a.sem.Release(1) }, nil
}
