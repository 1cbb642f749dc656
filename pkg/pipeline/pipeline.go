// Package pipeline runs one request end to end: classify, route, answer,
// match conditions, execute a tool, record the trace and attach a reward.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zen-systems/sentinel/pkg/condition"
	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/reward"
	"github.com/zen-systems/sentinel/pkg/router"
	"github.com/zen-systems/sentinel/pkg/tool"
	"github.com/zen-systems/sentinel/pkg/trace"
)

// Components are the collaborators a Pipeline wires together. Classifier,
// Router, Tools and Ledger are required.
type Components struct {
	Classifier *intent.Classifier
	Router     *router.Router
	Conditions *condition.Matcher
	Tools      *tool.Executor
	Ledger     *trace.Ledger
	Rewards    *reward.Engine
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	classifier *intent.Classifier
	router     *router.Router
	conditions *condition.Matcher
	tools      *tool.Executor
	ledger     *trace.Ledger
	rewards    *reward.Engine
	logger     *slog.Logger
	privileged bool
	now        func() time.Time

	mu       sync.Mutex
	pending  map[string]*suspended
	inflight []<-chan struct{}
}

// suspended is a request whose tool awaits confirmation.
type suspended struct {
	record   *trace.Record
	recorded <-chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPrivileged grants privileged tool execution.
func WithPrivileged(granted bool) Option {
	return func(p *Pipeline) {
		p.privileged = granted
	}
}

// New builds a pipeline. A nil condition matcher uses the default rules.
func New(c Components, opts ...Option) (*Pipeline, error) {
	switch {
	case c.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case c.Router == nil:
		return nil, fmt.Errorf("router is required")
	case c.Tools == nil:
		return nil, fmt.Errorf("tool executor is required")
	case c.Ledger == nil:
		return nil, fmt.Errorf("trace ledger is required")
	}
	if c.Conditions == nil {
		m, err := condition.New(condition.Defaults())
		if err != nil {
			return nil, err
		}
		c.Conditions = m
	}

	p := &Pipeline{
		classifier: c.Classifier,
		router:     c.Router,
		conditions: c.Conditions,
		tools:      c.Tools,
		ledger:     c.Ledger,
		rewards:    c.Rewards,
		logger:     slog.Default(),
		now:        time.Now,
		pending:    make(map[string]*suspended),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Wait blocks until every background tool started so far has finished and
// its completion record has been appended, or ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	inflight := p.inflight
	p.inflight = nil
	p.mu.Unlock()

	for _, done := range inflight {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) track(done <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = append(p.inflight, done)
}

// FeedbackWindow is how long interactive feedback is awaited.
func (p *Pipeline) FeedbackWindow() time.Duration {
	if p.rewards == nil {
		return 0
	}
	return time.Duration(p.rewards.Policy().FeedbackWindowMs) * time.Millisecond
}
