package reward

import (
	"context"
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/zen-systems/sentinel/pkg/trace"
)

// maxSteps bounds one rule evaluation.
const maxSteps = 10000

// Source says where a reward came from.
type Source string

const (
	SourceInteractive Source = "interactive"
	SourceAuto        Source = "auto"
	SourceNone        Source = "none"
)

// Evaluation is the outcome of the auto policy for one record.
type Evaluation struct {
	Reward float64  `json:"reward"`
	Fired  []string `json:"fired"`
}

// Decision is the reward to attach, if any.
type Decision struct {
	Reward *float64    `json:"reward"`
	Source Source      `json:"source"`
	Auto   *Evaluation `json:"auto,omitempty"`
}

// Ledger is the part of the trace ledger the engine writes to.
type Ledger interface {
	Get(id string) (*trace.Record, error)
	UpdateReward(id string, reward float64) error
}

// Engine evaluates a reward policy.
type Engine struct {
	policy *Policy
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine compiles p. A nil policy selects DefaultPolicy.
func NewEngine(p *Policy, opts ...Option) (*Engine, error) {
	if p == nil {
		p = DefaultPolicy()
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	e := &Engine{policy: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the compiled policy.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Auto evaluates every rule against rec. The summed reward is clamped to
// [-1, 1]. A rule that fails to evaluate is logged and treated as false.
func (e *Engine) Auto(rec *trace.Record) *Evaluation {
	env := e.env(rec)
	keys := []string{rec.Intent, rec.Hybrid}
	ev := &Evaluation{Fired: []string{}}
	for _, r := range e.policy.Rules {
		thread := &starlark.Thread{Name: "reward:" + r.Name}
		thread.SetMaxExecutionSteps(maxSteps)
		v, err := starlark.EvalExprOptions(&syntax.FileOptions{}, thread, r.expr, env)
		if err != nil {
			e.logger.Warn("reward rule failed", "rule", r.Name, "trace_id", rec.TraceID, "error", err)
			continue
		}
		if !bool(v.Truth()) {
			continue
		}
		ev.Fired = append(ev.Fired, r.Name)
		ev.Reward += e.policy.Values[r.Reward] * e.policy.weight(keys, r.Reward)
	}
	ev.Reward = min(1, max(-1, ev.Reward))
	return ev
}

// Resolve picks the reward for rec. Interactive feedback wins; Skip leaves
// the record unrated; NoFeedback falls back to the auto policy, which
// yields nothing when no rule fires.
func (e *Engine) Resolve(fb Feedback, rec *trace.Record) Decision {
	if v, ok := fb.Value(); ok {
		return Decision{Reward: &v, Source: SourceInteractive}
	}
	if fb == Skip {
		return Decision{Source: SourceNone}
	}
	ev := e.Auto(rec)
	if len(ev.Fired) == 0 {
		return Decision{Source: SourceNone, Auto: ev}
	}
	v := ev.Reward
	return Decision{Reward: &v, Source: SourceAuto, Auto: ev}
}

// Apply resolves the reward for one ledger record and writes it.
func (e *Engine) Apply(ctx context.Context, ledger Ledger, id string, fb Feedback) (Decision, error) {
	rec, err := ledger.Get(id)
	if err != nil {
		return Decision{}, err
	}
	d := e.Resolve(fb, rec)
	if d.Reward == nil {
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return d, err
	}
	if err := ledger.UpdateReward(id, *d.Reward); err != nil {
		return d, fmt.Errorf("attach reward to %s: %w", id, err)
	}
	e.logger.Debug("reward attached", "trace_id", id, "reward", *d.Reward, "source", d.Source)
	return d, nil
}

func (e *Engine) env(rec *trace.Record) starlark.StringDict {
	env := starlark.StringDict{
		"success":     starlark.Bool(rec.Success),
		"intent":      starlark.String(rec.Intent),
		"hybrid":      starlark.String(rec.Hybrid),
		"model":       starlark.String(rec.ModelUsed),
		"tool":        starlark.None,
		"tool_state":  starlark.String(""),
		"exit_code":   starlark.None,
		"duration_ms": starlark.MakeInt64(rec.DurationMs),
		"rag_used":    starlark.Bool(rec.RAGUsed),
		"degraded":    starlark.Bool(rec.Degraded),
	}
	if rec.ToolExecuted != nil {
		env["tool"] = starlark.String(*rec.ToolExecuted)
	}
	if rec.Tool != nil {
		env["tool_state"] = starlark.String(rec.Tool.State)
		env["exit_code"] = starlark.MakeInt(rec.Tool.ExitCode)
	}
	conds := make([]starlark.Value, len(rec.ConditionsEvaluated))
	for i, c := range rec.ConditionsEvaluated {
		conds[i] = starlark.String(c)
	}
	env["conditions"] = starlark.NewList(conds)
	for name, v := range e.policy.Thresholds {
		env[name] = starlark.MakeInt64(v)
	}
	return env
}
