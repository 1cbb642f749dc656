package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/sentinel/pkg/backend"
	"github.com/zen-systems/sentinel/pkg/condition"
	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/reward"
	"github.com/zen-systems/sentinel/pkg/router"
	"github.com/zen-systems/sentinel/pkg/tool"
	"github.com/zen-systems/sentinel/pkg/trace"
)

// maxTraceOutput caps tool output copied into a trace record.
const maxTraceOutput = 4096

// Options tune one request.
type Options struct {
	// Offline restricts routing to local backends.
	Offline bool

	// Confirmed pre-approves tools that require confirmation.
	Confirmed bool

	// Feedback is interactive feedback known up front.
	Feedback reward.Feedback

	// DeferReward leaves the record unrated so the caller can collect
	// feedback and call Feedback later.
	DeferReward bool
}

// Outcome is what the caller sees for one request.
type Outcome struct {
	TraceID      string           `json:"trace_id"`
	Intent       intent.Result    `json:"intent"`
	Answer       string           `json:"answer"`
	Backend      string           `json:"backend,omitempty"`
	Degraded     bool             `json:"degraded"`
	OfflineChain bool             `json:"offline_chain,omitempty"`
	Attempts     []router.Attempt `json:"attempts,omitempty"`
	Usage        *backend.Usage   `json:"usage,omitempty"`
	Conditions   []string         `json:"conditions_evaluated"`
	Tool         *tool.Result     `json:"tool,omitempty"`
	ToolError    string           `json:"tool_error,omitempty"`
	Reward       *reward.Decision `json:"reward,omitempty"`
	Duration     time.Duration    `json:"duration"`

	// ToolErr is the typed tool failure, for errors.Is.
	ToolErr error `json:"-"`
}

// Pending returns the open confirmation, if the tool is waiting for one.
func (o *Outcome) Pending() *tool.Pending {
	if o.Tool == nil {
		return nil
	}
	return o.Tool.Pending
}

// Handle runs one request. Backend exhaustion degrades to a canned answer
// and tool failures are reported in the Outcome; only admission refusal and
// caller cancellation return an error. A trace record is appended in every
// case.
func (p *Pipeline) Handle(ctx context.Context, prompt string, opts Options) (*Outcome, error) {
	start := p.now()
	rec := trace.NewRecord(prompt)
	rec.Timestamp = start.UTC()

	res := p.classifier.Classify(prompt)
	if err := res.Err(); err != nil {
		p.logger.Debug("using default intent", "trace_id", rec.TraceID, "error", err)
	}
	rec.Intent = string(res.Category)
	rec.Hybrid = string(res.Hybrid)

	out := &Outcome{TraceID: rec.TraceID, Intent: res, Conditions: []string{}}

	routed, err := p.answer(ctx, res, prompt, opts)
	switch {
	case err == nil:
		out.Answer = routed.Response.Text
		out.Backend = routed.Backend.ID
		out.Attempts = routed.Attempts
		out.Usage = routed.Response.Usage
		out.OfflineChain = routed.OfflineChain
		out.Degraded = routed.OfflineChain
		rec.ModelUsed = routed.Backend.ID
		rec.RAGUsed = ragUsed(routed.Response)
		rec.Success = true
	case errors.Is(err, router.ErrNoEligibleBackend), errors.Is(err, router.ErrAllBackendsUnavailable):
		var unavailable *router.UnavailableError
		if errors.As(err, &unavailable) {
			out.Attempts = unavailable.Attempts
		}
		out.Degraded = true
		out.Answer = degradedAnswer(res, err)
		rec.Error = err.Error()
		p.logger.Warn("serving degraded answer", "trace_id", rec.TraceID, "intent", res.Category, "error", err)
	default:
		rec.Error = err.Error()
		rec.DurationMs = p.now().Sub(start).Milliseconds()
		out.Duration = p.now().Sub(start)
		p.append(rec)
		return out, err
	}
	rec.Degraded = out.Degraded

	if res.Category == intent.ToolCall || res.Hybrid.WantsAction() {
		p.act(ctx, prompt, res, routed, rec, out, opts)
	}

	out.Duration = p.now().Sub(start)
	rec.DurationMs = out.Duration.Milliseconds()
	out.Reward = p.settle(rec, opts)
	p.append(rec)
	return out, nil
}

func (p *Pipeline) answer(ctx context.Context, res intent.Result, prompt string, opts Options) (*router.Result, error) {
	chain, err := p.router.Route(res, router.Options{Offline: opts.Offline})
	if err != nil && !errors.Is(err, router.ErrNoEligibleBackend) {
		return nil, err
	}
	gen := p.router.Config().GenerationFor(string(res.Category))
	return p.router.Execute(ctx, chain, backend.Request{
		Prompt:       prompt,
		SystemPrompt: gen.SystemPrompt,
		Temperature:  gen.Temperature,
		MaxTokens:    gen.MaxTokens,
	})
}

// act selects at most one tool call and runs it. Explicit commands in a
// ToolCall request win; otherwise the highest-priority condition rule that
// matches the answer's facts is forwarded and every match is recorded.
func (p *Pipeline) act(ctx context.Context, prompt string, res intent.Result, routed *router.Result, rec *trace.Record, out *Outcome, opts Options) {
	var (
		call         *intent.ToolCommand
		requireAsk   bool
		text         string
		backendFacts map[string]any
	)
	if routed != nil {
		text = routed.Response.Text
		backendFacts = routed.Response.Facts
	}

	if res.Category == intent.ToolCall {
		call, _ = p.classifier.ParseToolCommand(prompt)
	}
	if call == nil {
		matches := p.conditions.Evaluate(condition.ExtractFacts(text).Merge(backendFacts))
		rec.ConditionsEvaluated = condition.Names(matches)
		out.Conditions = rec.ConditionsEvaluated
		if len(matches) == 0 {
			return
		}
		best := matches[0]
		call = &intent.ToolCommand{Tool: best.Rule.Tool, Args: best.Args}
		requireAsk = best.Rule.Confirm
	}
	rec.ToolRequested = call.Tool

	if routed == nil {
		err := fmt.Errorf("%w: no backend answered to authorize %s", tool.ErrUntrustedToolCall, call.Tool)
		p.logger.Warn("rejected tool call", "trace_id", rec.TraceID, "tool", call.Tool, "error", err)
		p.toolFailed(rec, out, err)
		return
	}

	recorded := make(chan struct{})
	inv := tool.Invocation{
		Tool:                call.Tool,
		Args:                call.Args,
		Source:              routed.Backend,
		Privileged:          p.privileged,
		Confirmed:           opts.Confirmed,
		RequireConfirmation: requireAsk,
		OnComplete:          p.completion(origin{rec.TraceID, rec.Prompt, rec.Intent, rec.Hybrid, rec.ModelUsed}, recorded),
	}
	result, err := p.tools.Execute(ctx, inv)
	out.Tool = result
	rec.Tool = outcomeOf(result)
	if err != nil {
		if errors.Is(err, tool.ErrToolProcess) || errors.Is(err, tool.ErrExecutionTimeout) {
			rec.SetTool(call.Tool)
		}
		p.toolFailed(rec, out, err)
		return
	}

	switch result.State {
	case tool.StateConfirming:
		p.mu.Lock()
		p.pending[result.Pending.ID] = &suspended{record: rec, recorded: recorded}
		p.mu.Unlock()
	case tool.StateExecuting:
		rec.SetTool(call.Tool)
		p.track(recorded)
	default:
		rec.SetTool(call.Tool)
		rec.Success = result.Succeeded()
	}
}

func (p *Pipeline) toolFailed(rec *trace.Record, out *Outcome, err error) {
	out.ToolErr = err
	out.ToolError = err.Error()
	rec.Error = err.Error()
	rec.Success = false
}

// origin is the part of a request a later tool record correlates with.
type origin struct {
	traceID string
	prompt  string
	intent  string
	hybrid  string
	model   string
}

// completion returns the background callback. It appends a record
// correlated with the originating trace and closes recorded.
func (p *Pipeline) completion(o origin, recorded chan struct{}) func(*tool.Result, error) {
	return func(res *tool.Result, err error) {
		defer close(recorded)
		p.appendCorrelated(o, res, err)
	}
}

func (p *Pipeline) appendCorrelated(o origin, res *tool.Result, err error) *trace.Record {
	rec := trace.NewRecord(o.prompt)
	rec.CorrelationID = o.traceID
	rec.Intent = o.intent
	rec.Hybrid = o.hybrid
	rec.ModelUsed = o.model
	rec.ConditionsEvaluated = []string{}
	if res != nil {
		rec.ToolRequested = res.Tool
		rec.Tool = outcomeOf(res)
		rec.DurationMs = res.Duration.Milliseconds()
		if err == nil || errors.Is(err, tool.ErrToolProcess) || errors.Is(err, tool.ErrExecutionTimeout) {
			rec.SetTool(res.Tool)
		}
		rec.Success = err == nil && res.Succeeded()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	p.settle(rec, Options{})
	p.append(rec)
	return rec
}

// Confirm answers an open confirmation. The outcome is appended as a new
// record correlated with the request that proposed the tool.
func (p *Pipeline) Confirm(ctx context.Context, pendingID string, accept bool) (*Outcome, error) {
	p.mu.Lock()
	s, known := p.pending[pendingID]
	delete(p.pending, pendingID)
	p.mu.Unlock()

	start := p.now()
	result, err := p.tools.Resume(ctx, pendingID, accept)
	if errors.Is(err, tool.ErrPendingNotFound) {
		return nil, err
	}

	o := origin{}
	if known {
		o = origin{s.record.TraceID, s.record.Prompt, s.record.Intent, s.record.Hybrid, s.record.ModelUsed}
	}
	out := &Outcome{Tool: result, Conditions: []string{}, Backend: o.model}
	if err == nil && result.State == tool.StateExecuting {
		if known {
			p.track(s.recorded)
		}
		out.Duration = p.now().Sub(start)
		return out, nil
	}

	if err != nil {
		out.ToolErr = err
		out.ToolError = err.Error()
	}
	rec := p.appendCorrelated(o, result, err)
	out.TraceID = rec.TraceID
	out.Duration = p.now().Sub(start)
	return out, nil
}

// Feedback attaches interactive feedback to a recorded request.
func (p *Pipeline) Feedback(ctx context.Context, traceID string, fb reward.Feedback) (reward.Decision, error) {
	if p.rewards == nil {
		return reward.Decision{Source: reward.SourceNone}, fmt.Errorf("no reward engine configured")
	}
	return p.rewards.Apply(ctx, p.ledger, traceID, fb)
}

// settle resolves the reward before the record is written, so no rewrite
// is needed for auto rewards.
func (p *Pipeline) settle(rec *trace.Record, opts Options) *reward.Decision {
	if p.rewards == nil || opts.DeferReward {
		return nil
	}
	d := p.rewards.Resolve(opts.Feedback, rec)
	if d.Reward != nil {
		rec.SetReward(*d.Reward)
	}
	return &d
}

func (p *Pipeline) append(rec *trace.Record) {
	if err := p.ledger.Append(rec); err != nil {
		p.logger.Error("trace write failed", "trace_id", rec.TraceID, "error", err)
	}
}

func ragUsed(resp *backend.Response) bool {
	if resp == nil {
		return false
	}
	v, ok := resp.Facts["rag_used"].(bool)
	return ok && v
}

func outcomeOf(res *tool.Result) *trace.ToolOutcome {
	if res == nil || res.State == tool.StateIdle {
		return nil
	}
	o := &trace.ToolOutcome{
		State:    string(res.State),
		Mode:     string(res.Mode),
		Command:  res.Command,
		ExitCode: res.ExitCode,
		Stdout:   clip(res.Stdout),
		Stderr:   clip(res.Stderr),
	}
	if res.Task != nil {
		o.TaskID = res.Task.ID
	}
	return o
}

func clip(s string) string {
	if len(s) <= maxTraceOutput {
		return s
	}
	return s[:maxTraceOutput] + "\n[truncated]"
}
