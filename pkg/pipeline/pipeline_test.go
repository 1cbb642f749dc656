package pipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sentinel/pkg/backend"
	"github.com/zen-systems/sentinel/pkg/condition"
	"github.com/zen-systems/sentinel/pkg/config"
	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/registry"
	"github.com/zen-systems/sentinel/pkg/reward"
	"github.com/zen-systems/sentinel/pkg/router"
	"github.com/zen-systems/sentinel/pkg/tool"
	"github.com/zen-systems/sentinel/pkg/trace"
)

var allCaps = []string{"tool_calling", "text_generation", "system_analysis", "question_answering", "code_generation"}

type model struct {
	id       string
	trusted  bool
	tools    bool
	local    bool
	ctx      int
	priority int
}

type fixture struct {
	pipeline *Pipeline
	ledger   *trace.Ledger
	marker   string
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newFixture(t *testing.T, models []model, clients map[string]backend.Backend, offline []string, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")

	cfg := &config.ModelsConfig{Models: map[string]config.ModelConfig{}}
	for _, m := range models {
		loc := "remote"
		if m.local {
			loc = "local"
		}
		ctxLen := m.ctx
		if ctxLen == 0 {
			ctxLen = 32000
		}
		cfg.Models[m.id] = config.ModelConfig{
			ID: m.id, Name: m.id, Provider: "mock", Location: loc,
			Trusted: m.trusted, AllowToolCalls: m.tools,
			Capabilities: allCaps, PerformanceTier: "fast",
			ContextLength: ctxLen, Priority: m.priority,
		}
		cfg.Order = append(cfg.Order, m.id)
	}
	reg, err := registry.New(cfg)
	require.NoError(t, err)

	routing := &config.RoutingConfig{
		OfflineChain: offline,
		LoadBalancing: config.LoadBalancingConfig{
			Strategy:              "queue",
			MaxConcurrentRequests: 4,
			QueueTimeoutMs:        1000,
			TimeoutMs:             1000,
			RetryAttempts:         2,
		},
		Retry: config.RetryConfig{BaseBackoffMs: 1, MaxBackoffMs: 2},
	}

	tools := tool.NewRegistry()
	for _, d := range []tool.Descriptor{
		{ID: "probe", Command: "touch " + marker + " && echo probed"},
		{ID: "ask_first", Command: "touch " + marker, RequiresConfirmation: true},
		{ID: "later", Command: "touch " + marker + " && echo bg", Mode: tool.ModeBackground},
		{ID: "broken", Command: "echo nope >&2; exit 4"},
	} {
		require.NoError(t, tools.Register(d))
	}

	conditions, err := condition.New([]condition.Rule{
		{Name: "memory_high", Pattern: condition.Numeric("memory_percent", ">", 90), Tool: "probe", Priority: 10},
		{Name: "memory_mentioned", Pattern: condition.Contains("memory"), Tool: "broken", Priority: 1},
	})
	require.NoError(t, err)

	ledger, err := trace.Open(filepath.Join(dir, "traces.jsonl"))
	require.NoError(t, err)
	rewards, err := reward.NewEngine(nil)
	require.NoError(t, err)

	p, err := New(Components{
		Classifier: intent.NewClassifier(),
		Router:     router.New(reg, routing, clients),
		Conditions: conditions,
		Tools:      tool.NewExecutor(tools),
		Ledger:     ledger,
		Rewards:    rewards,
	}, opts...)
	require.NoError(t, err)
	return &fixture{pipeline: p, ledger: ledger, marker: marker}
}

func (f *fixture) records(t *testing.T) []trace.Record {
	t.Helper()
	records, err := f.ledger.Load()
	require.NoError(t, err)
	return records
}

func (f *fixture) ran() bool {
	_, err := os.Stat(f.marker)
	return err == nil
}

func down() error {
	return backend.Unavailable(errors.New("connection refused"))
}

func TestMarkerToolCallWithTrustedBackend(t *testing.T) {
	requireShell(t)
	f := newFixture(t,
		[]model{{id: "local", trusted: true, tools: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)

	out, err := f.pipeline.Handle(context.Background(), "!@ call probe", Options{})
	require.NoError(t, err)
	require.Equal(t, intent.ToolCall, out.Intent.Category)
	require.Equal(t, "local", out.Backend)
	require.False(t, out.Degraded)
	require.NoError(t, out.ToolErr)
	require.Equal(t, tool.StateCompleted, out.Tool.State)
	require.Equal(t, tool.ModeSafe, out.Tool.Mode)
	require.True(t, f.ran())

	records := f.records(t)
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, out.TraceID, rec.TraceID)
	require.Equal(t, "probe", rec.ToolName())
	require.Equal(t, "local", rec.ModelUsed)
	require.True(t, rec.Success)
	require.Equal(t, "completed", rec.Tool.State)
	require.Contains(t, rec.Tool.Stdout, "probed")
	require.NotNil(t, rec.Reward, "auto reward applies without feedback")
	require.Greater(t, *rec.Reward, 0.0)
}

func TestUntrustedBackendCannotSourceTool(t *testing.T) {
	requireShell(t)
	rogue := backend.NewMock("rogue")
	f := newFixture(t,
		[]model{{id: "rogue", trusted: false, tools: true, local: true, priority: 100}},
		map[string]backend.Backend{"rogue": rogue},
		nil,
	)

	out, err := f.pipeline.Handle(context.Background(), "!@ call probe", Options{})
	require.NoError(t, err)
	require.True(t, out.Degraded)
	require.ErrorIs(t, out.ToolErr, tool.ErrUntrustedToolCall)
	require.False(t, f.ran())
	require.Zero(t, rogue.Calls())

	rec := f.records(t)[0]
	require.Nil(t, rec.ToolExecuted)
	require.Equal(t, "probe", rec.ToolRequested)
	require.False(t, rec.Success)
	require.NotEmpty(t, rec.Error)
}

func TestOfflineChainAnswerIsDegraded(t *testing.T) {
	remote := backend.NewMock("remote").FailWith(down())
	local := backend.NewMock("fallback").Respond("tell me about swap space", "swap is disk-backed memory")
	f := newFixture(t,
		[]model{
			{id: "remote", trusted: true, priority: 90},
			{id: "fallback", trusted: true, local: true, priority: 10, ctx: 1},
		},
		map[string]backend.Backend{"remote": remote, "fallback": local},
		[]string{"fallback"},
	)

	out, err := f.pipeline.Handle(context.Background(), "tell me about swap space", Options{})
	require.NoError(t, err)
	require.Equal(t, "fallback", out.Backend)
	require.True(t, out.OfflineChain)
	require.True(t, out.Degraded)
	require.Equal(t, "swap is disk-backed memory", out.Answer)

	rec := f.records(t)[0]
	require.True(t, rec.Success)
	require.True(t, rec.Degraded)
	require.Equal(t, "fallback", rec.ModelUsed)
}

func TestNoEligibleBackendStillTriesOfflineChain(t *testing.T) {
	local := backend.NewMock("fallback").Respond("tell me about swap space", "swap is disk-backed memory")
	f := newFixture(t,
		[]model{{id: "fallback", trusted: true, local: true, priority: 10, ctx: 1}},
		map[string]backend.Backend{"fallback": local},
		[]string{"fallback"},
	)

	out, err := f.pipeline.Handle(context.Background(), "tell me about swap space", Options{})
	require.NoError(t, err)
	require.Equal(t, "fallback", out.Backend)
	require.True(t, out.OfflineChain)
	require.True(t, out.Degraded)
	require.Equal(t, "swap is disk-backed memory", out.Answer)
	require.True(t, f.records(t)[0].Success)
}

func TestAllBackendsDownServesCannedAnswer(t *testing.T) {
	f := newFixture(t,
		[]model{{id: "remote", trusted: true, priority: 90}},
		map[string]backend.Backend{"remote": backend.NewMock("remote").FailWith(down(), down())},
		nil,
	)

	out, err := f.pipeline.Handle(context.Background(), "tell me about swap space", Options{})
	require.NoError(t, err)
	require.True(t, out.Degraded)
	require.Contains(t, out.Answer, "Model backends are unavailable")
	require.Len(t, out.Attempts, 1)

	rec := f.records(t)[0]
	require.False(t, rec.Success)
	require.True(t, rec.Degraded)
	require.Contains(t, rec.Error, router.ErrAllBackendsUnavailable.Error())
}

func TestConditionalActionForwardsHighestPriorityMatch(t *testing.T) {
	requireShell(t)
	prompt := "if memory is above 90 percent clean the cache"
	f := newFixture(t,
		[]model{{id: "local", trusted: true, tools: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local").Respond(prompt, "memory usage at 95% of capacity")},
		nil,
	)

	out, err := f.pipeline.Handle(context.Background(), prompt, Options{})
	require.NoError(t, err)
	require.Equal(t, intent.ConditionalAction, out.Intent.Hybrid)
	require.Equal(t, []string{"memory_high", "memory_mentioned"}, out.Conditions)
	require.Equal(t, "probe", out.Tool.Tool)
	require.True(t, f.ran())

	rec := f.records(t)[0]
	require.Equal(t, []string{"memory_high", "memory_mentioned"}, rec.ConditionsEvaluated)
	require.Equal(t, "probe", rec.ToolName())
}

func TestPureQueryNeverRunsTools(t *testing.T) {
	prompt := "what is memory pressure"
	f := newFixture(t,
		[]model{{id: "local", trusted: true, tools: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local").Respond(prompt, "memory usage at 95%")},
		nil,
	)

	out, err := f.pipeline.Handle(context.Background(), prompt, Options{})
	require.NoError(t, err)
	require.Equal(t, intent.PureQuery, out.Intent.Hybrid)
	require.Nil(t, out.Tool)
	require.Empty(t, out.Conditions)
	require.False(t, f.ran())
}

func TestConfirmationAppendsCorrelatedRecord(t *testing.T) {
	requireShell(t)
	f := newFixture(t,
		[]model{{id: "local", trusted: true, tools: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)
	ctx := context.Background()

	out, err := f.pipeline.Handle(ctx, "!@ call ask_first", Options{})
	require.NoError(t, err)
	pending := out.Pending()
	require.NotNil(t, pending)
	require.False(t, f.ran())

	confirmed, err := f.pipeline.Confirm(ctx, pending.ID, true)
	require.NoError(t, err)
	require.NoError(t, confirmed.ToolErr)
	require.Equal(t, tool.StateCompleted, confirmed.Tool.State)
	require.True(t, f.ran())

	records := f.records(t)
	require.Len(t, records, 2)
	require.Equal(t, "confirming", records[0].Tool.State)
	require.Nil(t, records[0].ToolExecuted)
	require.Equal(t, out.TraceID, records[1].CorrelationID)
	require.Equal(t, "ask_first", records[1].ToolName())
	require.True(t, records[1].Success)

	_, err = f.pipeline.Confirm(ctx, pending.ID, true)
	require.ErrorIs(t, err, tool.ErrPendingNotFound)
}

func TestDeclinedConfirmationIsRecorded(t *testing.T) {
	requireShell(t)
	f := newFixture(t,
		[]model{{id: "local", trusted: true, tools: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)
	ctx := context.Background()

	out, err := f.pipeline.Handle(ctx, "!@ call ask_first", Options{})
	require.NoError(t, err)

	declined, err := f.pipeline.Confirm(ctx, out.Pending().ID, false)
	require.NoError(t, err)
	require.ErrorIs(t, declined.ToolErr, tool.ErrConfirmationDeclined)
	require.False(t, f.ran())

	records := f.records(t)
	require.Len(t, records, 2)
	require.Nil(t, records[1].ToolExecuted)
	require.False(t, records[1].Success)
}

func TestBackgroundCompletionIsCorrelated(t *testing.T) {
	requireShell(t)
	f := newFixture(t,
		[]model{{id: "local", trusted: true, tools: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := f.pipeline.Handle(ctx, "!@ call later", Options{})
	require.NoError(t, err)
	require.Equal(t, tool.StateExecuting, out.Tool.State)
	require.NotNil(t, out.Tool.Task)

	require.NoError(t, f.pipeline.Wait(ctx))
	require.True(t, f.ran())

	records := f.records(t)
	require.Len(t, records, 2)

	// The completion may be appended before the originating record.
	var origin, completion trace.Record
	for _, r := range records {
		if r.CorrelationID == "" {
			origin = r
		} else {
			completion = r
		}
	}
	require.Equal(t, out.TraceID, origin.TraceID)
	require.Equal(t, out.Tool.Task.ID, origin.Tool.TaskID)
	require.Equal(t, out.TraceID, completion.CorrelationID)
	require.Equal(t, "completed", completion.Tool.State)
	require.Contains(t, completion.Tool.Stdout, "bg")
}

func TestDeferredFeedback(t *testing.T) {
	f := newFixture(t,
		[]model{{id: "local", trusted: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)
	ctx := context.Background()

	out, err := f.pipeline.Handle(ctx, "tell me about swap space", Options{DeferReward: true})
	require.NoError(t, err)
	require.Nil(t, out.Reward)
	require.Nil(t, f.records(t)[0].Reward)

	d, err := f.pipeline.Feedback(ctx, out.TraceID, reward.Negative)
	require.NoError(t, err)
	require.Equal(t, reward.SourceInteractive, d.Source)
	require.Equal(t, -1.0, *f.records(t)[0].Reward)
}

func TestUpfrontSkipLeavesRewardEmpty(t *testing.T) {
	f := newFixture(t,
		[]model{{id: "local", trusted: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)

	_, err := f.pipeline.Handle(context.Background(), "tell me about swap space", Options{Feedback: reward.Skip})
	require.NoError(t, err)
	require.Nil(t, f.records(t)[0].Reward)
}

func TestTraceWriteFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t,
		[]model{{id: "local", trusted: true, local: true, priority: 90}},
		map[string]backend.Backend{"local": backend.NewMock("local")},
		nil,
	)
	require.NoError(t, os.Mkdir(f.ledger.Path(), 0o755))

	out, err := f.pipeline.Handle(context.Background(), "tell me about swap space", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, out.Answer)
}

func TestExplain(t *testing.T) {
	f := newFixture(t,
		[]model{
			{id: "local", trusted: true, tools: true, local: true, priority: 90},
			{id: "rogue", trusted: false, tools: true, priority: 100},
		},
		nil,
		[]string{"local"},
	)

	e := f.pipeline.Explain("!@ call probe verbose=true", false)
	require.Equal(t, intent.ToolCall, e.Intent)
	require.Equal(t, []string{"local"}, e.Chain)
	require.Equal(t, "probe", e.ToolCommand.Tool)
	require.Equal(t, map[string]any{"verbose": true}, e.ToolCommand.Args)

	var trust *router.Stage
	for i := range e.Stages {
		if e.Stages[i].Name == "tool_trust" {
			trust = &e.Stages[i]
		}
	}
	require.NotNil(t, trust)
	require.Equal(t, "rogue", trust.Eliminated[0].Backend)

	e = f.pipeline.Explain("check why memory is at 97% used", false)
	require.Len(t, e.Conditions, 2)
	require.Equal(t, "memory_high", e.Conditions[0].Rule.Name)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Components{})
	require.Error(t, err)
}
