package reward

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sentinel/pkg/trace"
)

func TestParseFeedback(t *testing.T) {
	cases := map[string]Feedback{
		"y": Positive, "YES": Positive, " yes\n": Positive,
		"n": Negative, "no": Negative,
		"s": Skip, "skip": Skip,
		"": NoFeedback,
	}
	for in, want := range cases {
		got, err := ParseFeedback(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseFeedback("maybe")
	require.ErrorIs(t, err, ErrInvalidFeedback)
}

func TestFeedbackValues(t *testing.T) {
	v, ok := Positive.Value()
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	v, ok = Negative.Value()
	require.True(t, ok)
	require.Equal(t, -1.0, v)

	_, ok = Skip.Value()
	require.False(t, ok)
	_, ok = NoFeedback.Value()
	require.False(t, ok)
}

func TestAwaitFeedbackKeepsTypedAheadInput(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("y\nn\n"))
	first, err := in.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "y\n", first)
	require.Equal(t, Negative, AwaitFeedback(context.Background(), in, time.Second))
}

func TestAwaitFeedback(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, Positive, AwaitFeedback(ctx, strings.NewReader("y\n"), time.Second))
	require.Equal(t, Skip, AwaitFeedback(ctx, strings.NewReader("skip"), time.Second))
	require.Equal(t, NoFeedback, AwaitFeedback(ctx, strings.NewReader(""), time.Second))
	require.Equal(t, NoFeedback, AwaitFeedback(ctx, strings.NewReader("what\n"), time.Second))

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()
	start := time.Now()
	require.Equal(t, NoFeedback, AwaitFeedback(ctx, r, 50*time.Millisecond))
	require.Less(t, time.Since(start), time.Second)
}

func toolRecord(state string, exit int) *trace.Record {
	r := trace.NewRecord("check disk")
	r.Intent = "system_analysis"
	r.Hybrid = "query_then_action"
	r.Success = state == "completed"
	r.DurationMs = 5000
	r.SetTool("disk_info")
	r.Tool = &trace.ToolOutcome{State: state, Mode: "safe", ExitCode: exit}
	return r
}

func TestAutoDefaultPolicy(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	ev := e.Auto(toolRecord("completed", 0))
	require.Equal(t, []string{"tool_succeeded"}, ev.Fired)
	require.InDelta(t, 0.5, ev.Reward, 1e-9)

	ev = e.Auto(toolRecord("failed", 2))
	require.Equal(t, []string{"tool_failed"}, ev.Fired)
	require.InDelta(t, -0.5, ev.Reward, 1e-9)

	fast := trace.NewRecord("what is swap")
	fast.Intent = "general_knowledge"
	fast.Hybrid = "pure_query"
	fast.Success = true
	fast.RAGUsed = true
	fast.DurationMs = 300
	ev = e.Auto(fast)
	require.Equal(t, []string{"knowledge_answered", "answered", "fast_response"}, ev.Fired)
	require.InDelta(t, 0.3*1.5+0.2+0.1, ev.Reward, 1e-9)
}

func TestAutoWeightsAndClamp(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	rec := toolRecord("completed", 0)
	rec.Intent = "tool_call"
	rec.Hybrid = "pure_action"
	ev := e.Auto(rec)
	require.InDelta(t, 0.5*1.5*1.2, ev.Reward, 1e-9)

	p := DefaultPolicy()
	p.Values[ToolSuccess] = 3
	e, err = NewEngine(p)
	require.NoError(t, err)
	require.Equal(t, 1.0, e.Auto(toolRecord("completed", 0)).Reward)
}

func TestResolvePrecedence(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	rec := toolRecord("completed", 0)

	d := e.Resolve(Negative, rec)
	require.Equal(t, SourceInteractive, d.Source)
	require.Equal(t, -1.0, *d.Reward)

	d = e.Resolve(Skip, rec)
	require.Equal(t, SourceNone, d.Source)
	require.Nil(t, d.Reward)

	d = e.Resolve(NoFeedback, rec)
	require.Equal(t, SourceAuto, d.Source)
	require.InDelta(t, 0.5, *d.Reward, 1e-9)
}

func TestResolveNothingFired(t *testing.T) {
	p := &Policy{
		Values: map[string]float64{"bonus": 1},
		Rules:  []Rule{{Name: "never", When: "False", Reward: "bonus"}},
	}
	e, err := NewEngine(p)
	require.NoError(t, err)

	d := e.Resolve(NoFeedback, trace.NewRecord("x"))
	require.Nil(t, d.Reward)
	require.Equal(t, SourceNone, d.Source)
}

func TestApplyWritesLedger(t *testing.T) {
	ledger, err := trace.Open(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	rec := toolRecord("completed", 0)
	require.NoError(t, ledger.Append(rec))

	e, err := NewEngine(nil)
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ledger, rec.TraceID, Skip)
	require.NoError(t, err)
	got, err := ledger.Get(rec.TraceID)
	require.NoError(t, err)
	require.Nil(t, got.Reward)

	d, err := e.Apply(context.Background(), ledger, rec.TraceID, Positive)
	require.NoError(t, err)
	require.Equal(t, SourceInteractive, d.Source)
	got, err = ledger.Get(rec.TraceID)
	require.NoError(t, err)
	require.Equal(t, 1.0, *got.Reward)

	_, err = e.Apply(context.Background(), ledger, "missing", Positive)
	require.ErrorIs(t, err, trace.ErrNotFound)
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rewards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rewards:
  values:
    exit_ok: 0.4
  thresholds:
    quick_ms: 100
  intent_weights:
    code_generation:
      exit_ok: 2
  rules:
    - name: clean_exit
      when: 'exit_code == 0 and duration_ms < quick_ms'
      reward: exit_ok
`), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Equal(t, 30000, p.FeedbackWindowMs)

	e, err := NewEngine(p)
	require.NoError(t, err)
	rec := toolRecord("completed", 0)
	rec.Intent = "code_generation"
	rec.DurationMs = 50
	require.InDelta(t, 0.8, e.Auto(rec).Reward, 1e-9)
}

func TestLoadPolicyRejectsBadRules(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing section": "values: {}\n",
		"unknown reward": `
rewards:
  values: {a: 1}
  rules:
    - {name: r, when: "True", reward: b}
`,
		"syntax error": `
rewards:
  values: {a: 1}
  rules:
    - {name: r, when: "success and (", reward: a}
`,
		"shadowed field": `
rewards:
  values: {a: 1}
  thresholds: {success: 1}
`,
		"unknown key": `
rewards:
  bogus: 1
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadPolicy(path)
			require.Error(t, err)
		})
	}
}

func TestLoadPolicyOrDefault(t *testing.T) {
	p, err := LoadPolicyOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Len(t, p.Rules, len(DefaultPolicy().Rules))
}
