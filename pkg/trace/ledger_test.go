package trace

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "traces", "rl_traces.jsonl"))
	require.NoError(t, err)
	return l
}

func record(intent, model string, success bool, durationMs int64) *Record {
	r := NewRecord("prompt for " + intent)
	r.Intent = intent
	r.ModelUsed = model
	r.Success = success
	r.DurationMs = durationMs
	return r
}

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	l := newLedger(t)

	first := record("SystemAnalysis", "phi2_local", true, 120)
	first.SetTool("disk_info")
	first.ConditionsEvaluated = []string{"low_disk_space", "disk_check"}
	require.NoError(t, l.Append(first))
	require.NoError(t, l.Append(&Record{TraceID: "bare", Intent: "Unknown"}))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &raw))
	require.Equal(t, []any{}, raw["conditions_evaluated"])
	require.Nil(t, raw["tool_executed"])
	require.Nil(t, raw["reward"])
	require.NotContains(t, raw, "correlation_id")

	records, err := l.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "disk_info", records[0].ToolName())
	require.Equal(t, []string{"low_disk_space", "disk_check"}, records[0].ConditionsEvaluated)
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	l := newLedger(t)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := record("QuickResponse", "phi2_local", true, 5)
			r.Prompt = strings.Repeat("x", 4096)
			errs <- l.Append(r)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := l.Load()
	require.NoError(t, err)
	require.Len(t, records, 32)
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Append(record("CodeGeneration", "mistral_7b", true, 10)))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, l.Append(record("CodeGeneration", "mistral_7b", false, 10)))

	records, err := l.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	records, err := newLedger(t).Load()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestUpdateRewardRewritesOnlyTarget(t *testing.T) {
	l := newLedger(t)
	a := record("ToolCall", "phi2_local", true, 10)
	b := record("ToolCall", "phi2_local", true, 20)
	require.NoError(t, l.Append(a))
	require.NoError(t, l.Append(b))

	require.NoError(t, l.UpdateReward(b.TraceID, 0.8))

	got, err := l.Get(b.TraceID)
	require.NoError(t, err)
	require.NotNil(t, got.Reward)
	require.InDelta(t, 0.8, *got.Reward, 1e-9)

	other, err := l.Get(a.TraceID)
	require.NoError(t, err)
	require.Nil(t, other.Reward)
	require.Equal(t, a.Timestamp.UnixNano(), other.Timestamp.UnixNano())

	entries, err := os.ReadDir(filepath.Dir(l.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp-", "temporary file must be renamed away")
	}
}

func TestUpdateRewardKeepsUnparsedLines(t *testing.T) {
	l := newLedger(t)
	a := record("ToolCall", "phi2_local", true, 10)
	require.NoError(t, l.Append(a))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"trace_id\": \"partial\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b := record("ToolCall", "phi2_local", true, 20)
	require.NoError(t, l.Append(b))

	before, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	require.NoError(t, l.UpdateReward(a.TraceID, -1))
	after, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	beforeLines := strings.Split(strings.TrimSpace(string(before)), "\n")
	afterLines := strings.Split(strings.TrimSpace(string(after)), "\n")
	require.Len(t, afterLines, 3)
	require.Equal(t, beforeLines[1], afterLines[1])
	require.Equal(t, beforeLines[2], afterLines[2])
	require.NotEqual(t, beforeLines[0], afterLines[0])

	got, err := l.Get(a.TraceID)
	require.NoError(t, err)
	require.InDelta(t, -1, *got.Reward, 1e-9)
}

func TestTwoLedgersOnOnePathKeepEveryAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rl_traces.jsonl")
	writer, err := Open(path)
	require.NoError(t, err)
	rewarder, err := Open(path)
	require.NoError(t, err)

	target := record("ToolCall", "phi2_local", true, 10)
	require.NoError(t, writer.Append(target))

	const appends = 200
	var wg sync.WaitGroup
	errs := make(chan error, appends+50)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			errs <- writer.Append(record("QuickResponse", "phi2_local", true, int64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			errs <- rewarder.UpdateReward(target.TraceID, float64(i%2))
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := rewarder.Load()
	require.NoError(t, err)
	require.Len(t, records, appends+1)
}

func TestUpdateRewardUnknownID(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Append(record("ToolCall", "phi2_local", true, 10)))
	require.ErrorIs(t, l.UpdateReward("missing", 1), ErrNotFound)

	_, err := l.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendFailureIsTraceWriteError(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "rl_traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(l.Path(), 0o755))

	require.ErrorIs(t, l.Append(record("ToolCall", "x", true, 1)), ErrTraceWrite)
}

func sampleRecords() []Record {
	reward := func(v float64) *float64 { return &v }
	tool := func(s string) *string { return &s }
	return []Record{
		{TraceID: "1", Intent: "ToolCall", ModelUsed: "phi2_local", Success: true, DurationMs: 100, Reward: reward(1), ToolExecuted: tool("disk_info")},
		{TraceID: "2", Intent: "ToolCall", ModelUsed: "phi2_local", Success: false, DurationMs: 300, Reward: reward(-1), ToolExecuted: tool("kill_process")},
		{TraceID: "3", Intent: "CodeGeneration", ModelUsed: "mistral_7b", Success: true, DurationMs: 200, Reward: reward(0.5), RAGUsed: true},
		{TraceID: "4", Intent: "CodeGeneration", ModelUsed: "mistral_7b", Success: false, DurationMs: 400, ToolExecuted: tool("kill_process")},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRecords())
	require.Equal(t, 4, s.Total)
	require.Equal(t, 2, s.Successful)
	require.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	require.InDelta(t, 250, s.AvgDurationMs, 1e-9)
	require.Equal(t, 3, s.Rewarded)
	require.InDelta(t, 0.5/3, s.AvgReward, 1e-9)
	require.Equal(t, 1, s.RAGUsed)
	require.Equal(t, 3, s.ToolsExecuted)
	require.Equal(t, map[string]int{"disk_info": 1, "kill_process": 2}, s.ToolCounts)
	require.Equal(t, map[string]int{"ToolCall": 2, "CodeGeneration": 2}, s.IntentCounts)

	empty := Summarize(nil)
	require.Zero(t, empty.SuccessRate)
	require.Zero(t, empty.AvgReward)
}

func TestFilterApply(t *testing.T) {
	records := sampleRecords()
	failed := false
	min := 0.0

	got := Filter{Success: &failed}.Apply(records)
	require.Equal(t, []string{"4", "2"}, ids(got))

	got = Filter{MinReward: &min}.Apply(records)
	require.Equal(t, []string{"3", "1"}, ids(got))

	got = Filter{Intent: "toolcall", Limit: 1}.Apply(records)
	require.Equal(t, []string{"2"}, ids(got))

	got = Filter{Tool: "kill_process", Model: "mistral_7b"}.Apply(records)
	require.Equal(t, []string{"4"}, ids(got))
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.TraceID
	}
	return out
}

func TestBestAndWorst(t *testing.T) {
	best := Best(sampleRecords())
	require.Len(t, best.Models, 2)
	require.Equal(t, "mistral_7b", best.Models[0].Key)
	require.InDelta(t, 0.5, best.Models[0].Average, 1e-9)
	require.Equal(t, "phi2_local", best.Models[1].Key)
	require.InDelta(t, 0.0, best.Models[1].Average, 1e-9)
	require.Equal(t, 2, best.Models[1].Count)

	worst := Worst(sampleRecords())
	require.Equal(t, []string{"2", "4"}, ids(worst.Records))
	require.Equal(t, map[string]int{"kill_process": 2}, worst.Tools)
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	records := sampleRecords()
	records[0].Prompt = "check disk, please"
	require.NoError(t, Export(&buf, records, FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, "check disk, please", rows[1][2])
	require.Equal(t, "disk_info", rows[1][5])
	require.Equal(t, "1", rows[1][9])
	require.Equal(t, "", rows[4][9])
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, nil, FormatJSON))
	require.JSONEq(t, "[]", buf.String())

	buf.Reset()
	require.NoError(t, Export(&buf, sampleRecords(), FormatJSON))
	var decoded []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 4)

	require.Error(t, Export(&buf, nil, "xml"))
}

func TestFollowDeliversAppendedRecords(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Append(record("ToolCall", "old", true, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Record, 4)
	done := make(chan error, 1)
	go func() {
		done <- l.Follow(ctx, func(r Record) { got <- r })
	}()

	// Give the watcher time to register before appending.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, l.Append(record("ToolCall", "new", true, 1)))

	select {
	case r := <-got:
		require.Equal(t, "new", r.ModelUsed)
	case <-ctx.Done():
		t.Fatal("no record delivered")
	}
	cancel()
	require.NoError(t, <-done)
}
