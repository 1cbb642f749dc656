package trace

import (
	"sort"
	"strings"
)

// Summary aggregates a set of records.
type Summary struct {
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	SuccessRate   float64        `json:"success_rate"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	AvgReward     float64        `json:"avg_reward"`
	Rewarded      int            `json:"rewarded"`
	RAGUsed       int            `json:"rag_used"`
	ToolsExecuted int            `json:"tools_executed"`
	Degraded      int            `json:"degraded"`
	IntentCounts  map[string]int `json:"intent_counts"`
	ModelCounts   map[string]int `json:"model_counts"`
	ToolCounts    map[string]int `json:"tool_counts"`
}

// Summarize computes aggregate statistics.
func Summarize(records []Record) Summary {
	s := Summary{
		IntentCounts: map[string]int{},
		ModelCounts:  map[string]int{},
		ToolCounts:   map[string]int{},
	}
	var duration int64
	var reward float64
	for _, r := range records {
		s.Total++
		if r.Success {
			s.Successful++
		}
		if r.RAGUsed {
			s.RAGUsed++
		}
		if r.Degraded {
			s.Degraded++
		}
		duration += r.DurationMs
		if r.Reward != nil {
			s.Rewarded++
			reward += *r.Reward
		}
		if r.Intent != "" {
			s.IntentCounts[r.Intent]++
		}
		if r.ModelUsed != "" {
			s.ModelCounts[r.ModelUsed]++
		}
		if name := r.ToolName(); name != "" {
			s.ToolsExecuted++
			s.ToolCounts[name]++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total)
		s.AvgDurationMs = float64(duration) / float64(s.Total)
	}
	if s.Rewarded > 0 {
		s.AvgReward = reward / float64(s.Rewarded)
	}
	return s
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Limit     int
	Success   *bool
	MinReward *float64
	Intent    string
	Model     string
	Tool      string
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *Record) bool {
	if f.Success != nil && r.Success != *f.Success {
		return false
	}
	if f.MinReward != nil && (r.Reward == nil || *r.Reward < *f.MinReward) {
		return false
	}
	if f.Intent != "" && !strings.EqualFold(r.Intent, f.Intent) {
		return false
	}
	if f.Model != "" && r.ModelUsed != f.Model {
		return false
	}
	if f.Tool != "" && r.ToolName() != f.Tool {
		return false
	}
	return true
}

// Apply returns the matching records, most recent first, capped at Limit.
func (f Filter) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if !f.Match(&records[i]) {
			continue
		}
		out = append(out, records[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Score is an averaged reward for one model or intent.
type Score struct {
	Key     string  `json:"key"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Performers ranks models and intents by average reward.
type Performers struct {
	Models  []Score `json:"models"`
	Intents []Score `json:"intents"`
}

// Best averages rewards per model and per intent over rewarded records,
// highest first.
func Best(records []Record) Performers {
	models := map[string]*Score{}
	intents := map[string]*Score{}
	for _, r := range records {
		if r.Reward == nil {
			continue
		}
		accumulate(models, r.ModelUsed, *r.Reward)
		accumulate(intents, r.Intent, *r.Reward)
	}
	return Performers{Models: ranked(models), Intents: ranked(intents)}
}

func accumulate(m map[string]*Score, key string, v float64) {
	if key == "" {
		return
	}
	s, ok := m[key]
	if !ok {
		s = &Score{Key: key}
		m[key] = s
	}
	// running sum; divided in ranked
	s.Average += v
	s.Count++
}

func ranked(m map[string]*Score) []Score {
	out := make([]Score, 0, len(m))
	for _, s := range m {
		out = append(out, Score{Key: s.Key, Average: s.Average / float64(s.Count), Count: s.Count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Average != out[j].Average {
			return out[i].Average > out[j].Average
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Failures lists records that failed or drew a negative reward, with
// failure counts per tool.
type Failures struct {
	Records []Record       `json:"records"`
	Tools   map[string]int `json:"tools"`
}

// Worst collects failed or negatively rewarded records.
func Worst(records []Record) Failures {
	f := Failures{Tools: map[string]int{}}
	for _, r := range records {
		if r.Success && (r.Reward == nil || *r.Reward >= 0) {
			continue
		}
		f.Records = append(f.Records, r)
		if name := r.ToolName(); name != "" {
			f.Tools[name]++
		}
	}
	return f
}
