// Package trace is the append-only audit ledger of routing decisions.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Record is one completed request. Records are append-only; after the
// outcome is written only the reward may change.
type Record struct {
	TraceID             string       `json:"trace_id"`
	Timestamp           time.Time    `json:"timestamp"`
	Prompt              string       `json:"prompt"`
	Intent              string       `json:"intent"`
	Hybrid              string       `json:"hybrid,omitempty"`
	ModelUsed           string       `json:"model_used"`
	ToolExecuted        *string      `json:"tool_executed"`
	ToolRequested       string       `json:"tool_requested,omitempty"`
	RAGUsed             bool         `json:"rag_used"`
	ConditionsEvaluated []string     `json:"conditions_evaluated"`
	Success             bool         `json:"success"`
	DurationMs          int64        `json:"duration_ms"`
	Reward              *float64     `json:"reward"`
	CorrelationID       string       `json:"correlation_id,omitempty"`
	Degraded            bool         `json:"degraded,omitempty"`
	Error               string       `json:"error,omitempty"`
	Tool                *ToolOutcome `json:"tool,omitempty"`
}

// ToolOutcome is the captured result of a tool execution.
type ToolOutcome struct {
	State    string `json:"state"`
	Mode     string `json:"mode"`
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
}

// NewRecord starts a record with a fresh id and timestamp.
func NewRecord(prompt string) *Record {
	return &Record{
		TraceID:             uuid.NewString(),
		Timestamp:           time.Now().UTC(),
		Prompt:              prompt,
		ConditionsEvaluated: []string{},
	}
}

// ToolName returns the executed tool or "".
func (r *Record) ToolName() string {
	if r.ToolExecuted == nil {
		return ""
	}
	return *r.ToolExecuted
}

// SetTool records the executed tool.
func (r *Record) SetTool(name string) {
	r.ToolExecuted = &name
}

// SetReward attaches a reward.
func (r *Record) SetReward(v float64) {
	r.Reward = &v
}
