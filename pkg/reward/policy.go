package reward

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"go.starlark.net/syntax"
	"gopkg.in/yaml.v3"
)

// Reward references used by the default policy.
const (
	ToolSuccess  = "tool_success"
	ToolFailure  = "tool_failure"
	RAGMatch     = "rag_match"
	TimeBonus    = "time_bonus"
	TimePenalty  = "time_penalty"
	ModelSuccess = "model_success"
	ModelFailure = "model_failure"
	Degraded     = "degraded"
)

// Policy is the auto-reward configuration.
type Policy struct {
	// Values are named magnitudes that rules refer to.
	Values map[string]float64 `yaml:"values"`

	// Thresholds are exposed to rule expressions by name.
	Thresholds map[string]int64 `yaml:"thresholds"`

	// IntentWeights multiply a value for records whose intent or hybrid
	// kind matches the key.
	IntentWeights map[string]map[string]float64 `yaml:"intent_weights"`

	Rules []Rule `yaml:"rules"`

	// FeedbackWindowMs bounds how long interactive feedback is awaited
	// before the auto policy applies.
	FeedbackWindowMs int `yaml:"feedback_window_ms"`
}

// Rule awards the referenced value when its expression holds.
type Rule struct {
	Name   string `yaml:"name"`
	When   string `yaml:"when"`
	Reward string `yaml:"reward"`

	expr syntax.Expr
}

type policyFile struct {
	Rewards *Policy `yaml:"rewards"`
}

// reserved names are bound from the trace record.
var reserved = []string{
	"success", "intent", "hybrid", "model", "tool", "tool_state", "exit_code",
	"duration_ms", "rag_used", "degraded", "conditions",
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Values: map[string]float64{
			ToolSuccess:  0.5,
			RAGMatch:     0.3,
			ToolFailure:  -0.5,
			TimeBonus:    0.1,
			TimePenalty:  -0.2,
			ModelSuccess: 0.2,
			ModelFailure: -0.3,
			Degraded:     -0.2,
		},
		Thresholds: map[string]int64{
			"fast_ms": 2000,
			"slow_ms": 15000,
		},
		IntentWeights: map[string]map[string]float64{
			"pure_query":  {RAGMatch: 1.5},
			"pure_action": {ToolSuccess: 1.5, ToolFailure: 1.5},
			"tool_call":   {ToolSuccess: 1.2},
		},
		Rules: []Rule{
			{Name: "tool_succeeded", When: `tool != None and tool_state == "completed"`, Reward: ToolSuccess},
			{Name: "tool_failed", When: `tool != None and tool_state in ("failed", "timed_out")`, Reward: ToolFailure},
			{Name: "knowledge_answered", When: `rag_used and success`, Reward: RAGMatch},
			{Name: "answered", When: `tool == None and success and not degraded`, Reward: ModelSuccess},
			{Name: "unanswered", When: `not success and tool == None`, Reward: ModelFailure},
			{Name: "degraded_answer", When: `degraded`, Reward: Degraded},
			{Name: "fast_response", When: `success and duration_ms < fast_ms`, Reward: TimeBonus},
			{Name: "slow_response", When: `duration_ms > slow_ms`, Reward: TimePenalty},
		},
		FeedbackWindowMs: 30000,
	}
}

// LoadPolicy reads a policy from YAML. A file without a rewards section
// is rejected.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reward policy: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file policyFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse reward policy %s: %w", path, err)
	}
	if file.Rewards == nil {
		return nil, fmt.Errorf("reward policy %s: missing rewards section", path)
	}
	if err := file.Rewards.compile(); err != nil {
		return nil, fmt.Errorf("reward policy %s: %w", path, err)
	}
	return file.Rewards, nil
}

// LoadPolicyOrDefault falls back to DefaultPolicy when path does not exist.
func LoadPolicyOrDefault(path string) (*Policy, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultPolicy(), nil
	}
	return LoadPolicy(path)
}

func (p *Policy) compile() error {
	if p.FeedbackWindowMs <= 0 {
		p.FeedbackWindowMs = 30000
	}

	var errs []error
	for name, v := range p.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("value %s is not finite", name))
		}
	}
	for name := range p.Thresholds {
		if slices.Contains(reserved, name) {
			errs = append(errs, fmt.Errorf("threshold %s shadows a record field", name))
		}
	}

	opts := &syntax.FileOptions{}
	seen := make(map[string]bool, len(p.Rules))
	for i := range p.Rules {
		r := &p.Rules[i]
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("rule %d: name is required", i))
			continue
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("rule %s: duplicate name", r.Name))
			continue
		}
		seen[r.Name] = true
		if _, ok := p.Values[r.Reward]; !ok {
			errs = append(errs, fmt.Errorf("rule %s: unknown reward %q", r.Name, r.Reward))
		}
		expr, err := opts.ParseExpr(r.Name, r.When, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.Name, err))
			continue
		}
		r.expr = expr
	}
	return errors.Join(errs...)
}

// weight returns the combined multiplier for a value reference.
func (p *Policy) weight(keys []string, ref string) float64 {
	w := 1.0
	for _, k := range keys {
		if k == "" {
			continue
		}
		if m, ok := p.IntentWeights[k][ref]; ok {
			w *= m
		}
	}
	return w
}
