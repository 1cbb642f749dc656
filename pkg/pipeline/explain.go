package pipeline

import (
	"github.com/zen-systems/sentinel/pkg/condition"
	"github.com/zen-systems/sentinel/pkg/config"
	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/router"
)

// Explanation is the decision path of a prompt without executing anything.
type Explanation struct {
	*router.Decision
	Generation  config.GenerationConfig `json:"generation"`
	ToolCommand *intent.ToolCommand     `json:"tool_command,omitempty"`
	Conditions  []condition.Match       `json:"conditions"`
}

// Explain classifies and routes prompt, and reports which tool command
// and condition rules the prompt text alone would trigger.
func (p *Pipeline) Explain(prompt string, offline bool) *Explanation {
	res := p.classifier.Classify(prompt)
	e := &Explanation{
		Decision:   p.router.Explain(res, router.Options{Offline: offline}),
		Generation: p.router.Config().GenerationFor(string(res.Category)),
		Conditions: []condition.Match{},
	}
	if res.Category == intent.ToolCall {
		e.ToolCommand, _ = p.classifier.ParseToolCommand(prompt)
	}
	if matches := p.conditions.Evaluate(condition.ExtractFacts(prompt)); matches != nil {
		e.Conditions = matches
	}
	return e
}
