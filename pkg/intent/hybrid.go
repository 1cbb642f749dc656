package intent

import "strings"

// Hybrid describes how knowledge retrieval and actions combine in a request.
type Hybrid string

const (
	PureQuery         Hybrid = "pure_query"
	PureAction        Hybrid = "pure_action"
	QueryThenAction   Hybrid = "query_then_action"
	ActionThenQuery   Hybrid = "action_then_query"
	ConditionalAction Hybrid = "conditional_action"
)

// WantsAction reports whether the request may lead to a tool execution.
func (h Hybrid) WantsAction() bool {
	return h != PureQuery && h != ""
}

// WantsKnowledge reports whether the request asks for an explanation.
func (h Hybrid) WantsKnowledge() bool {
	return h == PureQuery || h == QueryThenAction || h == ActionThenQuery
}

var (
	actionWords = compileVocabulary("run", "execute", "check", "monitor", "clean", "fix", "show",
		"restart", "kill", "stop", "start", "free", "list")
	queryWords = compileVocabulary("what", "how", "why", "explain", "describe", "which", "who")
	condWords  = compileVocabulary("if", "when", "unless", "should")
)

// DetectHybrid classifies the query/action structure of a prompt.
func DetectHybrid(prompt string) Hybrid {
	lower := strings.ToLower(prompt)

	actionAt := actionWords.first(lower)
	if actionAt < 0 {
		return PureQuery
	}
	if condWords.first(lower) >= 0 {
		return ConditionalAction
	}

	queryAt := queryWords.first(lower)
	switch {
	case queryAt < 0:
		return PureAction
	case queryAt < actionAt:
		return QueryThenAction
	default:
		return ActionThenQuery
	}
}
