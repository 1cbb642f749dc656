// Package intent classifies a request into an intent category together with
// the capabilities, performance tier and token budget it needs.
package intent

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zen-systems/sentinel/pkg/registry"
)

// Category is the classified purpose of a request.
type Category string

const (
	ToolCall         Category = "tool_call"
	CodeGeneration   Category = "code_generation"
	SystemAnalysis   Category = "system_analysis"
	QuickResponse    Category = "quick_response"
	VisualAnalysis   Category = "visual_analysis"
	ComplexReasoning Category = "complex_reasoning"
	GeneralKnowledge Category = "general_knowledge"
	Unknown          Category = "unknown"
)

// Categories lists every category in precedence order.
var Categories = []Category{
	ToolCall, CodeGeneration, SystemAnalysis, VisualAnalysis,
	QuickResponse, ComplexReasoning, GeneralKnowledge, Unknown,
}

// DefaultMarker is the command prefix that forces a tool call.
const DefaultMarker = "!@"

// ErrUnclassified reports that no heuristic recognised the request. It is
// never fatal; the request proceeds with the Unknown defaults.
var ErrUnclassified = errors.New("intent unclassified")

// Result is the classification of one request.
type Result struct {
	Category        Category              `json:"intent"`
	Capabilities    []registry.Capability `json:"required_capabilities"`
	Performance     registry.Tier         `json:"performance"`
	EstimatedTokens int                   `json:"estimated_tokens"`
	Confidence      float64               `json:"confidence"`
	Signals         []string              `json:"signals,omitempty"`
	Hybrid          Hybrid                `json:"hybrid"`
}

// Err returns ErrUnclassified for Unknown results.
func (r Result) Err() error {
	if r.Category == Unknown {
		return ErrUnclassified
	}
	return nil
}

type profile struct {
	capabilities []registry.Capability
	performance  registry.Tier
	multiplier   float64
	reserve      int
}

var profiles = map[Category]profile{
	ToolCall:         {[]registry.Capability{registry.CapToolCalling}, registry.TierRealtime, 1.0, 500},
	QuickResponse:    {[]registry.Capability{registry.CapTextGeneration}, registry.TierRealtime, 1.0, 500},
	CodeGeneration:   {[]registry.Capability{registry.CapCodeGeneration}, registry.TierBalanced, 2.0, 2000},
	SystemAnalysis:   {[]registry.Capability{registry.CapSystemAnalysis}, registry.TierFast, 1.5, 1500},
	VisualAnalysis:   {[]registry.Capability{registry.CapVision}, registry.TierPowerful, 1.5, 1500},
	ComplexReasoning: {[]registry.Capability{registry.CapQuestionAnswering}, registry.TierPowerful, 2.0, 3000},
	GeneralKnowledge: {[]registry.Capability{registry.CapTextGeneration}, registry.TierFast, 1.2, 1000},
	Unknown:          {[]registry.Capability{registry.CapTextGeneration}, registry.TierBalanced, 1.0, 1000},
}

// Profile returns the capability set and performance tier of a category.
func Profile(c Category) ([]registry.Capability, registry.Tier) {
	p, ok := profiles[c]
	if !ok {
		p = profiles[Unknown]
	}
	return append([]registry.Capability(nil), p.capabilities...), p.performance
}

// EstimateTokens is a deterministic token budget for a prompt: a quarter
// token per character scaled by the category multiplier, plus the
// category's response reserve.
func EstimateTokens(c Category, prompt string) int {
	p, ok := profiles[c]
	if !ok {
		p = profiles[Unknown]
	}
	base := (utf8.RuneCountInString(prompt) + 3) / 4
	return int(math.Ceil(float64(base)*p.multiplier)) + p.reserve
}

var (
	callVerbs  = compileVocabulary("call", "execute", "run", "invoke", "trigger")
	callNouns  = compileVocabulary("tool", "command")
	callSyntax = regexp.MustCompile(`^\s*(?:call\s+)?[a-z_][a-z0-9_]*\s*\([^()]*\)\s*;?\s*$`)

	codeVerbs = compileVocabulary("write", "create", "implement", "generate", "refactor", "scaffold")
	codeNouns = compileVocabulary("code", "function", "class", "program", "script", "module",
		"algorithm", "method", "struct", "interface", "unit test", "snippet")
	codeLanguages = compileVocabulary("in go", "in golang", "in rust", "in python", "in javascript",
		"in typescript", "in c", "in java", "in bash")

	diagnosticVerbs = compileVocabulary("analyze", "analyse", "diagnose", "debug", "troubleshoot", "investigate")
	inspectVerbs    = compileVocabulary("check", "monitor", "inspect", "show", "report")
	systemNouns     = compileVocabulary("system", "memory", "disk", "cpu", "process", "processes", "service",
		"network", "performance", "health", "status", "load", "usage", "logs", "kernel", "temperature")

	visualWords = compileVocabulary("screenshot", "image", "picture", "photo", "visual", "diagram")

	complexWords = compileVocabulary("why", "how does", "how do", "how can", "how is", "explain",
		"compare", "trade-off", "trade-offs", "tradeoff", "pros and cons", "versus")
)

// Classifier maps request text to a Result.
type Classifier struct {
	marker     string
	shortWords int
	longWords  int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMarker sets the command prefix that forces ToolCall.
func WithMarker(marker string) Option {
	return func(c *Classifier) {
		if marker != "" {
			c.marker = marker
		}
	}
}

// WithThresholds sets the word counts below which a request is short and
// above which it is long.
func WithThresholds(shortWords, longWords int) Option {
	return func(c *Classifier) {
		if shortWords > 0 {
			c.shortWords = shortWords
		}
		if longWords > 0 {
			c.longWords = longWords
		}
	}
}

// NewClassifier creates a classifier with the default vocabulary.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{marker: DefaultMarker, shortWords: 10, longWords: 50}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Marker returns the tool-call prefix.
func (c *Classifier) Marker() string {
	return c.marker
}

// Classify determines the intent of a prompt. It never fails.
func (c *Classifier) Classify(prompt string) Result {
	category, confidence, signals := c.detect(prompt)
	return c.result(category, confidence, signals, prompt)
}

// detect applies the precedence ladder; the first stage that matches wins.
func (c *Classifier) detect(prompt string) (Category, float64, []string) {
	trimmed := strings.TrimSpace(prompt)
	if strings.HasPrefix(trimmed, c.marker) {
		return ToolCall, 1.0, []string{fmt.Sprintf("command prefix %q", c.marker)}
	}
	if !hasWordChar(trimmed) {
		return Unknown, 0, []string{"no recognisable words"}
	}

	lower := strings.ToLower(trimmed)
	words := len(strings.Fields(lower))

	if callSyntax.MatchString(lower) {
		return ToolCall, 0.9, []string{"function-call syntax"}
	}
	if verbs := callVerbs.matches(lower); len(verbs) > 0 && len(codeVerbs.matches(lower)) == 0 {
		if nouns := callNouns.matches(lower); len(nouns) > 0 {
			return ToolCall, 0.8, signalList("call", verbs, nouns)
		}
	}

	if verbs := codeVerbs.matches(lower); len(verbs) > 0 {
		if nouns := codeNouns.matches(lower); len(nouns) > 0 {
			confidence := 0.9
			signals := signalList("code", verbs, nouns)
			if langs := codeLanguages.matches(lower); len(langs) > 0 {
				confidence = 0.95
				signals = append(signals, "language: "+strings.TrimPrefix(langs[0], "in "))
			}
			return CodeGeneration, confidence, signals
		}
	}

	nouns := systemNouns.matches(lower)
	if verbs := diagnosticVerbs.matches(lower); len(verbs) > 0 {
		return SystemAnalysis, boost(0.7, len(nouns)), signalList("diagnostic", verbs, nouns)
	}
	if verbs := inspectVerbs.matches(lower); len(verbs) > 0 && len(nouns) > 0 {
		return SystemAnalysis, boost(0.7, len(nouns)-1), signalList("inspect", verbs, nouns)
	}

	if visual := visualWords.matches(lower); len(visual) > 0 {
		return VisualAnalysis, 0.9, signalList("visual", visual, nil)
	}

	if words < c.shortWords && !strings.Contains(lower, "?") {
		return QuickResponse, 0.8, []string{fmt.Sprintf("short query (%d words)", words)}
	}

	complexHits := complexWords.matches(lower)
	if words > c.longWords || len(complexHits) > 0 {
		confidence := 0.7
		signals := signalList("reasoning", complexHits, nil)
		if words > c.longWords {
			confidence += 0.1
			signals = append(signals, fmt.Sprintf("long query (%d words)", words))
		}
		return ComplexReasoning, confidence, signals
	}

	return GeneralKnowledge, 0.3, []string{"no specific signals; general knowledge"}
}

func (c *Classifier) result(category Category, confidence float64, signals []string, prompt string) Result {
	caps, tier := Profile(category)
	return Result{
		Category:        category,
		Capabilities:    caps,
		Performance:     tier,
		EstimatedTokens: EstimateTokens(category, prompt),
		Confidence:      confidence,
		Signals:         signals,
		Hybrid:          DetectHybrid(prompt),
	}
}

func boost(base float64, extra int) float64 {
	if extra <= 0 {
		return base
	}
	return math.Min(base+0.05*float64(extra), 0.95)
}

func signalList(kind string, primary, secondary []string) []string {
	var out []string
	for _, p := range primary {
		out = append(out, fmt.Sprintf("%s: %s", kind, p))
	}
	for _, s := range secondary {
		out = append(out, fmt.Sprintf("%s: %s", kind, s))
	}
	return out
}
