package condition

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Pattern kinds.
const (
	KindContains = "contains"
	KindRegex    = "regex"
	KindNumeric  = "numeric"
	KindCombined = "combined"
)

// Pattern is a tagged predicate over facts.
type Pattern struct {
	Type string `yaml:"type" json:"type"`

	// contains
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// regex
	Regex string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// numeric
	Field    string  `yaml:"field,omitempty" json:"field,omitempty"`
	Operator string  `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value    float64 `yaml:"value,omitempty" json:"value,omitempty"`

	// combined; Operator is "and" or "or"
	Conditions []Pattern `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	re *regexp.Regexp
}

// Contains matches when any keyword occurs in the text, case-insensitively.
func Contains(keywords ...string) Pattern {
	return Pattern{Type: KindContains, Keywords: keywords}
}

// Regex matches the text against a regular expression.
func Regex(expr string) Pattern {
	return Pattern{Type: KindRegex, Regex: expr}
}

// Numeric compares a numeric field against a threshold.
func Numeric(field, op string, value float64) Pattern {
	return Pattern{Type: KindNumeric, Field: field, Operator: op, Value: value}
}

// And matches when every sub-pattern matches.
func And(ps ...Pattern) Pattern {
	return Pattern{Type: KindCombined, Operator: "and", Conditions: ps}
}

// Or matches when any sub-pattern matches.
func Or(ps ...Pattern) Pattern {
	return Pattern{Type: KindCombined, Operator: "or", Conditions: ps}
}

// compile validates the pattern tree and precompiles regular expressions.
func (p *Pattern) compile() error {
	switch strings.ToLower(p.Type) {
	case KindContains:
		if len(p.Keywords) == 0 {
			return fmt.Errorf("contains pattern needs keywords")
		}
	case KindRegex:
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return fmt.Errorf("compile regex %q: %w", p.Regex, err)
		}
		p.re = re
	case KindNumeric:
		if p.Field == "" {
			return fmt.Errorf("numeric pattern needs a field")
		}
		switch p.Operator {
		case ">", ">=", "<", "<=", "==", "!=":
		default:
			return fmt.Errorf("unknown numeric operator %q", p.Operator)
		}
	case KindCombined:
		switch strings.ToLower(p.Operator) {
		case "and", "or":
		default:
			return fmt.Errorf("unknown logical operator %q", p.Operator)
		}
		if len(p.Conditions) == 0 {
			return fmt.Errorf("combined pattern needs conditions")
		}
		for i := range p.Conditions {
			if err := p.Conditions[i].compile(); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown pattern type %q", p.Type)
	}
	p.Type = strings.ToLower(p.Type)
	return nil
}

// match evaluates a compiled pattern.
func (p *Pattern) match(facts Facts) bool {
	switch p.Type {
	case KindContains:
		text := strings.ToLower(facts.Text())
		for _, k := range p.Keywords {
			if strings.Contains(text, strings.ToLower(k)) {
				return true
			}
		}
		return false
	case KindRegex:
		return p.re != nil && p.re.MatchString(facts.Text())
	case KindNumeric:
		v, ok := facts.Number(p.Field)
		if !ok {
			return false
		}
		return compare(v, p.Operator, p.Value)
	case KindCombined:
		and := strings.EqualFold(p.Operator, "and")
		for i := range p.Conditions {
			hit := p.Conditions[i].match(facts)
			if and && !hit {
				return false
			}
			if !and && hit {
				return true
			}
		}
		return and
	}
	return false
}

// captures returns the named groups of every regex in the pattern tree
// that matches the text. Unnamed groups are ignored.
func (p *Pattern) captures(facts Facts, into Facts) {
	switch p.Type {
	case KindRegex:
		if p.re == nil {
			return
		}
		m := p.re.FindStringSubmatch(facts.Text())
		if m == nil {
			return
		}
		for i, name := range p.re.SubexpNames() {
			if name != "" && i < len(m) && m[i] != "" {
				into[name] = m[i]
			}
		}
	case KindCombined:
		for i := range p.Conditions {
			p.Conditions[i].captures(facts, into)
		}
	}
}

func compare(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return math.Abs(v-threshold) < 1e-9
	case "!=":
		return math.Abs(v-threshold) >= 1e-9
	}
	return false
}
