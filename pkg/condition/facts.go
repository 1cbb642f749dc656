package condition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TextField is the fact key holding the free text of a response.
const TextField = "text"

// Facts is a flat map of fields extracted from a backend response or from
// live telemetry.
type Facts map[string]any

// Text returns the free-text field.
func (f Facts) Text() string {
	s, _ := f[TextField].(string)
	return s
}

// Number returns a field as float64. Missing or non-numeric fields report
// false.
func (f Facts) Number(field string) (float64, bool) {
	v, ok := f[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		x, err := n.Float64()
		return x, err == nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return x, err == nil
	default:
		return 0, false
	}
}

// Merge returns a copy of f overlaid with other.
func (f Facts) Merge(other map[string]any) Facts {
	out := make(Facts, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

var extractors = []struct {
	field string
	re    *regexp.Regexp
}{
	{"memory_percent", regexp.MustCompile(`(?i)memory.*?(\d+(?:\.\d+)?)\s*%`)},
	{"disk_percent", regexp.MustCompile(`(?i)disk.*?(\d+(?:\.\d+)?)\s*%`)},
	{"cpu_percent", regexp.MustCompile(`(?i)cpu.*?(\d+(?:\.\d+)?)\s*%`)},
	{"temperature", regexp.MustCompile(`(?i)temperature.*?(\d+(?:\.\d+)?)`)},
	{"free_gb", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*GB\s*free`)},
	{"free_mb", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*MB\s*free`)},
}

// ExtractFacts builds facts from free text: the text itself plus any
// recognised numeric metrics.
func ExtractFacts(text string) Facts {
	facts := Facts{TextField: text}
	for _, ex := range extractors {
		m := ex.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			facts[ex.field] = v
		}
	}
	return facts
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// bindArgs copies rule arguments, replacing "{field}" placeholders with
// fact values. A value that is exactly one placeholder takes the fact's
// native type; embedded placeholders are formatted into the string.
// Placeholders without a matching fact are left untouched.
func bindArgs(args map[string]any, facts Facts) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		if m := placeholder.FindStringSubmatch(s); m != nil && m[0] == s {
			if fv, ok := facts[m[1]]; ok {
				out[k] = fv
				continue
			}
		}
		out[k] = placeholder.ReplaceAllStringFunc(s, func(p string) string {
			name := p[1 : len(p)-1]
			if fv, ok := facts[name]; ok {
				return fmt.Sprint(fv)
			}
			return p
		})
	}
	return out
}
