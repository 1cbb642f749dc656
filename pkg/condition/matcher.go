// Package condition matches declarative rules against response facts and
// proposes tool invocations.
package condition

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule proposes a tool invocation when its pattern matches.
type Rule struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Pattern     Pattern        `yaml:"pattern" json:"pattern"`
	Tool        string         `yaml:"tool" json:"tool"`
	Args        map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Confirm     bool           `yaml:"confirm,omitempty" json:"confirm,omitempty"`
	Priority    int            `yaml:"priority" json:"priority"`
}

// File is the on-disk rule set.
type File struct {
	Conditions []Rule `yaml:"conditions"`
}

// Match is a matched rule with its arguments bound from facts.
type Match struct {
	Rule *Rule          `json:"rule"`
	Args map[string]any `json:"args"`
}

// Matcher evaluates a fixed rule set. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	rules []*Rule
}

// New compiles rules. Rules are held in descending priority order, stable
// by declaration.
func New(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: make([]*Rule, 0, len(rules))}
	seen := make(map[string]bool)
	for i := range rules {
		r := rules[i]
		if r.Name == "" {
			return nil, fmt.Errorf("condition %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("condition %s: duplicate name", r.Name)
		}
		seen[r.Name] = true
		if r.Tool == "" {
			return nil, fmt.Errorf("condition %s: tool is required", r.Name)
		}
		if err := r.Pattern.compile(); err != nil {
			return nil, fmt.Errorf("condition %s: %w", r.Name, err)
		}
		m.rules = append(m.rules, &r)
	}
	sort.SliceStable(m.rules, func(i, j int) bool {
		return m.rules[i].Priority > m.rules[j].Priority
	})
	return m, nil
}

// Load reads a YAML rule set.
func Load(path string) (*Matcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return New(file.Conditions)
}

// LoadOrDefault reads path when it exists and falls back to Defaults.
func LoadOrDefault(path string) (*Matcher, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return New(Defaults())
}

// Rules returns the rules in evaluation order.
func (m *Matcher) Rules() []*Rule {
	return append([]*Rule(nil), m.rules...)
}

// Evaluate returns every matching rule, highest priority first.
func (m *Matcher) Evaluate(facts Facts) []Match {
	var out []Match
	for _, r := range m.rules {
		if r.Pattern.match(facts) {
			out = append(out, Match{Rule: r, Args: r.bind(facts)})
		}
	}
	return out
}

// Select returns the single match forwarded for execution, or nil.
func (m *Matcher) Select(facts Facts) *Match {
	for _, r := range m.rules {
		if r.Pattern.match(facts) {
			return &Match{Rule: r, Args: r.bind(facts)}
		}
	}
	return nil
}

// bind resolves the rule's argument placeholders against facts and the
// named groups of its regex patterns.
func (r *Rule) bind(facts Facts) map[string]any {
	if len(r.Args) == 0 {
		return map[string]any{}
	}
	captured := Facts{}
	r.Pattern.captures(facts, captured)
	if len(captured) == 0 {
		return bindArgs(r.Args, facts)
	}
	return bindArgs(r.Args, facts.Merge(captured))
}

// Names returns the rule names of matches.
func Names(matches []Match) []string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Rule.Name)
	}
	return names
}

// Defaults returns the built-in rule set.
func Defaults() []Rule {
	return []Rule{
		{
			Name:        "high_memory_usage",
			Description: "Free page cache when memory usage is high",
			Pattern:     Numeric("memory_percent", ">", 90),
			Tool:        "clean_cache",
			Confirm:     true,
			Priority:    10,
		},
		{
			Name:        "memory_pressure",
			Description: "Inspect memory when swap is mentioned under load",
			Pattern:     And(Numeric("memory_percent", ">", 75), Contains("swap")),
			Tool:        "memory_info",
			Priority:    8,
		},
		{
			Name:        "low_disk_space",
			Description: "Report disk usage when a filesystem is nearly full",
			Pattern:     Or(Numeric("disk_percent", ">", 90), Numeric("free_gb", "<", 1)),
			Tool:        "disk_info",
			Priority:    7,
		},
		{
			Name:        "high_cpu_usage",
			Description: "List processes when CPU usage is high",
			Pattern:     Numeric("cpu_percent", ">", 90),
			Tool:        "process_list",
			Args:        map[string]any{"sort": "cpu"},
			Priority:    6,
		},
		{
			Name:        "failed_service",
			Description: "Check a service reported as failed",
			Pattern:     Regex(`(?i)service\s+(?P<service>[a-z0-9_.@-]+)\s+(?:has\s+)?(?:failed|is\s+inactive)`),
			Tool:        "service_status",
			Args:        map[string]any{"name": "{service}"},
			Priority:    6,
		},
		{
			Name:        "disk_check",
			Description: "Check disk when mentioned",
			Pattern:     Contains("disk space", "storage"),
			Tool:        "disk_info",
			Args:        map[string]any{"verbose": true},
			Priority:    5,
		},
		{
			Name:        "network_trouble",
			Description: "Check network state on connectivity complaints",
			Pattern:     Contains("connection refused", "unreachable", "packet loss", "dns"),
			Tool:        "network_status",
			Priority:    4,
		},
	}
}
