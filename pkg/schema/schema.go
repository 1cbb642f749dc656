// Package schema validates tool arguments against a closed field schema.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Field types.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// ErrValidation reports arguments that do not satisfy a schema.
var ErrValidation = errors.New("schema validation failed")

// ValidationError lists every problem found in one argument set.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Field describes one argument.
type Field struct {
	Type        string   `yaml:"type" json:"type"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any      `yaml:"default,omitempty" json:"default,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	MinLength   *int     `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength   *int     `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Min         *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Pattern     string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`

	re *regexp.Regexp
}

// Schema maps argument names to fields. Arguments not named in the schema
// are rejected.
type Schema map[string]*Field

// Compile checks field definitions and precompiles patterns.
func (s Schema) Compile() error {
	var errs []error
	for _, name := range s.names() {
		f := s[name]
		if f == nil {
			errs = append(errs, fmt.Errorf("field %s: empty definition", name))
			continue
		}
		switch f.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		default:
			errs = append(errs, fmt.Errorf("field %s: unknown type %q", name, f.Type))
			continue
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", name, err))
				continue
			}
			f.re = re
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			errs = append(errs, fmt.Errorf("field %s: min > max", name))
		}
		if f.Default != nil {
			if _, problem := f.check(name, f.Default); problem != "" {
				errs = append(errs, fmt.Errorf("field %s: default: %s", name, problem))
			}
		}
	}
	return errors.Join(errs...)
}

// Validate checks args and returns a normalized copy with defaults filled
// in and numbers converted to the declared type. The input is not modified.
func (s Schema) Validate(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s))
	var problems []string

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := s[k]; !ok {
			problems = append(problems, fmt.Sprintf("unknown argument %s", k))
		}
	}

	for _, name := range s.names() {
		f := s[name]
		v, ok := args[name]
		if !ok || v == nil {
			switch {
			case f.Default != nil:
				v, _ = f.check(name, f.Default)
				out[name] = v
			case f.Required:
				problems = append(problems, fmt.Sprintf("%s is required", name))
			}
			continue
		}
		norm, problem := f.check(name, v)
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		out[name] = norm
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}

// names returns the field names in sorted order.
func (s Schema) names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Field) check(name string, v any) (any, string) {
	switch f.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Sprintf("%s must be a string", name)
		}
		n := utf8.RuneCountInString(str)
		if f.MinLength != nil && n < *f.MinLength {
			return nil, fmt.Sprintf("%s must be at least %d characters", name, *f.MinLength)
		}
		if f.MaxLength != nil && n > *f.MaxLength {
			return nil, fmt.Sprintf("%s must be at most %d characters", name, *f.MaxLength)
		}
		if f.re != nil && !f.re.MatchString(str) {
			return nil, fmt.Sprintf("%s does not match %s", name, f.Pattern)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, str) {
			return nil, fmt.Sprintf("%s must be one of %s", name, strings.Join(f.Enum, ", "))
		}
		return str, ""

	case TypeInteger:
		x, ok := toFloat(v)
		if !ok || x != math.Trunc(x) || math.IsInf(x, 0) {
			return nil, fmt.Sprintf("%s must be an integer", name)
		}
		if problem := f.bounds(name, x); problem != "" {
			return nil, problem
		}
		return int64(x), ""

	case TypeNumber:
		x, ok := toFloat(v)
		if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Sprintf("%s must be a number", name)
		}
		if problem := f.bounds(name, x); problem != "" {
			return nil, problem
		}
		return x, ""

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, ""
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed, ""
			}
		}
		return nil, fmt.Sprintf("%s must be a boolean", name)
	}
	return nil, fmt.Sprintf("%s has unknown type %q", name, f.Type)
}

func (f *Field) bounds(name string, x float64) string {
	if f.Min != nil && x < *f.Min {
		return fmt.Sprintf("%s must be >= %v", name, *f.Min)
	}
	if f.Max != nil && x > *f.Max {
		return fmt.Sprintf("%s must be <= %v", name, *f.Max)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		x, err := n.Float64()
		return x, err == nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return x, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to v, for building bounds in code.
func Ptr[T any](v T) *T {
	return &v
}
