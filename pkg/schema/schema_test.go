package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func killSchema(t *testing.T) Schema {
	t.Helper()
	s := Schema{
		"pid":    {Type: TypeInteger, Required: true, Min: Ptr(1.0)},
		"force":  {Type: TypeBoolean, Default: false},
		"signal": {Type: TypeString, Enum: []string{"TERM", "KILL", "HUP"}},
		"reason": {Type: TypeString, MinLength: Ptr(3), MaxLength: Ptr(20), Pattern: `^[a-z ]+$`},
		"limit":  {Type: TypeNumber, Min: Ptr(0.0), Max: Ptr(1.0)},
	}
	require.NoError(t, s.Compile())
	return s
}

func TestValidateNormalizes(t *testing.T) {
	s := killSchema(t)

	got, err := s.Validate(map[string]any{"pid": float64(42), "signal": "TERM", "limit": int64(1)})
	require.NoError(t, err)
	want := map[string]any{"pid": int64(42), "force": false, "signal": "TERM", "limit": 1.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalized args mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateProblems(t *testing.T) {
	s := killSchema(t)

	cases := map[string]map[string]any{
		"missing required":  {},
		"non integer":       {"pid": 4.5},
		"injection string":  {"pid": "1; rm -rf /"},
		"below min":         {"pid": 0},
		"wrong bool":        {"pid": 1, "force": "maybe"},
		"enum":              {"pid": 1, "signal": "STOP"},
		"short string":      {"pid": 1, "reason": "no"},
		"pattern":           {"pid": 1, "reason": "drop; table"},
		"above max":         {"pid": 1, "limit": 2},
		"unknown arguments": {"pid": 1, "path": "/etc"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Validate(args)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Problems)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	s := killSchema(t)
	_, err := s.Validate(map[string]any{"signal": "STOP", "extra": 1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 3)
}

func TestCompileRejectsBadDefinitions(t *testing.T) {
	cases := map[string]Schema{
		"type":    {"x": {Type: "date"}},
		"pattern": {"x": {Type: TypeString, Pattern: "("}},
		"bounds":  {"x": {Type: TypeInteger, Min: Ptr(5.0), Max: Ptr(1.0)}},
		"default": {"x": {Type: TypeInteger, Default: "soon"}},
		"nil":     {"x": nil},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, s.Compile())
		})
	}
}

func TestEmptySchemaRejectsArguments(t *testing.T) {
	var s Schema
	got, err := s.Validate(nil)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = s.Validate(map[string]any{"anything": 1})
	require.ErrorIs(t, err, ErrValidation)
}
