package intent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ToolCommand is a tool invocation parsed directly from request text.
type ToolCommand struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

var (
	funcCall = regexp.MustCompile(`^\s*(?:call\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(([^()]*)\)\s*;?\s*$`)

	keywordTools = []struct {
		keyword string
		tool    string
	}{
		{"disk", "disk_info"},
		{"memory", "memory_info"},
		{"process", "process_list"},
		{"network", "network_status"},
		{"service", "service_status"},
	}
)

// ParseToolCommand extracts a tool invocation from a prompt. It accepts the
// command prefix form (`!@ call disk_info pid=42` or `!@ kill_process {"pid": 42}`),
// function-call syntax (`kill_process(pid=42, force=true)`), and for
// ToolCall requests without either form, a keyword mapping onto the
// built-in diagnostic tools.
func (c *Classifier) ParseToolCommand(prompt string) (*ToolCommand, bool) {
	trimmed := strings.TrimSpace(prompt)

	if strings.HasPrefix(trimmed, c.marker) {
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, c.marker))
		if len(rest) > 4 && strings.EqualFold(rest[:4], "call") && (rest[4] == ' ' || rest[4] == '\t') {
			rest = strings.TrimSpace(rest[4:])
		}
		if m := funcCall.FindStringSubmatch(rest); m != nil {
			return &ToolCommand{Tool: m[1], Args: parseArgList(m[2], ",")}, true
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return nil, false
		}
		cmd := &ToolCommand{Tool: fields[0]}
		tail := strings.TrimSpace(rest[len(fields[0]):])
		if strings.HasPrefix(tail, "{") {
			var args map[string]any
			if err := json.Unmarshal([]byte(tail), &args); err == nil {
				cmd.Args = args
				return cmd, true
			}
		}
		cmd.Args = parseArgList(tail, " ")
		return cmd, true
	}

	if m := funcCall.FindStringSubmatch(trimmed); m != nil {
		return &ToolCommand{Tool: m[1], Args: parseArgList(m[2], ",")}, true
	}

	lower := strings.ToLower(trimmed)
	for _, kt := range keywordTools {
		if containsTrigger(lower, kt.keyword) {
			return &ToolCommand{Tool: kt.tool}, true
		}
	}
	return nil, false
}

// parseArgList parses key=value pairs separated by sep. Values are typed as
// bool, integer, float or string.
func parseArgList(s, sep string) map[string]any {
	var parts []string
	if sep == " " {
		parts = strings.Fields(s)
	} else {
		parts = strings.Split(s, sep)
	}

	args := make(map[string]any)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		args[strings.TrimSpace(key)] = parseValue(strings.TrimSpace(value))
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func parseValue(v string) any {
	if unquoted, err := strconv.Unquote(v); err == nil {
		return unquoted
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
