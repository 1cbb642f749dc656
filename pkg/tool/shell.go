package tool

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// shellEscape quotes s for sh unless it only contains characters that are
// never special to the shell.
func shellEscape(s string) string {
	if s != "" && safeShell.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

var (
	safeShell   = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(\?[^{}]*)?\}`)
)

// substitute expands a command template. {key} becomes the shell-escaped
// argument; {key?text} becomes text when the argument is set and not false.
// Placeholders without an argument expand to nothing.
func substitute(template string, args map[string]any) string {
	out := placeholder.ReplaceAllStringFunc(template, func(p string) string {
		m := placeholder.FindStringSubmatch(p)
		v, ok := args[m[1]]
		if m[2] != "" {
			if ok && truthy(v) {
				return m[2][1:]
			}
			return ""
		}
		if !ok || v == nil {
			return ""
		}
		return shellEscape(formatArg(v))
	})
	return strings.TrimSpace(out)
}

func formatArg(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "false"
	default:
		return true
	}
}
