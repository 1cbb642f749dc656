package intent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseToolCommand(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		name   string
		prompt string
		want   *ToolCommand
	}{
		{"prefix call", "!@ call disk_info", &ToolCommand{Tool: "disk_info"}},
		{"prefix without call", "!@ memory_info", &ToolCommand{Tool: "memory_info"}},
		{"prefix key values", "!@ call kill_process pid=42 force=true", &ToolCommand{
			Tool: "kill_process", Args: map[string]any{"pid": int64(42), "force": true},
		}},
		{"prefix json", `!@ call kill_process {"pid": 7}`, &ToolCommand{
			Tool: "kill_process", Args: map[string]any{"pid": float64(7)},
		}},
		{"prefix function syntax", `!@ service_status(name="sshd")`, &ToolCommand{
			Tool: "service_status", Args: map[string]any{"name": "sshd"},
		}},
		{"bare function syntax", "kill_process(pid=1, force=false)", &ToolCommand{
			Tool: "kill_process", Args: map[string]any{"pid": int64(1), "force": false},
		}},
		{"keyword mapping", "please run the disk tool", &ToolCommand{Tool: "disk_info"}},
		{"float value", "!@ call throttle limit=0.5", &ToolCommand{
			Tool: "throttle", Args: map[string]any{"limit": 0.5},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := c.ParseToolCommand(tc.prompt)
			if !ok {
				t.Fatalf("expected a command for %q", tc.prompt)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseToolCommandNoMatch(t *testing.T) {
	c := NewClassifier()
	for _, prompt := range []string{"!@", "!@   ", "tell me a joke"} {
		if cmd, ok := c.ParseToolCommand(prompt); ok {
			t.Fatalf("expected no command for %q, got %+v", prompt, cmd)
		}
	}
}

func TestDetectHybrid(t *testing.T) {
	cases := map[string]Hybrid{
		"what is a page cache":                              PureQuery,
		"clean the cache":                                   PureAction,
		"explain swap and then check memory":                QueryThenAction,
		"check memory and explain what the numbers mean":    ActionThenQuery,
		"if memory is above 90 percent clean the cache":     ConditionalAction,
		"restart the service when the disk fills":           ConditionalAction,
	}
	for prompt, want := range cases {
		if got := DetectHybrid(prompt); got != want {
			t.Errorf("DetectHybrid(%q) = %s, want %s", prompt, got, want)
		}
	}

	if PureQuery.WantsAction() {
		t.Fatalf("pure query must not want action")
	}
	if !ConditionalAction.WantsAction() {
		t.Fatalf("conditional action wants action")
	}
}
