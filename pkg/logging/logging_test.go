package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewFansOutToFile(t *testing.T) {
	var stderr bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "sentinel.log")

	logger, closer, err := New(Options{Level: "info", File: file, Stderr: &stderr})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("routed", "backend", "phi2_local")
	require.NoError(t, closer())

	require.Contains(t, stderr.String(), "backend=phi2_local")
	require.NotContains(t, stderr.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "routed", entry["msg"])
	require.Equal(t, "phi2_local", entry["backend"])
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "chatty", Stderr: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestToJournalKey(t *testing.T) {
	require.Equal(t, "TRACE_ID", toJournalKey("trace.id"))
	require.Equal(t, "BACKEND_2", toJournalKey("backend-2"))
}
