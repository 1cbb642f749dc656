package main

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sentinel/pkg/reward"
)

func TestParseKeyValues(t *testing.T) {
	args, err := parseKeyValues([]string{"pid=42", "force=true", "name=a=b"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"pid": "42", "force": "true", "name": "a=b"}, args)

	args, err = parseKeyValues(nil)
	require.NoError(t, err)
	require.Nil(t, args)

	_, err = parseKeyValues([]string{"pid"})
	require.Error(t, err)
	_, err = parseKeyValues([]string{"=1"})
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "check memory", truncate("check\n  memory", 20))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestFormatHelpers(t *testing.T) {
	require.Equal(t, "-", formatReward(nil))
	r := 0.5
	require.Equal(t, "+0.50", formatReward(&r))
	require.Equal(t, "12345678", shortID("12345678-aaaa"))
	require.Equal(t, "-", orDash(""))
	require.Equal(t, "-", formatList(nil))
	require.Equal(t, "a, b", formatList([]string{"a", "b"}))
}

func TestConfirmAndFeedbackShareInput(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("yes\nn\n"))
	require.True(t, confirm(in, ""))
	require.Equal(t, reward.Negative, reward.AwaitFeedback(context.Background(), in, time.Second))
	require.False(t, confirm(in, ""))
}
