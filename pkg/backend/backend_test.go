package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zen-systems/sentinel/pkg/config"
	"github.com/zen-systems/sentinel/pkg/registry"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limited", statusError(429, errors.New("slow down")), true},
		{"server error", statusError(503, errors.New("down")), true},
		{"bad request", statusError(400, errors.New("bad")), false},
		{"malformed", Malformed("no choices"), false},
		{"wrapped timeout", fmt.Errorf("call: %w", &Error{Kind: KindTimeout}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	require.Equal(t, KindTimeout, KindOf(statusError(504, nil)))
	require.Equal(t, KindMalformed, KindOf(fmt.Errorf("x: %w", Malformed("bad json"))))
	require.Equal(t, KindUnavailable, KindOf(errors.New("refused")))
}

func TestLocalGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"memory at 95%"}}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7},
			"facts":{"memory_percent":95}}`))
	}))
	defer srv.Close()

	l := NewLocal(srv.URL + "/v1/")
	resp, err := l.Generate(context.Background(), Request{
		Model:        "phi2",
		Prompt:       "check memory",
		SystemPrompt: "be brief",
		Temperature:  0.2,
		MaxTokens:    64,
	})
	require.NoError(t, err)
	require.Equal(t, "memory at 95%", resp.Text)
	require.Equal(t, "local", resp.Backend)
	require.Equal(t, 7, resp.Usage.TotalTokens)
	require.Equal(t, 95.0, resp.Facts["memory_percent"])

	require.Equal(t, "phi2", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, 64, got.MaxTokens)
}

func TestLocalStatusErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("loading model"))
	}))
	defer srv.Close()

	l := NewLocal(srv.URL)
	_, err := l.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	require.True(t, IsTransient(err))

	status = http.StatusBadRequest
	_, err = l.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	require.False(t, IsTransient(err))
}

func TestLocalMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewLocal(srv.URL).Generate(context.Background(), Request{Prompt: "hi"})
	require.Equal(t, KindMalformed, KindOf(err))
}

func TestMockFailuresThenSuccess(t *testing.T) {
	m := NewMock("m").FailWith(statusError(503, nil)).Respond("ping", "pong")

	_, err := m.Generate(context.Background(), Request{Prompt: "ping"})
	require.Error(t, err)

	resp, err := m.Generate(context.Background(), Request{Prompt: "ping"})
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Text)
	require.Equal(t, 2, m.Calls())
}

func TestMockDelayHonoursContext(t *testing.T) {
	m := NewMock("slow").WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Generate(ctx, Request{Prompt: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, IsTransient(err))
}

func TestClientsSkipsProvidersWithoutKeys(t *testing.T) {
	reg, err := registry.New(config.DefaultModels())
	require.NoError(t, err)

	clients := Clients(reg, Credentials{}, nil)
	require.Contains(t, clients, "phi2_local")
	require.Contains(t, clients, "mistral_7b")
	require.NotContains(t, clients, "claude")
	require.NotContains(t, clients, "gpt")
	require.NotContains(t, clients, "gemini")

	_, err = New(&registry.Descriptor{ID: "x", Provider: "carrier-pigeon"}, Credentials{})
	require.Error(t, err)
}
