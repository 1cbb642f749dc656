package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRoutingConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "routing.yaml", `
default_model: phi2_local
offline_chain: [phi2_local]
load_balancing:
  strategy: reject
  max_concurrent_requests: 2
`)
	cfg, err := LoadRoutingConfig(path)
	require.NoError(t, err)

	require.Equal(t, "reject", cfg.LoadBalancing.Strategy)
	require.Equal(t, 2, cfg.LoadBalancing.MaxConcurrentRequests)
	require.Equal(t, 30000, cfg.LoadBalancing.TimeoutMs)
	require.Equal(t, 2, cfg.LoadBalancing.RetryAttempts)
	require.Equal(t, 100, cfg.Retry.BaseBackoffMs)
	require.Equal(t, 1000, cfg.Retry.MaxBackoffMs)
}

func TestRoutingValidateReportsEveryBadReference(t *testing.T) {
	cfg := DefaultRoutingConfig()
	cfg.OfflineChain = append(cfg.OfflineChain, "ghost")
	cfg.Intents["tool_call"] = []string{"phantom"}
	cfg.LoadBalancing.Strategy = "random"

	err := cfg.Validate(DefaultModels())
	require.Error(t, err)
	require.Contains(t, err.Error(), `offline_chain model "ghost" not found`)
	require.Contains(t, err.Error(), `intent tool_call model "phantom" not found`)
	require.Contains(t, err.Error(), `unknown load_balancing.strategy "random"`)
}

func TestResolveModelAndGeneration(t *testing.T) {
	cfg := DefaultRoutingConfig()
	require.Equal(t, "phi2_local", cfg.ResolveModel("fast"))
	require.Equal(t, "claude", cfg.ResolveModel("claude"))

	gen := cfg.GenerationFor("tool_call")
	require.InDelta(t, 0.1, gen.Temperature, 1e-9)
	require.Equal(t, 256, gen.MaxTokens)

	fallback := cfg.GenerationFor("no_such_intent")
	require.Equal(t, 1024, fallback.MaxTokens)
}

func TestContextBucketFor(t *testing.T) {
	cfg := DefaultRoutingConfig()

	name, ok := cfg.ContextBucketFor(1000)
	require.True(t, ok)
	require.Equal(t, "small", name)

	name, ok = cfg.ContextBucketFor(5000)
	require.True(t, ok)
	require.Equal(t, "medium", name)

	_, ok = cfg.ContextBucketFor(10_000_000)
	require.False(t, ok)
}
