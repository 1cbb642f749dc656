package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestConfigUsesFileAPIKeysWhenEnvUnset(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	data := []byte("api_keys:\n  anthropic: file-ant\n  openai: file-openai\n  google: file-google\n")
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "file-ant" || cfg.OpenAIAPIKey != "file-openai" || cfg.GoogleAPIKey != "file-google" {
		t.Fatalf("expected file API keys, got %+v", cfg)
	}
}

func TestConfigEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	data := []byte("api_keys:\n  anthropic: file-ant\noffline: false\n")
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("SENTINEL_OFFLINE", "true")

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" {
		t.Fatalf("expected env API key, got %q", cfg.AnthropicAPIKey)
	}
	if !cfg.Offline {
		t.Fatalf("expected offline from env")
	}
}

func TestConfigDefaultsWithoutFiles(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models == nil || len(cfg.Models.Models) == 0 {
		t.Fatalf("expected default models")
	}
	if cfg.Routing.DefaultModel == "" {
		t.Fatalf("expected default routing")
	}
	if cfg.TracePath != filepath.Join(home, "traces", "rl_trace.jsonl") {
		t.Fatalf("unexpected trace path %s", cfg.TracePath)
	}
}

func TestSentinelHomeEnv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom")
	t.Setenv("SENTINEL_HOME", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeDir != dir {
		t.Fatalf("expected home %s, got %s", dir, cfg.HomeDir)
	}
}

func TestConfigRejectsRoutingToUnknownModel(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	routing := "default_model: nope\noffline_chain: [phi2_local]\n"
	if err := os.WriteFile(filepath.Join(home, "routing.yaml"), []byte(routing), 0600); err != nil {
		t.Fatalf("write routing: %v", err)
	}

	_, err := LoadFrom(home)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), `default_model "nope" not found`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("SENTINEL_HOME", "")
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
