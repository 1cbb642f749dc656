package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleModels = `
[models.local_small]
name = "Local Small"
provider = "ollama"
endpoint = "http://localhost:11434/v1"
location = "local"
trusted = true
allow_tool_calls = true
offline_only = true
capabilities = ["tool_calling", "text_generation"]
performance_tier = "realtime"
context_length = 2048
priority = 90

[models.remote_big]
name = "Remote Big"
provider = "anthropic"
model_id = "claude-sonnet-4-20250514"
capabilities = ["text_generation", "code_generation"]
performance_tier = "powerful"
context_length = 200000
priority = 40
safety_notes = "answers only"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadModelsKeepsDeclarationOrder(t *testing.T) {
	cfg, err := LoadModels(writeFile(t, "models.toml", sampleModels))
	require.NoError(t, err)

	require.Equal(t, []string{"local_small", "remote_big"}, cfg.Order)
	small := cfg.Models["local_small"]
	require.Equal(t, "local_small", small.ID)
	require.Equal(t, "local_small", small.ModelID, "model_id defaults to the table key")
	require.True(t, small.Trusted)

	big := cfg.Models["remote_big"]
	require.Equal(t, "remote", big.Location, "location defaults to remote")
	require.Equal(t, "claude-sonnet-4-20250514", big.ModelID)
}

func TestLoadModelsRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"priority out of range": `
[models.m]
name = "m"
provider = "ollama"
capabilities = ["text_generation"]
performance_tier = "fast"
context_length = 10
priority = 101
`,
		"unknown tier": `
[models.m]
name = "m"
provider = "ollama"
capabilities = ["text_generation"]
performance_tier = "ludicrous"
context_length = 10
priority = 1
`,
		"no capabilities": `
[models.m]
name = "m"
provider = "ollama"
capabilities = []
performance_tier = "fast"
context_length = 10
priority = 1
`,
		"zero context": `
[models.m]
name = "m"
provider = "ollama"
capabilities = ["text_generation"]
performance_tier = "fast"
context_length = 0
priority = 1
`,
		"unknown key": `
[models.m]
name = "m"
provider = "ollama"
capabilities = ["text_generation"]
performance_tier = "fast"
context_length = 10
priority = 1
colour = "blue"
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadModels(writeFile(t, "models.toml", content))
			require.Error(t, err)
		})
	}
}

func TestDefaultModelsValid(t *testing.T) {
	cfg := DefaultModels()
	require.NoError(t, cfg.Validate())
	require.NoError(t, DefaultRoutingConfig().Validate(cfg))
}
