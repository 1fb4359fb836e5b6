package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
memory:
  driver: sqlite
  dsn: test.db
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "local", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, 10, cfg.Memory.CoreCap)
	assert.Equal(t, 15, cfg.Memory.MaxContextMemories)
	assert.InDelta(t, 14.0, cfg.Memory.EpisodicHalfLifeDays, 0.001)
	assert.InDelta(t, 180.0, cfg.Memory.LongTermHalfLifeDays, 0.001)
	assert.Equal(t, 500, cfg.Classifier.CacheCapacity)
	assert.Equal(t, 30, cfg.Retrieval.MaxChunks)
	assert.Equal(t, 250, cfg.Epistemic.AnchorFastMS)
	assert.Equal(t, []string{"anthropic", "openai", "ollama"}, cfg.Roles.FallbackOrder)
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_MARGINALIA_KEY", "sk-test-123")

	cfg, err := Parse([]byte(`
providers:
  openai:
    type: openai
    model: gpt-4o-mini
    api_key: ${TEST_MARGINALIA_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Providers["openai"].APIKey)
}

func TestParseEnvVarDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
memory:
  driver: sqlite
  dsn: ${UNSET_MARGINALIA_DSN:-fallback.db}
`))
	require.NoError(t, err)
	assert.Equal(t, "fallback.db", cfg.Memory.DSN)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := &Config{
		Providers: map[string]LLMProviderConfig{
			"weird": {Type: "carrier-pigeon", Model: "v1"},
		},
	}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingModel(t *testing.T) {
	cfg := &Config{
		Providers: map[string]LLMProviderConfig{
			"openai": {Type: "openai"},
		},
	}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Memory.Driver)
	assert.Equal(t, "marginalia.db", cfg.Memory.DSN)
}

func TestLoadModesFile(t *testing.T) {
	dir := t.TempDir()
	modesPath := filepath.Join(dir, "modes.json")
	require.NoError(t, os.WriteFile(modesPath, []byte(`{
		"roles": {
			"classifier": {"provider": "ollama", "model": "qwen2.5:3b"}
		},
		"fallback_order": ["ollama"]
	}`), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
memory:
  driver: sqlite
  dsn: test.db
roles:
  modes_file: `+modesPath+`
providers:
  ollama:
    type: ollama
    model: qwen2.5:3b
`), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Roles.Assignments[RoleClassifier].Provider)
	assert.Equal(t, "qwen2.5:3b", cfg.Roles.Assignments[RoleClassifier].Model)
	assert.Equal(t, []string{"ollama"}, cfg.Roles.FallbackOrder)
}

func TestProviderTimeoutDefaults(t *testing.T) {
	remote := LLMProviderConfig{Type: "openai", Model: "gpt-4o-mini"}
	remote.SetDefaults()
	assert.Equal(t, 120, remote.Timeout)

	local := LLMProviderConfig{Type: "ollama", Model: "qwen2.5:3b"}
	local.SetDefaults()
	assert.Equal(t, 300, local.Timeout)
}

func TestExpandEnvVarsInDataCoercesTypes(t *testing.T) {
	t.Setenv("TEST_MARGINALIA_PORT", "8080")
	t.Setenv("TEST_MARGINALIA_FLAG", "true")

	out := ExpandEnvVarsInData(map[string]interface{}{
		"port": "${TEST_MARGINALIA_PORT}",
		"flag": "${TEST_MARGINALIA_FLAG}",
		"name": "plain",
	}).(map[string]interface{})

	assert.Equal(t, 8080, out["port"])
	assert.Equal(t, true, out["flag"])
	assert.Equal(t, "plain", out["name"])
}
