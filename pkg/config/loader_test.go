package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, "fast", cfg.Agent.Mode)
	assert.InDelta(t, 0.75, cfg.Agent.KnowledgeRetrievalThreshold, 1e-6)
	assert.Equal(t, 2, cfg.Agent.AutomaticRetrievalTopK)
	assert.Equal(t, 2, cfg.Agent.ModeSwitchCooldownIters)
	assert.True(t, cfg.Agent.HeuristicEnabled())
	assert.Equal(t, 5, cfg.Learner.CadenceMessages)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadMergesUserValuesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
agent:
  max_iterations: 3
  mode: deep
server:
  addr: ":9090"
tools:
  shell_timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, "deep", cfg.Agent.Mode)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Tools.ShellTimeout)

	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.75, cfg.Agent.KnowledgeRetrievalThreshold, 1e-6)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadDisablesHeuristic(t *testing.T) {
	path := writeConfig(t, `
agent:
  sequential_dependency_heuristic: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Agent.HeuristicEnabled())
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("SIGIL_TEST_DB", "postgres://localhost:5432/sigil")
	path := writeConfig(t, `
store:
  backend: postgres
  database_url: "{{.SIGIL_TEST_DB}}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/sigil", cfg.Store.DatabaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"unknown mode", func(c *Config) { c.Agent.Mode = "turbo" }},
		{"threshold above one", func(c *Config) { c.Agent.KnowledgeRetrievalThreshold = 1.5 }},
		{"negative topk", func(c *Config) { c.Agent.AutomaticRetrievalTopK = -1 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"postgres without url", func(c *Config) { c.Store.Backend = "postgres"; c.Store.DatabaseURL = "" }},
		{"zero learner workers", func(c *Config) { c.Learner.Workers = 0 }},
		{"zero cadence", func(c *Config) { c.Learner.CadenceMessages = 0 }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandEnvLeavesDollarAlone(t *testing.T) {
	out := ExpandEnv([]byte(`pattern: "^secret.*$"`))
	assert.Equal(t, `pattern: "^secret.*$"`, string(out))
}
