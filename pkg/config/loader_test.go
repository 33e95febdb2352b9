package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linguahome.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
model:
  name: claude-sonnet-4-20250514
`)
	loader, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxTokens, cfg.Model.MaxTokens)
	assert.Equal(t, "inmem", cfg.Memory.Backend)
	assert.Equal(t, DefaultRetries, cfg.Pipeline.Retries)
	assert.Equal(t, DefaultWindow, cfg.Pipeline.Window)
	assert.Equal(t, DefaultSnippetTimeout, cfg.Pipeline.SnippetTimeout)
	assert.Equal(t, DefaultDeviceTimeout, cfg.Devices.CallTimeout)
	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, path, cfg.SourcePath)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()
	loader, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultModelName, cfg.Model.Name)
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
model:
  name: gpt-4o
  max_tokens: 2048
devices:
  catalog_path: testbed.yaml
  call_timeout: 1s
  max_in_flight: 2
memory:
  backend: sqlite
  path: turns.db
pipeline:
  retries: 3
  window: 8
  snippet_timeout: 10s
server:
  listen_addr: ":9090"
skills_dir: skills
`)
	loader, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.Model.ResolveProvider())
	assert.Equal(t, 2048, cfg.Model.MaxTokens)
	assert.Equal(t, time.Second, cfg.Devices.CallTimeout)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 3, cfg.Pipeline.Retries)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.SnippetTimeout)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "skills", cfg.SkillsDir)
}

func TestReloadKeepsLastGood(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "model:\n  name: claude-sonnet-4-20250514\n")
	loader, err := NewLoader(path)
	require.NoError(t, err)
	first, err := loader.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("memory:\n  backend: papyrus\n"), 0o644))
	cfg, err := loader.Reload()
	require.Error(t, err)
	assert.Equal(t, first, cfg, "reload failure must surface the last good config")
}

func TestResolveProvider(t *testing.T) {
	t.Parallel()
	cases := []struct {
		block ModelBlock
		want  string
	}{
		{ModelBlock{Name: "gpt-4o"}, ProviderOpenAI},
		{ModelBlock{Name: "o3-mini"}, ProviderOpenAI},
		{ModelBlock{Name: "claude-sonnet-4-20250514"}, ProviderAnthropic},
		{ModelBlock{Name: "gpt-4o", Provider: "anthropic"}, ProviderAnthropic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.block.ResolveProvider(), "%+v", tc.block)
	}
}

func TestValidatorRejections(t *testing.T) {
	t.Parallel()
	v := NewDefaultValidator()

	bad := func(mutate func(*AppConfig)) *AppConfig {
		cfg := &AppConfig{}
		cfg.Normalize()
		mutate(cfg)
		return cfg
	}

	cases := []struct {
		name string
		cfg  *AppConfig
	}{
		{"unknown provider", bad(func(c *AppConfig) { c.Model.Provider = "oracle" })},
		{"sqlite without path", bad(func(c *AppConfig) { c.Memory.Backend = "sqlite" })},
		{"unknown backend", bad(func(c *AppConfig) { c.Memory.Backend = "papyrus" })},
		{"runaway snippet timeout", bad(func(c *AppConfig) { c.Pipeline.SnippetTimeout = time.Hour })},
		{"runaway device timeout", bad(func(c *AppConfig) { c.Devices.CallTimeout = time.Hour })},
		{"too many retries", bad(func(c *AppConfig) { c.Pipeline.Retries = 100 })},
		{"negative in-flight", bad(func(c *AppConfig) { c.Devices.MaxInFlight = -1 })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, v.Validate(tc.cfg))
		})
	}

	good := &AppConfig{}
	good.Normalize()
	assert.NoError(t, v.Validate(good))
}

func TestAPIKeyEnvOverride(t *testing.T) {
	t.Setenv("LINGUA_TEST_KEY", "sk-test-123")
	block := ModelBlock{Name: "claude-sonnet-4-20250514", APIKeyEnv: "LINGUA_TEST_KEY"}
	assert.Equal(t, "sk-test-123", block.APIKey())
}
