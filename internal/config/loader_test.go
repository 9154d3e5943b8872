package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
	return dir
}

func TestLoadConfigFull(t *testing.T) {
	dir := writeConfig(t, `
proxy:
  port: 9090
servers:
  memory:
    command: npx
    args: ["-y", "@server/memory"]
    env:
      DEBUG: "1"
  remote:
    url: https://mcp.example.com/sse
    timeout: 5000
    reconnect:
      max_attempts: 3
      initial_delay_ms: 500
      backoff_multiplier: 3
      max_delay_ms: 2000
toolOverrides:
  memory__check_embedding_mode:
    name: memory__check
    description: Check embedding mode
autoReconnect:
  enabled: true
  max_attempts: 4
`)

	cfg, err := loadConfig(dir, fakeResolver(nil))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Proxy.Port)
	assert.Equal(t, DefaultHost, cfg.Proxy.Host)

	mem := cfg.Servers["memory"]
	assert.Equal(t, "memory", mem.Name)
	assert.Equal(t, TransportStdio, mem.Transport())
	assert.Equal(t, DefaultRequestTimeout, mem.RequestTimeout())

	remote := cfg.Servers["remote"]
	assert.Equal(t, TransportSSE, remote.Transport())
	assert.Equal(t, 5000, remote.TimeoutMs)
	assert.Equal(t, 3, remote.Reconnect.MaxAttempts)

	ov, ok := cfg.ToolOverrides["memory__check_embedding_mode"]
	require.True(t, ok)
	assert.Equal(t, "memory__check", ov.Name)

	assert.True(t, cfg.AutoReconnect.Enabled)
	assert.Equal(t, 4, cfg.AutoReconnect.MaxAttempts)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(t.TempDir(), fakeResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config.yaml")
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	dir := writeConfig(t, `
servers:
  s:
    command: echo
    commandz: typo
`)
	_, err := loadConfig(dir, fakeResolver(nil))
	require.Error(t, err)
}

func TestLoadConfigRejectsInvalidServerName(t *testing.T) {
	dir := writeConfig(t, `
servers:
  "bad name; rm -rf":
    command: echo
`)
	_, err := loadConfig(dir, fakeResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server name")
}

func TestLoadConfigRejectsCommandAndURL(t *testing.T) {
	dir := writeConfig(t, `
servers:
  s:
    command: echo
    url: https://example.com
`)
	_, err := loadConfig(dir, fakeResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadConfigRejectsIncompleteClientCredentials(t *testing.T) {
	dir := writeConfig(t, `
servers:
  s:
    url: https://example.com/mcp
    auth:
      type: client_credentials
      clientId: id
`)
	_, err := loadConfig(dir, fakeResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_credentials")
}

func TestLoadConfigRejectsUnknownOverrideStrategy(t *testing.T) {
	dir := writeConfig(t, `
servers:
  s:
    command: echo
toolOverrides:
  "s__*":
    inputSchemaOverride:
      strategy: smoosh
`)
	_, err := loadConfig(dir, fakeResolver(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy")
}

func TestLoadConfigResolvesEnvReferences(t *testing.T) {
	dir := writeConfig(t, `
servers:
  remote:
    url: https://${HOST}/sse
    auth:
      type: bearer
      token: ${TOKEN:fallback}
`)
	cfg, err := loadConfig(dir, fakeResolver(map[string]string{"HOST": "h.example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "https://h.example.com/sse", cfg.Servers["remote"].URL)
	assert.Equal(t, "fallback", cfg.Servers["remote"].Auth.Token)
}

func TestLoadOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
"github__*":
  description: GitHub tools
`), 0o644))

	overrides, err := LoadOverridesFile(path)
	require.NoError(t, err)
	assert.Equal(t, "GitHub tools", overrides["github__*"].Description)
}
