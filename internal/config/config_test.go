package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, 60*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 10, cfg.MemoryRecallK)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, ChatRunQueue, cfg.ChatRunPolicy)
	assert.Equal(t, 30*time.Second, cfg.WSPingInterval)
	assert.Equal(t, int64(65536), cfg.WSMaxMessageSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TOOL_TIMEOUT_MS", "1500")
	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("CHAT_RUN_POLICY", "REJECT")
	t.Setenv("MEMORY_BACKEND", "redis")

	cfg := Load()
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.ToolTimeout)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, ChatRunReject, cfg.ChatRunPolicy)
	assert.Equal(t, MemoryRedis, cfg.MemoryBackend)
	require.NoError(t, cfg.Validate())
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")
	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":        func(c *Config) { c.HTTPPort = 0 },
		"driver":      func(c *Config) { c.DatabaseDriver = "postgres" },
		"concurrency": func(c *Config) { c.MaxConcurrency = 0 },
		"buffer":      func(c *Config) { c.EventBuffer = 0 },
		"timeout":     func(c *Config) { c.ToolTimeout = 0 },
		"threshold":   func(c *Config) { c.ConfidenceThreshold = 1.5 },
		"policy":      func(c *Config) { c.ChatRunPolicy = "drop" },
		"memory":      func(c *Config) { c.MemoryBackend = "qdrant" },
		"recall":      func(c *Config) { c.MemoryRecallK = 0 },
		"ws":          func(c *Config) { c.WSReadTimeout = c.WSPingInterval },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Load()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	require.Len(t, catalog.Tools, 5)
	require.Len(t, catalog.Agents, 4)

	var operatorActive = true
	for _, a := range catalog.Agents {
		if a.ID == "operator" {
			operatorActive = a.Active
		}
	}
	assert.False(t, operatorActive)

	var fetchHeaders map[string]interface{}
	for _, b := range catalog.Bindings {
		if b.AgentID == "researcher" && b.Tool == "web_fetch" {
			fetchHeaders, _ = b.Config["headers"].(map[string]interface{})
		}
	}
	assert.Equal(t, "dipagt-researcher/1.0", fetchHeaders["User-Agent"])
}

func TestParseCatalogErrors(t *testing.T) {
	_, err := ParseCatalog([]byte("agents:\n  - id: a\n    tools:\n      - name: missing\n"))
	assert.ErrorContains(t, err, "unknown tool missing")

	_, err = ParseCatalog([]byte("tools:\n  - name: answer\n  - name: answer\n"))
	assert.ErrorContains(t, err, "duplicate catalog tool")

	_, err = ParseCatalog([]byte("agents: [unclosed"))
	assert.Error(t, err)
}

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	doc := "tools:\n  - name: answer\nagents:\n  - id: helper\n    tools:\n      - name: answer\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.Agents, 1)
	assert.Equal(t, "helper", catalog.Agents[0].Name)
	assert.True(t, catalog.Agents[0].Active)

	missing, err := LoadCatalog(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, missing.Agents, 4)
}
