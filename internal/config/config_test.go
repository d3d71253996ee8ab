package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"THREADCHAT_LLM_PROVIDER", "THREADCHAT_LLM_MODEL", "OLLAMA_HOST",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY", "AWS_REGION",
		"THREADCHAT_FAKE_RESPONSES", "THREADCHAT_STORE", "THREADCHAT_SQLITE_PATH",
		"SURREALDB_URL", "SURREALDB_NAMESPACE", "SURREALDB_DATABASE",
		"SURREALDB_USER", "SURREALDB_PASS", "SURREALDB_AUTH_LEVEL",
		"THREADCHAT_TITLE_MAX_LEN", "THREADCHAT_SERVER_ADDR", "THREADCHAT_SERVER_URL",
		"THREADCHAT_LOG_FILE", "THREADCHAT_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, ProviderOllama, cfg.LLMProvider)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 40, cfg.TitleMaxLen)
	assert.Equal(t, ":8484", cfg.ServerAddr)
	assert.Equal(t, []string{"Hello from threadchat."}, cfg.FakeResponses)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADCHAT_LLM_PROVIDER", "fake")
	t.Setenv("THREADCHAT_FAKE_RESPONSES", "one| two |")
	t.Setenv("THREADCHAT_TITLE_MAX_LEN", "20")
	t.Setenv("THREADCHAT_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, ProviderFake, cfg.LLMProvider)
	assert.Equal(t, []string{"one", "two"}, cfg.FakeResponses)
	assert.Equal(t, 20, cfg.TitleMaxLen)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADCHAT_TITLE_MAX_LEN", "forty")

	assert.Equal(t, 40, Load().TitleMaxLen)
}

func TestLoadFileYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_THREADCHAT_KEY", "sk-from-env")

	path := writeFile(t, "threadchat.yaml", `
llm:
  provider: openai
  model: llama-3.1-8b-instant
  openai_api_key: ${TEST_THREADCHAT_KEY}
  openai_base_url: https://api.groq.com/openai/v1
store:
  backend: sqlite
  sqlite_path: /tmp/chat.db
threads:
  title_max_len: 30
logging:
  level: warn
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLMModel)
	assert.Equal(t, "sk-from-env", cfg.OpenAIAPIKey)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/chat.db", cfg.SQLitePath)
	assert.Equal(t, 30, cfg.TitleMaxLen)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileTOML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "threadchat.toml", `
[llm]
provider = "fake"
fake_responses = ["first", "second"]

[store]
backend = "surrealdb"

[store.surrealdb]
url = "ws://db:8000/rpc"
namespace = "ns"

[server]
addr = ":9000"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderFake, cfg.LLMProvider)
	assert.Equal(t, []string{"first", "second"}, cfg.FakeResponses)
	assert.Equal(t, StoreSurrealDB, cfg.StoreBackend)
	assert.Equal(t, "ws://db:8000/rpc", cfg.SurrealDBURL)
	assert.Equal(t, "ns", cfg.SurrealDBNamespace)
	assert.Equal(t, "chat", cfg.SurrealDBDatabase, "unset keys keep defaults")
	assert.Equal(t, ":9000", cfg.ServerAddr)
}

func TestLoadFileEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADCHAT_STORE", "memory")

	path := writeFile(t, "threadchat.yml", "store:\n  backend: sqlite\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "config.json", "{}"))
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = LoadFile(writeFile(t, "bad.toml", "[llm\nprovider="))
	assert.ErrorContains(t, err, "parse toml config")
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"unknown provider", func(c *Config) { c.LLMProvider = "groq" }, "unsupported LLM provider"},
		{"openai without key", func(c *Config) { c.LLMProvider = ProviderOpenAI }, "OPENAI_API_KEY"},
		{"anthropic without key", func(c *Config) { c.LLMProvider = ProviderAnthropic }, "ANTHROPIC_API_KEY"},
		{"fake without responses", func(c *Config) {
			c.LLMProvider = ProviderFake
			c.FakeResponses = nil
		}, "at least one response"},
		{"unknown store", func(c *Config) { c.StoreBackend = "redis" }, "unsupported store backend"},
		{"sqlite without path", func(c *Config) {
			c.StoreBackend = StoreSQLite
			c.SQLitePath = ""
		}, "database path"},
		{"zero title length", func(c *Config) { c.TitleMaxLen = 0 }, "title max length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("turn completed", "thread_id", "t1")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "thread_id=t1")
	assert.True(t, strings.HasPrefix(file.String(), "{"), "file output should be JSON")
	assert.Contains(t, file.String(), `"thread_id":"t1"`)
}

func TestSetupLoggerFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadchat.log")

	logger, cleanup := SetupLogger(path, slog.LevelInfo, false)
	logger.Info("written to file")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
