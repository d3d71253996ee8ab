// Package config loads threadchat configuration from the environment and
// optional YAML or TOML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderFake      = "fake"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// Response engine
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AWSRegion       string
	FakeResponses   []string

	// Conversation store
	StoreBackend string
	SQLitePath   string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Threads
	TitleMaxLen int

	// Server and client
	ServerAddr string
	ServerURL  string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		LLMProvider:     getEnv("THREADCHAT_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("THREADCHAT_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		FakeResponses:   splitList(getEnv("THREADCHAT_FAKE_RESPONSES", "Hello from threadchat.")),

		StoreBackend: getEnv("THREADCHAT_STORE", StoreMemory),
		SQLitePath:   getEnv("THREADCHAT_SQLITE_PATH", defaultSQLitePath()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "threadchat"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		TitleMaxLen: getEnvInt("THREADCHAT_TITLE_MAX_LEN", 40),

		ServerAddr: getEnv("THREADCHAT_SERVER_ADDR", ":8484"),
		ServerURL:  getEnv("THREADCHAT_SERVER_URL", "http://localhost:8484"),

		LogFile:  getEnv("THREADCHAT_LOG_FILE", "/tmp/threadchat.log"),
		LogLevel: parseLogLevel(getEnv("THREADCHAT_LOG_LEVEL", "INFO")),
	}
}

// Validate checks that provider and backend settings are usable.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOllama, ProviderBedrock:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.LLMProvider)
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", c.LLMProvider)
		}
	case ProviderFake:
		if len(c.FakeResponses) == 0 {
			return fmt.Errorf("fake provider needs at least one response")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLMProvider)
	}

	switch c.StoreBackend {
	case StoreMemory, StoreSurrealDB:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite store requires a database path")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.StoreBackend)
	}

	if c.TitleMaxLen <= 0 {
		return fmt.Errorf("title max length must be positive, got %d", c.TitleMaxLen)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return n
}

// splitList splits a "|"-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "threadchat.db"
	}
	return filepath.Join(home, ".threadchat", "threadchat.db")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
