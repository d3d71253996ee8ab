package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config in the shape of a YAML or TOML config file.
type fileConfig struct {
	LLM struct {
		Provider        string   `yaml:"provider" toml:"provider"`
		Model           string   `yaml:"model" toml:"model"`
		OllamaHost      string   `yaml:"ollama_host" toml:"ollama_host"`
		OpenAIAPIKey    string   `yaml:"openai_api_key" toml:"openai_api_key"`
		OpenAIBaseURL   string   `yaml:"openai_base_url" toml:"openai_base_url"`
		AnthropicAPIKey string   `yaml:"anthropic_api_key" toml:"anthropic_api_key"`
		AWSRegion       string   `yaml:"aws_region" toml:"aws_region"`
		FakeResponses   []string `yaml:"fake_responses" toml:"fake_responses"`
	} `yaml:"llm" toml:"llm"`

	Store struct {
		Backend    string `yaml:"backend" toml:"backend"`
		SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"`
		SurrealDB  struct {
			URL       string `yaml:"url" toml:"url"`
			Namespace string `yaml:"namespace" toml:"namespace"`
			Database  string `yaml:"database" toml:"database"`
			User      string `yaml:"user" toml:"user"`
			Pass      string `yaml:"pass" toml:"pass"`
			AuthLevel string `yaml:"auth_level" toml:"auth_level"`
		} `yaml:"surrealdb" toml:"surrealdb"`
	} `yaml:"store" toml:"store"`

	Threads struct {
		TitleMaxLen int `yaml:"title_max_len" toml:"title_max_len"`
	} `yaml:"threads" toml:"threads"`

	Server struct {
		Addr string `yaml:"addr" toml:"addr"`
		URL  string `yaml:"url" toml:"url"`
	} `yaml:"server" toml:"server"`

	Logging struct {
		File  string `yaml:"file" toml:"file"`
		Level string `yaml:"level" toml:"level"`
	} `yaml:"logging" toml:"logging"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) config file and layers
// it over the defaults. Environment variables still take precedence over the
// file. ${VAR} references in the file are expanded before parsing.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
			return Config{}, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &fc); err != nil {
			return Config{}, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	cfg := Load()
	fc.apply(&cfg)
	return cfg, nil
}

// apply copies every value set in the file into cfg unless the matching
// environment variable is set.
func (fc fileConfig) apply(cfg *Config) {
	setString(&cfg.LLMProvider, "THREADCHAT_LLM_PROVIDER", fc.LLM.Provider)
	setString(&cfg.LLMModel, "THREADCHAT_LLM_MODEL", fc.LLM.Model)
	setString(&cfg.OllamaHost, "OLLAMA_HOST", fc.LLM.OllamaHost)
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY", fc.LLM.OpenAIAPIKey)
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL", fc.LLM.OpenAIBaseURL)
	setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY", fc.LLM.AnthropicAPIKey)
	setString(&cfg.AWSRegion, "AWS_REGION", fc.LLM.AWSRegion)
	if len(fc.LLM.FakeResponses) > 0 && os.Getenv("THREADCHAT_FAKE_RESPONSES") == "" {
		cfg.FakeResponses = fc.LLM.FakeResponses
	}

	setString(&cfg.StoreBackend, "THREADCHAT_STORE", fc.Store.Backend)
	setString(&cfg.SQLitePath, "THREADCHAT_SQLITE_PATH", fc.Store.SQLitePath)
	setString(&cfg.SurrealDBURL, "SURREALDB_URL", fc.Store.SurrealDB.URL)
	setString(&cfg.SurrealDBNamespace, "SURREALDB_NAMESPACE", fc.Store.SurrealDB.Namespace)
	setString(&cfg.SurrealDBDatabase, "SURREALDB_DATABASE", fc.Store.SurrealDB.Database)
	setString(&cfg.SurrealDBUser, "SURREALDB_USER", fc.Store.SurrealDB.User)
	setString(&cfg.SurrealDBPass, "SURREALDB_PASS", fc.Store.SurrealDB.Pass)
	setString(&cfg.SurrealDBAuthLevel, "SURREALDB_AUTH_LEVEL", fc.Store.SurrealDB.AuthLevel)

	if fc.Threads.TitleMaxLen > 0 && os.Getenv("THREADCHAT_TITLE_MAX_LEN") == "" {
		cfg.TitleMaxLen = fc.Threads.TitleMaxLen
	}

	setString(&cfg.ServerAddr, "THREADCHAT_SERVER_ADDR", fc.Server.Addr)
	setString(&cfg.ServerURL, "THREADCHAT_SERVER_URL", fc.Server.URL)

	setString(&cfg.LogFile, "THREADCHAT_LOG_FILE", fc.Logging.File)
	if fc.Logging.Level != "" && os.Getenv("THREADCHAT_LOG_LEVEL") == "" {
		cfg.LogLevel = parseLogLevel(fc.Logging.Level)
	}
}

func setString(dst *string, envKey, val string) {
	if val == "" || os.Getenv(envKey) != "" {
		return
	}
	*dst = val
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}
