package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/threadchat/internal/config"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		LLMProvider:   config.ProviderFake,
		LLMModel:      "fake",
		FakeResponses: []string{"ok"},
		StoreBackend:  config.StoreMemory,
		TitleMaxLen:   40,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMemory(t *testing.T) {
	a, err := New(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.IsType(t, &store.Memory{}, a.Store)
	assert.NotNil(t, a.Index())
	assert.Equal(t, config.ProviderFake, a.Engine.Provider())
	assert.NotNil(t, a.Metrics)
	assert.NoError(t, a.WipeData(context.Background()))
}

func TestNewSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "chat.db")

	a, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx := context.Background()
	require.NoError(t, a.Store.Append(ctx, "t1", models.NewMessage("t1", models.RoleUser, "hi")))
	threads, err := a.Index().ListThreads(ctx)
	require.NoError(t, err)
	assert.Len(t, threads, 1)

	assert.ErrorIs(t, a.WipeData(ctx), ErrWipeUnsupported)
}

func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.StoreBackend = "redis" }},
		{"unknown provider", func(c *config.Config) { c.LLMProvider = "nope" }},
		{"openai without key", func(c *config.Config) { c.LLMProvider = config.ProviderOpenAI }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, testLogger())
			assert.Error(t, err)
		})
	}
}
