// Package app builds the conversation store, response engine and metrics
// collector from configuration. It serves as dependency injection for the
// CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/threadchat/internal/config"
	"github.com/raphaelgruber/threadchat/internal/db"
	"github.com/raphaelgruber/threadchat/internal/llm"
	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/raphaelgruber/threadchat/internal/store"
)

// ErrWipeUnsupported is returned by WipeData for backends that cannot be wiped.
var ErrWipeUnsupported = errors.New("wipe is only supported for the surrealdb store")

// App holds the shared dependencies of a chat process.
type App struct {
	Config  config.Config
	Store   store.Store
	Engine  *llm.Model
	Metrics *metrics.Collector

	surreal *db.Client // set for the surrealdb backend
}

// New validates cfg and creates the store and engine.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Create metrics collector for runtime statistics
	mc := metrics.NewCollector()

	a := &App{Config: cfg, Metrics: mc}
	if err := a.openStore(ctx, logger); err != nil {
		return nil, err
	}

	model, err := llm.NewModel(ctx, cfg, llm.WithLogger(logger), llm.WithMetrics(mc))
	if err != nil {
		_ = a.Store.Close()
		return nil, fmt.Errorf("init model: %w", err)
	}
	a.Engine = model

	logger.Debug("app initialized",
		"store", cfg.StoreBackend,
		"provider", model.Provider(),
		"model", model.Model(),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, logger *slog.Logger) error {
	switch a.Config.StoreBackend {
	case config.StoreMemory:
		a.Store = store.NewMemory()

	case config.StoreSQLite:
		st, err := store.NewSQLite(a.Config.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.Store = st

	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.ConfigFrom(a.Config), logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		st, err := db.NewStore(ctx, client)
		if err != nil {
			_ = client.Close(ctx)
			return fmt.Errorf("initialize schema: %w", err)
		}
		a.Store = st
		a.surreal = client

	default:
		return fmt.Errorf("unsupported store backend: %s", a.Config.StoreBackend)
	}
	return nil
}

// Index returns the store's thread index, or nil when it keeps none.
func (a *App) Index() store.ThreadIndex {
	idx, _ := a.Store.(store.ThreadIndex)
	return idx
}

// WipeData deletes all conversations. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	switch {
	case a.surreal != nil:
		return a.surreal.WipeData(ctx)
	case a.Config.StoreBackend == config.StoreMemory:
		return nil
	default:
		return ErrWipeUnsupported
	}
}

// Close closes the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
