package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"chat.db?_pragma=journal_mode%28WAL%29&_pragma=foreign_keys%281%29",
		sqliteDSN("chat.db"))
	assert.Equal(t,
		"chat.db?_txlock=immediate&_pragma=journal_mode%28WAL%29&_pragma=foreign_keys%281%29",
		sqliteDSN("chat.db?_txlock=immediate"))
}

func TestSQLitePragmasSurviveReconnect(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Without idle connections every query opens a fresh one.
	s.db.SetMaxIdleConns(0)
	ctx := context.Background()

	for range 2 {
		var fk int
		require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk)

		var mode string
		require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	}
}
