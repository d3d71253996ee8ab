package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/threadchat/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_threads_created ON threads(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
`

// SQLite is a Store and ThreadIndex backed by a SQLite database file.
// Timestamps are stored as unix nanoseconds.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// sqlitePragmas run on every new connection.
var sqlitePragmas = []string{"journal_mode(WAL)", "foreign_keys(1)"}

// sqliteDSN appends the connection pragmas to path.
func sqliteDSN(path string) string {
	q := url.Values{"_pragma": sqlitePragmas}.Encode()
	if strings.Contains(path, "?") {
		return path + "&" + q
	}
	return path + "?" + q
}

// NewSQLite opens (or creates) the database at path. The schema and any
// missing parent directories are created automatically.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "backend", "sqlite")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps appends strictly ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return &SQLite{db: db, logger: logger}, nil
}

// Append adds msg to the end of the thread's history, creating the thread row
// if needed.
func (s *SQLite) Append(ctx context.Context, threadID string, msg models.Message) error {
	if err := ValidateMessage(threadID, msg); err != nil {
		return err
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, threadID, models.DefaultTitle, created.UnixNano(), created.UnixNano()); err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)
	`, threadID, string(msg.Role), msg.Content, created.UnixNano()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Load returns the thread's history in append order.
func (s *SQLite) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE thread_id = ? ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var role, content string
		var created int64
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r, err := models.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		msgs = append(msgs, models.Message{
			ThreadID:  threadID,
			Role:      r,
			Content:   content,
			CreatedAt: time.Unix(0, created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// SaveThread upserts thread metadata. A non-default title is never replaced.
func (s *SQLite) SaveThread(ctx context.Context, t models.Thread) error {
	if t.ID == "" {
		return fmt.Errorf("save thread: empty id")
	}
	now := time.Now().UTC()
	created, updated := t.CreatedAt, t.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	title := MergeTitle("", t.Title)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN threads.title = ? THEN excluded.title ELSE threads.title END,
			updated_at = excluded.updated_at
	`, t.ID, title, created.UnixNano(), updated.UnixNano(), models.DefaultTitle)
	if err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

// GetThread returns the metadata of one thread.
func (s *SQLite) GetThread(ctx context.Context, id string) (models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at FROM threads WHERE id = ?
	`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// ListThreads returns all threads, newest first.
func (s *SQLite) ListThreads(ctx context.Context) ([]models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at FROM threads
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := []models.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.logger.Debug("closing SQLite store")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (models.Thread, error) {
	var t models.Thread
	var created, updated int64
	if err := row.Scan(&t.ID, &t.Title, &created, &updated); err != nil {
		return models.Thread{}, err
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return t, nil
}
