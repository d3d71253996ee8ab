package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/store"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// threadRow is the stored shape of a thread record.
type threadRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	Title     string                 `json:"title"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// messageRow is the stored shape of a message record.
type messageRow struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store implements store.Store and store.ThreadIndex on SurrealDB.
type Store struct {
	client *Client
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.ThreadIndex = (*Store)(nil)
)

// NewStore connects to SurrealDB and makes sure the schema exists.
func NewStore(ctx context.Context, client *Client) (*Store, error) {
	if err := client.InitSchema(ctx); err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

// Append adds msg to the end of the thread's history. The thread record is
// upserted in the same transaction and its message_count becomes the
// message's sequence number.
func (s *Store) Append(ctx context.Context, threadID string, msg models.Message) error {
	if err := store.ValidateMessage(threadID, msg); err != nil {
		return err
	}
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := surrealdb.Query[any](ctx, s.client.DB(), `
		BEGIN TRANSACTION;
		LET $rec = type::record("thread", $thread);
		LET $t = (UPSERT $rec SET
			title = title ?? $default_title,
			message_count = (message_count ?? 0) + 1,
			created_at = created_at ?? <datetime>$at,
			updated_at = <datetime>$at
		RETURN AFTER)[0];
		CREATE message SET
			thread = $rec,
			seq = $t.message_count,
			role = $role,
			content = $content,
			created_at = <datetime>$at;
		COMMIT TRANSACTION;
	`, map[string]any{
		"thread":        threadID,
		"default_title": models.DefaultTitle,
		"role":          string(msg.Role),
		"content":       msg.Content,
		"at":            at.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	return nil
}

// Load returns the thread's history ordered by sequence number.
func (s *Store) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	results, err := surrealdb.Query[[]messageRow](ctx, s.client.DB(), `
		SELECT role, content, created_at, seq FROM message
		WHERE thread = type::record("thread", $thread)
		ORDER BY seq ASC
	`, map[string]any{"thread": threadID})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", wrapQueryError(err))
	}

	msgs := []models.Message{}
	if results == nil || len(*results) == 0 {
		return msgs, nil
	}
	for _, row := range (*results)[0].Result {
		role, err := models.ParseRole(row.Role)
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		msgs = append(msgs, models.Message{
			ThreadID:  threadID,
			Role:      role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return msgs, nil
}

// SaveThread upserts thread metadata. A non-default title is never replaced.
func (s *Store) SaveThread(ctx context.Context, t models.Thread) error {
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

	_, err := surrealdb.Query[any](ctx, s.client.DB(), `
		UPSERT type::record("thread", $id) SET
			title = IF title = NONE OR title = $default_title { $title } ELSE { title },
			created_at = created_at ?? <datetime>$created,
			updated_at = <datetime>$updated
	`, map[string]any{
		"id":            t.ID,
		"title":         store.MergeTitle("", t.Title),
		"default_title": models.DefaultTitle,
		"created":       created.Format(time.RFC3339Nano),
		"updated":       updated.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("save thread: %w", wrapQueryError(err))
	}
	return nil
}

// GetThread returns the metadata of one thread.
func (s *Store) GetThread(ctx context.Context, id string) (models.Thread, error) {
	results, err := surrealdb.Query[[]threadRow](ctx, s.client.DB(), `
		SELECT id, title, created_at, updated_at FROM type::record("thread", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return models.Thread{}, fmt.Errorf("get thread: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Thread{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return toThread((*results)[0].Result[0])
}

// ListThreads returns all threads, newest first.
func (s *Store) ListThreads(ctx context.Context) ([]models.Thread, error) {
	results, err := surrealdb.Query[[]threadRow](ctx, s.client.DB(), `
		SELECT id, title, created_at, updated_at FROM thread ORDER BY created_at DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", wrapQueryError(err))
	}

	threads := []models.Thread{}
	if results == nil || len(*results) == 0 {
		return threads, nil
	}
	for _, row := range (*results)[0].Result {
		t, err := toThread(row)
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.client.Close(context.Background())
}

func toThread(row threadRow) (models.Thread, error) {
	id, err := models.RecordIDString(row.ID)
	if err != nil {
		return models.Thread{}, err
	}
	return models.Thread{
		ID:        id,
		Title:     row.Title,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}
