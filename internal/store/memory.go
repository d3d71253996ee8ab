package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/threadchat/internal/models"
)

// Memory is an in-process Store and ThreadIndex. Data lives as long as the
// process does.
type Memory struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
	threads  map[string]memoryThread
	seq      int
}

type memoryThread struct {
	models.Thread
	seq int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]models.Message),
		threads:  make(map[string]memoryThread),
	}
}

// Append adds msg to the end of the thread's history.
func (m *Memory) Append(ctx context.Context, threadID string, msg models.Message) error {
	if err := ValidateMessage(threadID, msg); err != nil {
		return err
	}
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.ensureThread(threadID, msg.CreatedAt)
	t.UpdatedAt = msg.CreatedAt
	m.threads[threadID] = t
	m.messages[threadID] = append(m.messages[threadID], msg)
	return nil
}

// Load returns a copy of the thread's history in append order.
func (m *Memory) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.CloneMessages(m.messages[threadID]), nil
}

// SaveThread upserts thread metadata.
func (m *Memory) SaveThread(ctx context.Context, t models.Thread) error {
	if t.ID == "" {
		return fmt.Errorf("save thread: empty id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	created := t.CreatedAt
	if created.IsZero() {
		created = now
	}
	rec := m.ensureThread(t.ID, created)
	rec.Title = MergeTitle(rec.Title, t.Title)
	rec.UpdatedAt = t.UpdatedAt
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	m.threads[t.ID] = rec
	return nil
}

// GetThread returns the metadata of one thread.
func (m *Memory) GetThread(ctx context.Context, id string) (models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return models.Thread{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Thread, nil
}

// ListThreads returns all threads, newest first.
func (m *Memory) ListThreads(ctx context.Context) ([]models.Thread, error) {
	m.mu.RLock()
	recs := make([]memoryThread, 0, len(m.threads))
	for _, t := range m.threads {
		recs = append(recs, t)
	}
	m.mu.RUnlock()

	slices.SortFunc(recs, func(a, b memoryThread) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	out := make([]models.Thread, len(recs))
	for i, r := range recs {
		out[i] = r.Thread
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

// ensureThread returns the record for id, creating it with the default title.
// Caller must hold write lock.
func (m *Memory) ensureThread(id string, created time.Time) memoryThread {
	if t, ok := m.threads[id]; ok {
		return t
	}
	m.seq++
	t := memoryThread{
		Thread: models.Thread{
			ID:        id,
			Title:     models.DefaultTitle,
			CreatedAt: created,
			UpdatedAt: created,
		},
		seq: m.seq,
	}
	m.threads[id] = t
	return t
}
