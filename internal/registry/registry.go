// Package registry tracks the known conversation threads of a session, their
// display titles and which one is active.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/threadchat/internal/models"
)

// DefaultTitleLen is the title length used when none is configured.
const DefaultTitleLen = 40

// Ellipsis is appended to titles that were cut short.
const Ellipsis = "…"

// ErrNotFound indicates the thread is not registered.
var ErrNotFound = errors.New("conversation not found")

var (
	sentenceEnd = regexp.MustCompile(`[.!?\n\r]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// TitleFrom derives a display title from the first user message: the text up
// to the first sentence terminator with whitespace collapsed. An empty result
// yields models.DefaultTitle, and anything longer than maxLen runes is cut to
// maxLen runes followed by Ellipsis.
func TitleFrom(text string, maxLen int) string {
	first := sentenceEnd.Split(strings.TrimSpace(text), 2)[0]
	first = strings.TrimSpace(whitespace.ReplaceAllString(first, " "))
	if first == "" {
		return models.DefaultTitle
	}

	if maxLen <= 0 {
		maxLen = DefaultTitleLen
	}
	runes := []rune(first)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + Ellipsis
	}
	return first
}

// Registry holds thread records for presentation. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string // creation order, oldest first
	threads map[string]*models.Thread
	active  string
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		threads: make(map[string]*models.Thread),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register adds id with the default title. Registering a known id is a no-op.
// Returns true if the thread was added.
func (r *Registry) Register(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[id]; ok {
		return false
	}
	now := r.now()
	r.threads[id] = &models.Thread{
		ID:        id,
		Title:     models.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.order = append(r.order, id)
	return true
}

// SetTitle assigns title, but only while the thread still has the default
// title. Returns true if the title changed.
func (r *Registry) SetTitle(id, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[id]
	if !ok || !t.HasDefaultTitle() || title == "" || title == t.Title {
		return false
	}
	t.Title = title
	t.UpdatedAt = r.now()
	return true
}

// Title returns the display title of id.
func (r *Registry) Title(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[id]
	if !ok {
		return "", false
	}
	return t.Title, true
}

// Thread returns a copy of the record for id.
func (r *Registry) Thread(id string) (models.Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[id]
	if !ok {
		return models.Thread{}, false
	}
	return *t, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.threads[id]
	return ok
}

// List returns the registered thread ids, newest first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := slices.Clone(r.order)
	slices.Reverse(ids)
	return ids
}

// Threads returns copies of all thread records, newest first.
func (r *Registry) Threads() []models.Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Thread, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, *r.threads[r.order[i]])
	}
	return out
}

// Activate makes id the active thread.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.active = id
	return nil
}

// Active returns the active thread id, or "" before any activation.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.active
}

// Restore registers previously persisted threads, keeping their titles and
// timestamps. Input order does not matter: threads are ordered by creation
// time. Already registered ids are left untouched.
func (r *Registry) Restore(threads []models.Thread) {
	sorted := slices.Clone(threads)
	slices.SortStableFunc(sorted, func(a, b models.Thread) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range sorted {
		if _, ok := r.threads[t.ID]; ok || t.ID == "" {
			continue
		}
		if t.Title == "" {
			t.Title = models.DefaultTitle
		}
		rec := t
		r.threads[t.ID] = &rec
		r.order = append(r.order, t.ID)
	}
}
