// Package session orchestrates chat turns between a UI, the conversation
// store and the response engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/registry"
	"github.com/raphaelgruber/threadchat/internal/store"
)

var (
	// ErrEmptyInput is returned by Send for blank messages. Nothing is stored.
	ErrEmptyInput = errors.New("empty input")

	// ErrThreadNotFound is returned when switching to an unknown thread.
	// Unknown threads are never created implicitly on switch.
	ErrThreadNotFound = registry.ErrNotFound
)

// Engine produces assistant replies from a thread's history.
type Engine interface {
	Respond(ctx context.Context, history []models.Message) (models.Message, error)
	RespondStream(ctx context.Context, history []models.Message) iter.Seq2[string, error]
}

// UI renders session state. Implementations must not call back into the
// Session from these methods.
type UI interface {
	// ShowThreads renders the selectable thread list, newest first.
	ShowThreads(threads []models.Thread, active string)
	// ShowTranscript replaces the displayed conversation.
	ShowTranscript(thread models.Thread, msgs []models.Message)
	// ShowMessage appends one message to the displayed conversation.
	ShowMessage(msg models.Message)
	// StreamReply renders fragments as they arrive and returns their
	// concatenation once the sequence is exhausted, or the first error.
	StreamReply(fragments iter.Seq2[string, error]) (string, error)
}

// Session is one user's chat session. Operations are serialized: each runs
// to completion before the next starts.
type Session struct {
	mu sync.Mutex

	store   store.Store
	index   store.ThreadIndex // nil when the store keeps no thread metadata
	engine  Engine
	ui      UI
	threads *registry.Registry

	logger   *slog.Logger
	metrics  *metrics.Collector
	titleLen int
	newID    func() string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records store timings into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Session) { s.metrics = c }
}

// WithTitleLen sets the maximum title length in runes.
func WithTitleLen(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.titleLen = n
		}
	}
}

// WithIDGenerator replaces the UUID thread id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates a session. If st also implements store.ThreadIndex, thread
// titles are persisted and restored by Start.
func New(st store.Store, engine Engine, ui UI, opts ...Option) *Session {
	s := &Session{
		store:    st,
		engine:   engine,
		ui:       ui,
		threads:  registry.New(),
		logger:   slog.Default(),
		titleLen: registry.DefaultTitleLen,
		newID:    uuid.NewString,
	}
	if idx, ok := st.(store.ThreadIndex); ok {
		s.index = idx
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Start restores persisted threads and activates a thread: resume if it is
// non-empty, otherwise a fresh thread.
func (s *Session) Start(ctx context.Context, resume string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		persisted, err := s.index.ListThreads(ctx)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
		s.threads.Restore(persisted)
		s.logger.Debug("restored threads", "count", len(persisted))
	}

	if resume == "" {
		s.newThreadLocked()
		return nil
	}
	return s.switchLocked(ctx, resume)
}

// Send runs one user turn on the active thread: store the user message,
// title the thread if needed, stream the reply to the UI and store it.
//
// If the reply fails, partial assistant output is discarded and the error
// is returned. The user message stays stored.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyInput
	}

	id := s.threads.Active()
	if id == "" {
		id = s.newThreadLocked()
	}

	user := models.NewMessage(id, models.RoleUser, text)
	if err := s.appendLocked(ctx, id, user); err != nil {
		return models.Message{}, err
	}
	s.ui.ShowMessage(user)

	titled := s.threads.SetTitle(id, registry.TitleFrom(text, s.titleLen))
	s.saveThreadLocked(ctx, id)
	if titled {
		s.ui.ShowThreads(s.threads.Threads(), id)
	}

	history, err := s.loadLocked(ctx, id)
	if err != nil {
		return models.Message{}, err
	}

	start := time.Now()
	content, err := s.ui.StreamReply(s.engine.RespondStream(ctx, history))
	if err != nil {
		s.logger.Warn("reply failed", "thread", id, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return models.Message{}, fmt.Errorf("respond: %w", err)
	}

	reply := models.NewMessage(id, models.RoleAssistant, content)
	if err := s.appendLocked(ctx, id, reply); err != nil {
		return models.Message{}, err
	}
	s.logger.Info("turn complete", "thread", id, "duration_ms", time.Since(start).Milliseconds(), "reply_len", len(content))
	return reply, nil
}

// SwitchThread activates an existing thread and shows its stored history.
// The engine is not invoked.
func (s *Session) SwitchThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.switchLocked(ctx, id)
}

// NewThread creates, registers and activates a fresh thread with an empty
// transcript. Returns the new thread id.
func (s *Session) NewThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.newThreadLocked(), nil
}

// Active returns the active thread id.
func (s *Session) Active() string {
	return s.threads.Active()
}

// Threads returns all known threads, newest first.
func (s *Session) Threads() []models.Thread {
	return s.threads.Threads()
}

// History returns the stored messages of a known thread.
func (s *Session) History(ctx context.Context, id string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.threads.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	return s.loadLocked(ctx, id)
}

func (s *Session) switchLocked(ctx context.Context, id string) error {
	if err := s.threads.Activate(id); err != nil {
		return fmt.Errorf("switch thread: %w", err)
	}

	msgs, err := s.loadLocked(ctx, id)
	if err != nil {
		return err
	}
	thread, _ := s.threads.Thread(id)
	s.ui.ShowTranscript(thread, msgs)
	s.ui.ShowThreads(s.threads.Threads(), id)
	s.logger.Debug("switched thread", "thread", id, "messages", len(msgs))
	return nil
}

func (s *Session) newThreadLocked() string {
	id := s.newID()
	s.threads.Register(id)
	// Registered just above, so activation cannot fail.
	_ = s.threads.Activate(id)

	thread, _ := s.threads.Thread(id)
	s.ui.ShowTranscript(thread, []models.Message{})
	s.ui.ShowThreads(s.threads.Threads(), id)
	s.logger.Debug("created thread", "thread", id)
	return id
}

func (s *Session) appendLocked(ctx context.Context, id string, msg models.Message) error {
	start := time.Now()
	if err := s.store.Append(ctx, id, msg); err != nil {
		s.metrics.RecordError(metrics.OpStoreAppend)
		return fmt.Errorf("append %s message: %w", msg.Role, err)
	}
	s.metrics.RecordTiming(metrics.OpStoreAppend, time.Since(start))
	return nil
}

func (s *Session) loadLocked(ctx context.Context, id string) ([]models.Message, error) {
	start := time.Now()
	msgs, err := s.store.Load(ctx, id)
	if err != nil {
		s.metrics.RecordError(metrics.OpStoreLoad)
		return nil, fmt.Errorf("load history: %w", err)
	}
	s.metrics.RecordTiming(metrics.OpStoreLoad, time.Since(start))
	return msgs, nil
}

// saveThreadLocked persists the thread record. Threads are only persisted
// once they have a message, so abandoned empty threads leave no trace.
// Failures are logged: the conversation itself is already stored.
func (s *Session) saveThreadLocked(ctx context.Context, id string) {
	if s.index == nil {
		return
	}
	thread, ok := s.threads.Thread(id)
	if !ok {
		return
	}
	thread.UpdatedAt = time.Now().UTC()
	if err := s.index.SaveThread(ctx, thread); err != nil {
		s.logger.Warn("failed to save thread", "thread", id, "error", err)
	}
}
