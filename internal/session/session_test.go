package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine streams a fixed reply word by word.
type stubEngine struct {
	reply     string
	err       error
	failAfter int // fragments delivered before err; 0 fails immediately
	histories [][]models.Message
}

func (e *stubEngine) fragments() []string {
	return strings.SplitAfter(e.reply, " ")
}

func (e *stubEngine) Respond(ctx context.Context, history []models.Message) (models.Message, error) {
	e.histories = append(e.histories, models.CloneMessages(history))
	if e.err != nil {
		return models.Message{}, e.err
	}
	return models.NewMessage(history[len(history)-1].ThreadID, models.RoleAssistant, e.reply), nil
}

func (e *stubEngine) RespondStream(ctx context.Context, history []models.Message) iter.Seq2[string, error] {
	e.histories = append(e.histories, models.CloneMessages(history))
	return func(yield func(string, error) bool) {
		for i, f := range e.fragments() {
			if e.err != nil && i == e.failAfter {
				yield("", e.err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

type transcriptCall struct {
	thread models.Thread
	msgs   []models.Message
}

// recordingUI captures everything the session renders.
type recordingUI struct {
	threadLists [][]models.Thread
	actives     []string
	transcripts []transcriptCall
	shown       []models.Message
	fragments   []string
}

func (u *recordingUI) ShowThreads(threads []models.Thread, active string) {
	u.threadLists = append(u.threadLists, threads)
	u.actives = append(u.actives, active)
}

func (u *recordingUI) ShowTranscript(thread models.Thread, msgs []models.Message) {
	u.transcripts = append(u.transcripts, transcriptCall{thread: thread, msgs: msgs})
}

func (u *recordingUI) ShowMessage(msg models.Message) {
	u.shown = append(u.shown, msg)
}

func (u *recordingUI) StreamReply(fragments iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range fragments {
		if err != nil {
			return "", err
		}
		u.fragments = append(u.fragments, frag)
		b.WriteString(frag)
	}
	return b.String(), nil
}

func (u *recordingUI) lastTranscript(t *testing.T) transcriptCall {
	t.Helper()
	require.NotEmpty(t, u.transcripts)
	return u.transcripts[len(u.transcripts)-1]
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
}

func newTestSession(t *testing.T, st store.Store, engine Engine, opts ...Option) (*Session, *recordingUI) {
	t.Helper()
	ui := &recordingUI{}
	opts = append([]Option{WithIDGenerator(sequentialIDs())}, opts...)
	return New(st, engine, ui, opts...), ui
}

func titleOf(t *testing.T, s *Session, id string) string {
	t.Helper()
	for _, th := range s.Threads() {
		if th.ID == id {
			return th.Title
		}
	}
	t.Fatalf("thread %s not registered", id)
	return ""
}

func TestStartCreatesDefaultThread(t *testing.T) {
	s, ui := newTestSession(t, store.NewMemory(), &stubEngine{reply: "hi"})

	require.NoError(t, s.Start(context.Background(), ""))

	assert.Equal(t, "t1", s.Active())
	assert.Equal(t, models.DefaultTitle, titleOf(t, s, "t1"))

	last := ui.lastTranscript(t)
	assert.Equal(t, "t1", last.thread.ID)
	assert.Empty(t, last.msgs)
	assert.Equal(t, []string{"t1"}, ui.actives)
}

func TestSendEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	engine := &stubEngine{reply: "The capital of France is Paris."}
	s, ui := newTestSession(t, st, engine)
	require.NoError(t, s.Start(ctx, ""))
	id := s.Active()

	reply, err := s.Send(ctx, "What is the capital of France?")
	require.NoError(t, err)

	assert.Equal(t, "What is the capital of France", titleOf(t, s, id))

	require.Len(t, ui.shown, 1)
	assert.Equal(t, models.RoleUser, ui.shown[0].Role)

	assert.Greater(t, len(ui.fragments), 1, "reply should arrive in fragments")
	assert.Equal(t, "The capital of France is Paris.", strings.Join(ui.fragments, ""))

	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "The capital of France is Paris.", reply.Content)

	msgs, err := st.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is the capital of France?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, reply.Content, msgs[1].Content)

	// The engine sees the stored history including the new user message.
	require.Len(t, engine.histories, 1)
	require.Len(t, engine.histories[0], 1)
	assert.Equal(t, "What is the capital of France?", engine.histories[0][0].Content)
}

func TestEngineSeesFullHistory(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{reply: "ok"}
	s, _ := newTestSession(t, store.NewMemory(), engine)
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "first")
	require.NoError(t, err)
	_, err = s.Send(ctx, "second")
	require.NoError(t, err)

	require.Len(t, engine.histories, 2)
	last := engine.histories[1]
	require.Len(t, last, 3)
	assert.Equal(t, "first", last[0].Content)
	assert.Equal(t, models.RoleAssistant, last[1].Role)
	assert.Equal(t, "second", last[2].Content)
}

func TestTitleAssignedOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"})
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "Plan a trip to Lisbon. With kids.")
	require.NoError(t, err)
	_, err = s.Send(ctx, "Actually make it Porto")
	require.NoError(t, err)

	assert.Equal(t, "Plan a trip to Lisbon", titleOf(t, s, s.Active()))
}

func TestTitleWaitsForTitleableMessage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"})
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "...")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, titleOf(t, s, s.Active()))

	_, err = s.Send(ctx, "Real question")
	require.NoError(t, err)
	assert.Equal(t, "Real question", titleOf(t, s, s.Active()))
}

func TestTitleTruncated(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"}, WithTitleLen(10))
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "A rather long opening question")
	require.NoError(t, err)
	assert.Equal(t, "A rather l…", titleOf(t, s, s.Active()))
}

func TestSwitchThreadRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine := &stubEngine{reply: "noted"}
	s, ui := newTestSession(t, store.NewMemory(), engine)
	require.NoError(t, s.Start(ctx, ""))
	a := s.Active()

	_, err := s.Send(ctx, "alpha one")
	require.NoError(t, err)
	_, err = s.Send(ctx, "alpha two")
	require.NoError(t, err)

	b, err := s.NewThread(ctx)
	require.NoError(t, err)
	_, err = s.Send(ctx, "beta one")
	require.NoError(t, err)

	calls := len(engine.histories)

	require.NoError(t, s.SwitchThread(ctx, b))
	bView := ui.lastTranscript(t)
	assert.Equal(t, b, bView.thread.ID)
	require.Len(t, bView.msgs, 2)
	assert.Equal(t, "beta one", bView.msgs[0].Content)

	require.NoError(t, s.SwitchThread(ctx, a))
	aView := ui.lastTranscript(t)
	assert.Equal(t, a, s.Active())
	assert.Equal(t, "alpha one", aView.thread.Title)

	contents := make([]string, len(aView.msgs))
	for i, m := range aView.msgs {
		contents[i] = m.Content
	}
	assert.Equal(t, []string{"alpha one", "noted", "alpha two", "noted"}, contents)

	assert.Equal(t, calls, len(engine.histories), "switching must not invoke the engine")
}

func TestSwitchUnknownThread(t *testing.T) {
	ctx := context.Background()
	s, ui := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"})
	require.NoError(t, s.Start(ctx, ""))
	before := len(ui.transcripts)

	err := s.SwitchThread(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrThreadNotFound)
	assert.ErrorContains(t, err, "conversation not found")
	assert.Equal(t, "t1", s.Active())
	assert.Len(t, ui.transcripts, before)
	assert.Len(t, s.Threads(), 1, "switch must not auto-create threads")
}

func TestNewThreadIsIndependent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s, ui := newTestSession(t, st, &stubEngine{reply: "ok"})
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "first thread")
	require.NoError(t, err)

	id, err := s.NewThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", id)
	assert.Equal(t, id, s.Active())
	assert.Equal(t, models.DefaultTitle, titleOf(t, s, id))
	assert.Empty(t, ui.lastTranscript(t).msgs)

	msgs, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	threads := s.Threads()
	require.Len(t, threads, 2)
	assert.Equal(t, id, threads[0].ID, "newest thread listed first")
}

func TestSendEmptyInput(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	engine := &stubEngine{reply: "ok"}
	s, _ := newTestSession(t, st, engine)
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "   \n")
	assert.ErrorIs(t, err, ErrEmptyInput)

	msgs, err := st.Load(ctx, s.Active())
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, engine.histories)
}

func TestSendWithoutStart(t *testing.T) {
	s, _ := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"})

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "t1", s.Active())
}

func TestSendEngineFailure(t *testing.T) {
	upstream := errors.New("401 unauthorized")

	t.Run("before any fragment", func(t *testing.T) {
		ctx := context.Background()
		st := store.NewMemory()
		s, ui := newTestSession(t, st, &stubEngine{reply: "never sent", err: upstream})
		require.NoError(t, s.Start(ctx, ""))

		_, err := s.Send(ctx, "hello")
		assert.ErrorIs(t, err, upstream)
		assert.Empty(t, ui.fragments)

		msgs, err := st.Load(ctx, s.Active())
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, models.RoleUser, msgs[0].Role)
	})

	t.Run("mid stream discards partial reply", func(t *testing.T) {
		ctx := context.Background()
		st := store.NewMemory()
		s, ui := newTestSession(t, st, &stubEngine{reply: "one two three", err: upstream, failAfter: 2})
		require.NoError(t, s.Start(ctx, ""))

		_, err := s.Send(ctx, "hello")
		assert.ErrorIs(t, err, upstream)
		assert.Equal(t, []string{"one ", "two "}, ui.fragments)

		msgs, err := st.Load(ctx, s.Active())
		require.NoError(t, err)
		require.Len(t, msgs, 1, "partial assistant content must not be stored")
	})
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Append(context.Context, string, models.Message) error {
	return errors.New("disk full")
}

func (failingStore) Load(context.Context, string) ([]models.Message, error) {
	return nil, errors.New("disk full")
}

func (failingStore) Close() error { return nil }

func TestSendStoreFailure(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector()
	engine := &stubEngine{reply: "ok"}
	s, ui := newTestSession(t, failingStore{}, engine, WithMetrics(collector))
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "hello")
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, ui.shown)
	assert.Empty(t, engine.histories)
	assert.Equal(t, int64(1), collector.Snapshot().StoreAppend.Errors)
}

func TestStartRestoresPersistedThreads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	first, _ := newTestSession(t, st, &stubEngine{reply: "answer"})
	require.NoError(t, first.Start(ctx, ""))
	_, err := first.Send(ctx, "Persist me. Please.")
	require.NoError(t, err)
	id := first.Active()

	// An empty thread is never persisted.
	_, err = first.NewThread(ctx)
	require.NoError(t, err)

	second := New(st, &stubEngine{reply: "x"}, &recordingUI{}, WithIDGenerator(func() string { return "fresh" }))
	require.NoError(t, second.Start(ctx, ""))
	threads := second.Threads()
	require.Len(t, threads, 2)
	assert.Equal(t, "fresh", threads[0].ID)
	assert.Equal(t, id, threads[1].ID)
	assert.Equal(t, "Persist me", threads[1].Title)

	ui := &recordingUI{}
	resumed := New(st, &stubEngine{reply: "x"}, ui)
	require.NoError(t, resumed.Start(ctx, id))
	assert.Equal(t, id, resumed.Active())
	assert.Len(t, ui.lastTranscript(t).msgs, 2)

	err = New(st, &stubEngine{}, &recordingUI{}).Start(ctx, "unknown")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"})
	require.NoError(t, s.Start(ctx, ""))
	_, err := s.Send(ctx, "hello")
	require.NoError(t, err)

	msgs, err := s.History(ctx, s.Active())
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = s.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestSessionRecordsStoreMetrics(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector()
	s, _ := newTestSession(t, store.NewMemory(), &stubEngine{reply: "ok"}, WithMetrics(collector))
	require.NoError(t, s.Start(ctx, ""))

	_, err := s.Send(ctx, "hello")
	require.NoError(t, err)

	snap := collector.Snapshot()
	require.NotNil(t, snap.StoreAppend)
	require.NotNil(t, snap.StoreLoad)
	assert.Equal(t, int64(2), snap.StoreAppend.Count)
	assert.Equal(t, int64(1), snap.StoreLoad.Count)
}
