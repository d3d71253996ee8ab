package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController records calls without driving a UI.
type fakeController struct {
	started  []string
	sent     []string
	switched []string
	created  int
	sendErr  error
}

func (f *fakeController) Start(ctx context.Context, resume string) error {
	f.started = append(f.started, resume)
	return nil
}

func (f *fakeController) Send(ctx context.Context, text string) (models.Message, error) {
	f.sent = append(f.sent, text)
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	return models.NewMessage("t1", models.RoleAssistant, "reply to "+text), nil
}

func (f *fakeController) SwitchThread(ctx context.Context, id string) error {
	f.switched = append(f.switched, id)
	return nil
}

func (f *fakeController) NewThread(ctx context.Context) (string, error) {
	f.created++
	return "new", nil
}

func key(s string) tea.KeyPressMsg {
	switch s {
	case "enter":
		return tea.KeyPressMsg{Code: tea.KeyEnter}
	case "tab":
		return tea.KeyPressMsg{Code: tea.KeyTab}
	case "down":
		return tea.KeyPressMsg{Code: tea.KeyDown}
	case "up":
		return tea.KeyPressMsg{Code: tea.KeyUp}
	}
	r := []rune(s)[0]
	return tea.KeyPressMsg{Code: r, Text: s}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	require.True(t, ok)
	return nm, cmd
}

func typeText(t *testing.T, m model, text string) model {
	t.Helper()
	for _, r := range text {
		m, _ = update(t, m, key(string(r)))
	}
	return m
}

func ready(t *testing.T, ctrl Controller) model {
	t.Helper()
	m := newModel(context.Background(), ctrl, "")
	m, _ = update(t, m, opDoneMsg{})
	m, _ = update(t, m, threadsMsg{
		threads: []models.Thread{{ID: "t2", Title: "Second"}, {ID: "t1", Title: "First"}},
		active:  "t2",
	})
	return m
}

func TestInitStartsSession(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(context.Background(), ctrl, "resume-me")
	assert.True(t, m.busy)

	msg := m.startCmd()()
	assert.Equal(t, opDoneMsg{}, msg)
	assert.Equal(t, []string{"resume-me"}, ctrl.started)
}

func TestSubmitSendsMessage(t *testing.T) {
	ctrl := &fakeController{}
	m := ready(t, ctrl)

	m = typeText(t, m, "hello")
	assert.Equal(t, "hello", m.input.Value())

	m, cmd := update(t, m, key("enter"))
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Equal(t, "", m.input.Value())

	done := m.sendCmd("hello")()
	assert.Equal(t, []string{"hello"}, ctrl.sent)

	m, _ = update(t, m, done)
	assert.False(t, m.busy)
	require.Len(t, m.transcript, 1)
	assert.Equal(t, "reply to hello", m.transcript[0].Content)
}

func TestSubmitIgnoredWhileBusyOrBlank(t *testing.T) {
	m := ready(t, &fakeController{})

	_, cmd := update(t, m, key("enter"))
	assert.Nil(t, cmd, "blank input is not sent")

	m.busy = true
	m = typeText(t, m, "x")
	_, cmd = update(t, m, key("enter"))
	assert.Nil(t, cmd, "input is ignored while busy")
}

func TestStreamingFragmentsAndCompletion(t *testing.T) {
	m := ready(t, &fakeController{})

	m, _ = update(t, m, messageMsg{msg: models.NewMessage("t2", models.RoleUser, "hi")})
	m, _ = update(t, m, fragmentMsg("Hel"))
	m, _ = update(t, m, fragmentMsg("lo"))
	assert.Equal(t, "Hello", m.streaming)
	assert.Contains(t, m.renderTranscript(), "Hello")

	m, _ = update(t, m, turnDoneMsg{reply: models.NewMessage("t2", models.RoleAssistant, "Hello")})
	assert.Empty(t, m.streaming)
	require.Len(t, m.transcript, 2)
}

func TestFailedTurnDiscardsPartialReply(t *testing.T) {
	m := ready(t, &fakeController{})
	m.busy = true

	m, _ = update(t, m, fragmentMsg("partial"))
	m, _ = update(t, m, turnDoneMsg{err: errors.New("upstream down")})

	assert.False(t, m.busy)
	assert.Empty(t, m.streaming)
	assert.Empty(t, m.transcript)
	assert.Contains(t, m.renderStatus(), "upstream down")
}

// blockingController holds Send until its context ends.
type blockingController struct {
	fakeController
}

func (b *blockingController) Send(ctx context.Context, text string) (models.Message, error) {
	<-ctx.Done()
	return models.Message{}, ctx.Err()
}

func TestQuitCancelsInFlightTurn(t *testing.T) {
	m := ready(t, &blockingController{})
	m = typeText(t, m, "hi")
	m, _ = update(t, m, key("enter"))
	require.True(t, m.busy)

	send := m.sendCmd("hi")
	done := make(chan tea.Msg, 1)
	go func() { done <- send() }()

	m, _ = update(t, m, tea.KeyPressMsg{Code: tea.KeyEscape})
	assert.ErrorIs(t, m.ctx.Err(), context.Canceled)

	select {
	case msg := <-done:
		turn, ok := msg.(turnDoneMsg)
		require.True(t, ok)
		assert.ErrorIs(t, turn.err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("turn still running after quit")
	}
}

func TestTranscriptReplacesConversation(t *testing.T) {
	m := ready(t, &fakeController{})
	m.transcript = []models.Message{models.NewMessage("t2", models.RoleUser, "old")}

	m, _ = update(t, m, transcriptMsg{
		thread: models.Thread{ID: "t1", Title: "First"},
		msgs:   []models.Message{models.NewMessage("t1", models.RoleUser, "from t1")},
	})

	assert.Equal(t, "First", m.title)
	require.Len(t, m.transcript, 1)
	assert.Equal(t, "from t1", m.transcript[0].Content)
}

func TestSidebarSwitchAndNewChat(t *testing.T) {
	ctrl := &fakeController{}
	m := ready(t, ctrl)
	assert.Equal(t, 1, m.cursor, "cursor starts on the active thread")

	m, _ = update(t, m, key("tab"))
	assert.Equal(t, focusSidebar, m.focus)

	m, _ = update(t, m, key("down"))
	m, cmd := update(t, m, key("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, opDoneMsg{}, cmd())
	assert.Equal(t, []string{"t1"}, ctrl.switched)

	m, _ = update(t, m, opDoneMsg{})
	m, _ = update(t, m, key("up"))
	m, _ = update(t, m, key("up"))
	assert.Equal(t, 0, m.cursor)
	_, cmd = update(t, m, key("enter"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, ctrl.created)
}

func TestSidebarRendersTitles(t *testing.T) {
	m := ready(t, &fakeController{})
	m.threads = append(m.threads, models.Thread{ID: "t0", Title: strings.Repeat("very long title ", 5)})

	out := m.renderSidebar()
	assert.Contains(t, out, newChatLabel)
	assert.Contains(t, out, "● Second")
	assert.Contains(t, out, "First")
	assert.Contains(t, out, "…")
}

func TestFatalErrorHint(t *testing.T) {
	assert.Equal(t, "✗ boom", errorText(errors.New("boom")))
	assert.Contains(t, errorText(fatalErr{}), "credentials")
}

type fatalErr struct{}

func (fatalErr) Error() string { return "401" }
func (fatalErr) Fatal() bool   { return true }

func TestStreamReplyForwardsFragments(t *testing.T) {
	ui := NewUI()
	reply, err := ui.StreamReply(func(yield func(string, error) bool) {
		for _, f := range []string{"a", "b", "c"} {
			if !yield(f, nil) {
				return
			}
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", reply)

	_, err = ui.StreamReply(func(yield func(string, error) bool) {
		if yield("x", nil) {
			yield("", errors.New("broken"))
		}
	})
	assert.EqualError(t, err, "broken")
}
