// Package tui is the terminal chat interface: a thread sidebar, the active
// transcript with streamed replies, and a message input.
package tui

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/threadchat/internal/models"
)

// UI forwards session output into a running bubbletea program. Create it
// before the session, then pass both to Run.
type UI struct {
	mu sync.RWMutex
	p  *tea.Program
}

// NewUI creates a UI that is not yet attached to a program.
func NewUI() *UI {
	return &UI{}
}

func (u *UI) attach(p *tea.Program) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.p = p
}

// send delivers msg to the program. Messages sent before Run are dropped.
func (u *UI) send(msg tea.Msg) {
	u.mu.RLock()
	p := u.p
	u.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}

// ShowThreads updates the sidebar.
func (u *UI) ShowThreads(threads []models.Thread, active string) {
	u.send(threadsMsg{threads: threads, active: active})
}

// ShowTranscript replaces the displayed conversation.
func (u *UI) ShowTranscript(thread models.Thread, msgs []models.Message) {
	u.send(transcriptMsg{thread: thread, msgs: msgs})
}

// ShowMessage appends one message to the conversation.
func (u *UI) ShowMessage(msg models.Message) {
	u.send(messageMsg{msg: msg})
}

// StreamReply forwards each fragment to the screen as it arrives and returns
// the full reply.
func (u *UI) StreamReply(fragments iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range fragments {
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
		u.send(fragmentMsg(frag))
	}
	return b.String(), nil
}

// Run shows the chat screen until the user quits. The session is started
// inside the program, resuming the thread resume if it is non-empty.
func Run(ctx context.Context, ctrl Controller, ui *UI, resume string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(ctx, ctrl, resume)
	defer m.cancel()
	p := tea.NewProgram(m, tea.WithContext(ctx))
	ui.attach(p)
	defer ui.attach(nil)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
