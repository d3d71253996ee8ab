package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/raphaelgruber/threadchat/internal/models"
)

const (
	sidebarWidth = 28
	minMainWidth = 20
	newChatLabel = "+ New chat"
)

// Controller is the session surface driven by the chat screen.
type Controller interface {
	Start(ctx context.Context, resume string) error
	Send(ctx context.Context, text string) (models.Message, error)
	SwitchThread(ctx context.Context, id string) error
	NewThread(ctx context.Context) (string, error)
}

// Messages delivered by the session through UI.
type (
	threadsMsg struct {
		threads []models.Thread
		active  string
	}
	transcriptMsg struct {
		thread models.Thread
		msgs   []models.Message
	}
	messageMsg struct {
		msg models.Message
	}
	fragmentMsg string
)

// Completion messages of session operations.
type (
	turnDoneMsg struct {
		reply models.Message
		err   error
	}
	opDoneMsg struct {
		err error
	}
)

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

// model is the bubbletea model of the chat screen.
type model struct {
	ctx    context.Context
	cancel context.CancelFunc // stops in-flight operations on quit
	ctrl   Controller
	resume string
	theme  Theme

	threads []models.Thread
	active  string
	cursor  int // sidebar row; 0 is the new chat action
	title   string

	transcript []models.Message
	streaming  string
	busy       bool
	err        error

	focus    focus
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	width    int
	height   int
}

func newModel(ctx context.Context, ctrl Controller, resume string) model {
	input := textinput.New()
	input.Placeholder = "Send a message"
	input.Prompt = "> "
	input.Focus()

	ctx, cancel := context.WithCancel(ctx)
	return model{
		ctx:      ctx,
		cancel:   cancel,
		ctrl:     ctrl,
		resume:   resume,
		theme:    defaultTheme,
		title:    models.DefaultTitle,
		input:    input,
		viewport: viewport.New(viewport.WithWidth(80), viewport.WithHeight(20)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		busy:     true,
	}
}

// Init starts the session.
func (m model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.spinner.Tick)
}

// Update handles messages and returns the updated model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case threadsMsg:
		m.threads = msg.threads
		m.active = msg.active
		m.cursor = m.activeRow()
		for _, t := range msg.threads {
			if t.ID == msg.active {
				m.title = t.Title
			}
		}
		return m, nil

	case transcriptMsg:
		m.title = msg.thread.Title
		m.active = msg.thread.ID
		m.transcript = models.CloneMessages(msg.msgs)
		m.streaming = ""
		m.refresh()
		return m, nil

	case messageMsg:
		m.transcript = append(m.transcript, msg.msg)
		m.refresh()
		return m, nil

	case fragmentMsg:
		m.streaming += string(msg)
		m.refresh()
		return m, nil

	case turnDoneMsg:
		m.busy = false
		m.streaming = ""
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.transcript = append(m.transcript, msg.reply)
		}
		m.refresh()
		return m, nil

	case opDoneMsg:
		m.busy = false
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.cancel()
		return m, tea.Quit

	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
			return m, nil
		}
		m.focus = focusInput
		return m, m.input.Focus()

	case "ctrl+n":
		return m.runOp(func(ctx context.Context) error {
			_, err := m.ctrl.NewThread(ctx)
			return err
		})

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}

	if msg.String() == "enter" {
		text := m.input.Value()
		if m.busy || strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		m.busy = true
		m.err = nil
		return m, tea.Batch(m.sendCmd(text), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleSidebarKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.threads) {
			m.cursor++
		}
	case "enter":
		if m.cursor == 0 {
			return m.runOp(func(ctx context.Context) error {
				_, err := m.ctrl.NewThread(ctx)
				return err
			})
		}
		id := m.threads[m.cursor-1].ID
		if id == m.active {
			return m, nil
		}
		return m.runOp(func(ctx context.Context) error {
			return m.ctrl.SwitchThread(ctx, id)
		})
	}
	return m, nil
}

// runOp runs a session operation off the event loop. Input is ignored while
// an operation is running.
func (m model) runOp(op func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.err = nil
	ctx := m.ctx
	return m, func() tea.Msg {
		return opDoneMsg{err: op(ctx)}
	}
}

func (m model) startCmd() tea.Cmd {
	ctx, ctrl, resume := m.ctx, m.ctrl, m.resume
	return func() tea.Msg {
		return opDoneMsg{err: ctrl.Start(ctx, resume)}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		reply, err := ctrl.Send(ctx, text)
		return turnDoneMsg{reply: reply, err: err}
	}
}

// activeRow returns the sidebar row of the active thread.
func (m model) activeRow() int {
	for i, t := range m.threads {
		if t.ID == m.active {
			return i + 1
		}
	}
	return 0
}

func (m *model) mainWidth() int {
	return max(m.width-sidebarWidth-2, minMainWidth)
}

func (m *model) resize() {
	w := m.mainWidth()
	m.viewport.SetWidth(w)
	// title line, status line, input line
	m.viewport.SetHeight(max(m.height-3, 1))
	m.input.SetWidth(w - 2)

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(w),
	)
	if err == nil {
		m.renderer = r
	}
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.transcript {
		b.WriteString(m.renderMessage(msg))
	}
	if m.streaming != "" {
		b.WriteString(m.theme.roleStyle(false).Render("assistant"))
		b.WriteString("\n")
		b.WriteString(m.streaming)
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderMessage(msg models.Message) string {
	user := msg.Role == models.RoleUser
	label := m.theme.roleStyle(user).Render(string(msg.Role))

	body := msg.Content
	if !user && m.renderer != nil {
		if out, err := m.renderer.Render(msg.Content); err == nil {
			body = strings.Trim(out, "\n")
		}
	}
	return label + "\n" + body + "\n\n"
}

func (m model) renderSidebar() string {
	width := sidebarWidth - 2
	lines := []string{m.theme.hintStyle().Render("Conversations"), ""}

	row := func(i int, text string, active bool) string {
		text = runewidth.Truncate(text, width, "…")
		switch {
		case m.focus == focusSidebar && i == m.cursor:
			return m.theme.cursorStyle().Render(text)
		case active:
			return m.theme.activeStyle().Render(text)
		default:
			return text
		}
	}

	lines = append(lines, row(0, newChatLabel, false))
	for i, t := range m.threads {
		marker := "  "
		if t.ID == m.active {
			marker = "● "
		}
		lines = append(lines, row(i+1, marker+t.Title, t.ID == m.active))
	}

	return m.theme.sidebarStyle(sidebarWidth, max(m.height, 1)).Render(strings.Join(lines, "\n"))
}

func (m model) renderStatus() string {
	switch {
	case m.err != nil:
		return m.theme.errorStyle().Render(errorText(m.err))
	case m.busy:
		return m.spinner.View() + " " + m.theme.hintStyle().Render("thinking...")
	default:
		return m.theme.hintStyle().Render("enter send • tab threads • ctrl+n new chat • esc quit")
	}
}

// View renders the chat screen.
func (m model) View() tea.View {
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.activeStyle().Render(runewidth.Truncate(m.title, m.mainWidth(), "…")),
		m.viewport.View(),
		m.renderStatus(),
		m.input.View(),
	)
	v := tea.NewView(lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", main))
	v.AltScreen = true
	return v
}

func errorText(err error) string {
	var target interface{ Fatal() bool }
	if errors.As(err, &target) && target.Fatal() {
		return fmt.Sprintf("✗ %v (check your provider credentials)", err)
	}
	return fmt.Sprintf("✗ %v", err)
}
