package cli

import (
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/raphaelgruber/threadchat/internal/models"
	"golang.org/x/term"
)

const defaultWidth = 80

// streamUI prints a single reply to a writer. Thread and transcript updates
// are not shown.
type streamUI struct {
	out    io.Writer
	render bool // hold the reply and render it as Markdown in finish
}

func newStreamUI(out io.Writer, render bool) *streamUI {
	return &streamUI{out: out, render: render}
}

func (u *streamUI) ShowThreads([]models.Thread, string)            {}
func (u *streamUI) ShowTranscript(models.Thread, []models.Message) {}
func (u *streamUI) ShowMessage(models.Message)                     {}

// StreamReply prints fragments as they arrive.
func (u *streamUI) StreamReply(fragments iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range fragments {
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
		if err := u.write(frag); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (u *streamUI) write(token string) error {
	if u.render {
		return nil
	}
	_, err := io.WriteString(u.out, token)
	return err
}

// finish ends the reply: a newline after streamed output, or the rendered
// Markdown when rendering.
func (u *streamUI) finish(reply string) error {
	if !u.render {
		_, err := fmt.Fprintln(u.out)
		return err
	}
	out, err := renderMarkdown(reply, terminalWidth())
	if err != nil {
		return err
	}
	_, err = io.WriteString(u.out, out)
	return err
}

// renderMarkdown renders text for the terminal with glamour.
func renderMarkdown(text string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(text)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

// isTerminal reports whether stdout is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
