package tui

import "github.com/charmbracelet/lipgloss"

// Theme holds the color scheme of the chat screen.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Active    lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	Border    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Active:    lipgloss.Color("#FFAF00"), // amber
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	Border:    lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) roleStyle(user bool) lipgloss.Style {
	if user {
		return lipgloss.NewStyle().Foreground(t.User).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) activeStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Active).Bold(true)
}

func (t Theme) cursorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Reverse(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) sidebarStyle(width, height int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(t.Border).
		PaddingRight(1)
}
