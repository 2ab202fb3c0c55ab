package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Palette. Every color adapts to light and dark terminals.
var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#00728F", Dark: "#4FD1E8"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#1E8E3E", Dark: "#3DDC84"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#C5221F", Dark: "#FF6B6B"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#B06000", Dark: "#FFB347"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#80868B", Dark: "#6B7280"}
	colorText   = lipgloss.AdaptiveColor{Light: "#202124", Dark: "#E8EAED"}
	colorFrame  = lipgloss.AdaptiveColor{Light: "#DADCE0", Dark: "#3C4043"}
)

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func pill(bg lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Padding(0, 1).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(bg)
}

var (
	logoStyle        = fg(colorAccent).Bold(true).PaddingRight(2)
	activeTabStyle   = fg(colorAccent).Bold(true).Underline(true).Padding(0, 2)
	inactiveTabStyle = fg(colorMuted).Padding(0, 2)

	passedPillStyle  = pill(colorOK)
	failedPillStyle  = pill(colorFail)
	runningPillStyle = pill(colorWarn)
	idlePillStyle    = pill(colorMuted)

	helpBarStyle  = fg(colorMuted).Padding(0, 1)
	helpKeyStyle  = fg(colorAccent).Bold(true)
	helpDescStyle = fg(colorMuted)
	helpSepStyle  = fg(colorFrame)

	titleStyle   = fg(colorAccent).Bold(true).MarginBottom(1)
	errorStyle   = fg(colorFail).Bold(true)
	successStyle = fg(colorOK).Bold(true)
	warningStyle = fg(colorWarn)
	dimStyle     = fg(colorMuted)
	spinnerStyle = fg(colorAccent)

	// Result cards on the run and history tabs.
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFrame).
			Padding(1, 2)
	cardTitleStyle = fg(colorAccent).Bold(true).MarginBottom(1)
	cardLabelStyle = fg(colorMuted).Width(24)
	cardValueStyle = fg(colorText)

	notifSuccessStyle = fg(colorOK).Bold(true).Padding(0, 1)
	notifErrorStyle   = fg(colorFail).Bold(true).Padding(0, 1)
)

// rttStyle colors a round trip time: under 100ms is good, under 500ms usable.
func rttStyle(d time.Duration) lipgloss.Style {
	switch {
	case d < 100*time.Millisecond:
		return fg(colorOK)
	case d < 500*time.Millisecond:
		return fg(colorWarn)
	default:
		return fg(colorFail)
	}
}
