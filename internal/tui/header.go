package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

var tabNames = []string{"Run", "History", "Settings"}

// runStatus drives the status pill.
type runStatus int

const (
	statusIdle runStatus = iota
	statusRunning
	statusPassed
	statusFailed
)

func (s runStatus) pill() string {
	switch s {
	case statusRunning:
		return runningPillStyle.Render(" RUNNING ")
	case statusPassed:
		return passedPillStyle.Render(" PASSED ")
	case statusFailed:
		return failedPillStyle.Render(" FAILED ")
	}
	return idlePillStyle.Render(" IDLE ")
}

// renderHeader draws the logo with the run pill flush right, then the tab
// bar and a rule.
func renderHeader(activeTab int, status runStatus, runID string, width int) string {
	logo := logoStyle.Render("RTCDOCTOR")
	pill := status.pill()
	if status != statusIdle && runID != "" {
		pill = dimStyle.Render(shortID(runID)+" ") + pill
	}
	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(pill), 1)

	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		style := inactiveTabStyle
		if i == activeTab {
			style = activeTabStyle
		}
		tabs[i] = style.Render(name)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		logo+strings.Repeat(" ", gap)+pill,
		lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...),
		rule(width),
	)
}

func renderFooter(helpText string, width int) string {
	return lipgloss.JoinVertical(lipgloss.Left, rule(width), helpBarStyle.Render(helpText))
}

func rule(width int) string {
	return helpSepStyle.Render(strings.Repeat("─", max(width, 0)))
}

func renderHelpBar(showFull bool) string {
	if !showFull {
		return joinBindings(keys.ShortHelp(), " | ")
	}
	var lines []string
	for _, group := range keys.FullHelp() {
		lines = append(lines, joinBindings(group, "  "))
	}
	return strings.Join(lines, "\n")
}

func joinBindings(bindings []key.Binding, sep string) string {
	var parts []string
	for _, b := range bindings {
		if b.Enabled() {
			parts = append(parts, helpKeyStyle.Render(b.Help().Key)+" "+helpDescStyle.Render(b.Help().Desc))
		}
	}
	return strings.Join(parts, helpSepStyle.Render(sep))
}

// shortID trims a run ULID to its random tail for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
