package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/troubleshoot"
)

var dimensionLabels = map[progress.Dimension]string{
	progress.MicrophonePermission: "Microphone permission",
	progress.Microphone:           "Microphone",
	progress.Volume:               "Volume",
	progress.CameraPermission:     "Camera permission",
	progress.Camera:               "Camera",
	progress.CameraAdvanced:       "Camera resolutions",
	progress.SymmetricNAT:         "NAT type",
	progress.Connectivity:         "Relay connectivity",
	progress.Throughput:           "Throughput",
	progress.Bandwidth:            "Bandwidth",
}

func dimensionLabel(d progress.Dimension) string {
	if l, ok := dimensionLabels[d]; ok {
		return l
	}
	return string(d)
}

// runModel shows the live or most recent diagnostics run.
type runModel struct {
	width  int
	height int

	ts        *troubleshoot.Troubleshooter
	items     []progress.Item
	report    *troubleshoot.Report
	starting  bool
	showStats bool
}

func newRunModel() runModel {
	return runModel{}
}

func (rm *runModel) setSize(w, h int) {
	rm.width = w
	rm.height = h
}

// attach switches the tab to a freshly started run.
func (rm *runModel) attach(ts *troubleshoot.Troubleshooter) {
	rm.ts = ts
	rm.report = nil
	rm.starting = false
	rm.items = ts.Progress().Snapshot()
}

func (rm *runModel) refresh() {
	if rm.ts != nil {
		rm.items = rm.ts.Progress().Snapshot()
	}
}

func (rm *runModel) finish(rep troubleshoot.Report) {
	rm.report = &rep
	if len(rep.Progress) > 0 {
		rm.items = rep.Progress
	}
	rm.ts = nil
}

func (rm *runModel) running() bool {
	return rm.starting || rm.ts != nil
}

func (rm *runModel) status() runStatus {
	switch {
	case rm.running():
		return statusRunning
	case rm.report == nil:
		return statusIdle
	case rm.report.Passed():
		return statusPassed
	default:
		return statusFailed
	}
}

func (rm *runModel) runID() string {
	switch {
	case rm.ts != nil:
		return rm.ts.ID()
	case rm.report != nil:
		return rm.report.RunID
	}
	return ""
}

func (rm *runModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Bandwidth) {
		rm.showStats = !rm.showStats
	}
	return nil
}

func (rm *runModel) View(s spinner.Model) string {
	var rows []string
	rows = append(rows, cardTitleStyle.Render("Diagnostics"))

	switch {
	case rm.starting && rm.ts == nil:
		rows = append(rows, s.View()+" Enumerating devices...")
	case len(rm.items) == 0 && rm.report == nil:
		rows = append(rows, dimStyle.Render("No run yet. Press 'r' to run diagnostics."))
	default:
		for _, item := range rm.items {
			rows = append(rows, rm.renderItem(item, s)...)
		}
	}

	if rm.report != nil {
		rows = append(rows, "", rm.renderVerdict(*rm.report))
	}

	w := rm.width - 6
	if w < 40 {
		w = 40
	}
	return forceHeight(cardStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...)), rm.width, rm.height)
}

func (rm *runModel) renderItem(item progress.Item, s spinner.Model) []string {
	label := cardLabelStyle.Render(dimensionLabel(item.Dimension))
	e := item.Entry

	var value string
	switch {
	case e.Checking:
		value = s.View() + " " + dimStyle.Render("checking")
		if item.Dimension == progress.Connectivity && rm.ts != nil {
			if ctrl := rm.ts.Connectivity(); ctrl != nil && ctrl.Attempts() > 0 {
				value += dimStyle.Render(fmt.Sprintf(" (attempt %d/%d)", ctrl.Attempts(), ctrl.MaxAttempts()))
			}
		}
	case e.Success:
		value = successStyle.Render("✓ ok")
	default:
		value = errorStyle.Render("✗ " + failureText(e))
	}
	if e.Label != "" && !e.Checking {
		value += " " + cardValueStyle.Render(e.Label)
	}

	lines := []string{label + value}
	if !e.Checking && !e.Success && e.Error != "" {
		lines = append(lines, indent(dimStyle.Render(truncate(e.Error, rm.width-32))))
	}

	switch item.Dimension {
	case progress.CameraAdvanced:
		if checks, ok := e.Detail.([]probe.ResolutionCheck); ok && len(checks) > 0 {
			lines = append(lines, indent(renderResolutions(checks)))
		}
	case progress.Bandwidth:
		stats, ok := e.Detail.(probe.BandwidthStats)
		switch {
		case !ok:
		case rm.showStats:
			lines = append(lines, renderBandwidth(stats)...)
		default:
			lines = append(lines, indent(dimStyle.Render("press b for stats")))
		}
	}
	return lines
}

// failureText names the failure the way the progress flags do.
func failureText(e progress.Entry) string {
	switch {
	case e.NoDevice():
		return "no device access"
	case e.PortError():
		return "no relay port in range"
	case e.ICEError():
		return "ice failure"
	case e.MediaError():
		return "media quality"
	case e.Kind != "":
		return string(e.Kind)
	default:
		return "failed"
	}
}

func renderResolutions(checks []probe.ResolutionCheck) string {
	parts := make([]string, 0, len(checks))
	for _, c := range checks {
		if c.Passed {
			parts = append(parts, successStyle.Render(c.String()))
		} else {
			parts = append(parts, errorStyle.Render(c.String()))
		}
	}
	return strings.Join(parts, dimStyle.Render("  "))
}

func renderBandwidth(st probe.BandwidthStats) []string {
	return []string{
		indent(dimStyle.Render("mode      ") + cardValueStyle.Render(st.Mode)),
		indent(dimStyle.Render("packets   ") + cardValueStyle.Render(fmt.Sprintf("%d sent, %d received", st.PacketsSent, st.PacketsReceived))),
		indent(dimStyle.Render("loss      ") + cardValueStyle.Render(fmt.Sprintf("%.1f%%", st.PacketLoss*100))),
		indent(dimStyle.Render("rtt       ") + rttStyle(st.AverageRTT).Render(st.AverageRTT.String())),
		indent(dimStyle.Render("jitter    ") + cardValueStyle.Render(st.Jitter.String())),
		indent(dimStyle.Render("bitrate   ") + cardValueStyle.Render(fmt.Sprintf("%.0f kbps", st.BitrateKbps))),
	}
}

func (rm *runModel) renderVerdict(rep troubleshoot.Report) string {
	var b strings.Builder
	if rep.Passed() {
		b.WriteString(successStyle.Render("All checks passed"))
	} else {
		b.WriteString(errorStyle.Render("Run failed: ") + warningStyle.Render(truncate(rep.Err.Error(), rm.width-24)))
	}
	if rep.IntegrationTestMode {
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("integration test mode: %d devices enumerated", len(rep.Devices))))
	}
	if !rep.FinishedAt.IsZero() {
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("took %s", rep.FinishedAt.Sub(rep.StartedAt).Round(10*time.Millisecond))))
	}
	return b.String()
}

func indent(s string) string {
	return "  " + s
}

func truncate(s string, n int) string {
	if n < 8 {
		n = 8
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
