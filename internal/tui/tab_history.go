package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
)

// runItem implements list.Item for the history list.
type runItem struct {
	run *models.Run
}

func (i runItem) Title() string {
	return fmt.Sprintf("%s  %s", i.run.StartedAt.Local().Format("2006-01-02 15:04:05"), i.run.ID)
}

func (i runItem) FilterValue() string {
	return i.run.ID + " " + i.run.Status + " " + i.run.Trigger + " " + i.run.ErrorKind
}

func (i runItem) Description() string {
	parts := []string{i.run.Status, "via " + i.run.Trigger}
	if i.run.ErrorKind != "" {
		parts = append(parts, i.run.ErrorKind)
	}
	if i.run.FinishedAt != nil {
		parts = append(parts, i.run.FinishedAt.Sub(i.run.StartedAt).Round(10*time.Millisecond).String())
	}
	if i.run.IntegrationTestMode {
		parts = append(parts, "integration")
	}
	return strings.Join(parts, " | ")
}

// runItemDelegate renders each history entry.
type runItemDelegate struct{}

func (d runItemDelegate) Height() int                             { return 2 }
func (d runItemDelegate) Spacing() int                            { return 0 }
func (d runItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d runItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ri, ok := item.(runItem)
	if !ok {
		return
	}

	title := ri.Title()
	desc := ri.Description()

	mark := successStyle.Render("✓")
	switch ri.run.Status {
	case models.RunFailed:
		mark = errorStyle.Render("✗")
	case models.RunRunning:
		mark = warningStyle.Render("…")
	}

	if index == m.Index() {
		title = fg(colorAccent).Bold(true).Render("> " + title)
	} else {
		title = cardValueStyle.Render("  " + title)
	}
	desc = dimStyle.PaddingLeft(2).Render(desc)

	fmt.Fprintf(w, "%s %s\n%s", title, mark, desc)
}

// historyModel manages the history tab: a list of stored runs and a detail
// view of the selected one.
type historyModel struct {
	list   list.Model
	runs   []*models.Run
	width  int
	height int

	detail  *troubleshoot.View
	loading bool
}

func newHistoryModel() historyModel {
	l := list.New(nil, runItemDelegate{}, 0, 0)
	l.Title = "History"
	l.SetShowHelp(false)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.Styles.Title = titleStyle
	l.Styles.FilterPrompt = fg(colorAccent)
	l.Styles.FilterCursor = fg(colorAccent)

	return historyModel{list: l}
}

func (hm *historyModel) setSize(w, h int) {
	hm.width = w
	hm.height = h
	hm.list.SetSize(w, h)
}

func (hm *historyModel) setRuns(runs []*models.Run) {
	hm.runs = runs
	items := make([]list.Item, len(runs))
	for i, r := range runs {
		items[i] = runItem{run: r}
	}
	hm.list.SetItems(items)
}

func (hm *historyModel) setDetail(v troubleshoot.View) {
	hm.loading = false
	hm.detail = &v
}

func (hm *historyModel) selectedRun() *models.Run {
	item := hm.list.SelectedItem()
	if item == nil {
		return nil
	}
	ri, ok := item.(runItem)
	if !ok {
		return nil
	}
	return ri.run
}

// capturesKeys reports whether the tab needs raw key input.
func (hm *historyModel) capturesKeys() bool {
	return hm.list.FilterState() == list.Filtering
}

func (hm *historyModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if hm.detail != nil {
			if key.Matches(msg, keys.Back) {
				hm.detail = nil
			}
			return nil
		}

		// When filtering, pass all keys to list.
		if hm.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			hm.list, cmd = hm.list.Update(msg)
			return cmd
		}

		if key.Matches(msg, keys.Enter) {
			if r := hm.selectedRun(); r != nil && !hm.loading {
				hm.loading = true
				return loadRunView(root.store, r.ID)
			}
			return nil
		}
	}

	var cmd tea.Cmd
	hm.list, cmd = hm.list.Update(msg)
	return cmd
}

func (hm *historyModel) View() string {
	if hm.detail != nil {
		return forceHeight(hm.viewDetail(*hm.detail), hm.width, hm.height)
	}
	if len(hm.runs) == 0 {
		return forceHeight(dimStyle.Render("No stored runs yet."), hm.width, hm.height)
	}
	return forceHeight(hm.list.View(), hm.width, hm.height)
}

func (hm *historyModel) viewDetail(v troubleshoot.View) string {
	rows := []string{
		cardTitleStyle.Render("Run " + v.RunID),
		cardLabelStyle.Render("Started") + cardValueStyle.Render(v.StartedAt.Local().Format("2006-01-02 15:04:05")),
	}
	if v.Passed {
		rows = append(rows, cardLabelStyle.Render("Result")+successStyle.Render("passed"))
	} else {
		rows = append(rows, cardLabelStyle.Render("Result")+errorStyle.Render("failed ")+warningStyle.Render(string(v.Kind)))
		if v.Error != "" {
			rows = append(rows, indent(dimStyle.Render(truncate(v.Error, hm.width-12))))
		}
	}
	rows = append(rows, cardLabelStyle.Render("Devices")+cardValueStyle.Render(deviceSummary(v.Devices)), "")

	for _, rec := range v.Results {
		mark := successStyle.Render("✓")
		if rec.Status != probe.StatusPassed {
			mark = errorStyle.Render("✗")
		}
		line := cardLabelStyle.Render(rec.Name) + mark + dimStyle.Render(fmt.Sprintf(" %dms", rec.DurationMS))
		if rec.Kind != "" {
			line += " " + warningStyle.Render(string(rec.Kind))
		}
		rows = append(rows, line)
	}
	rows = append(rows, "", dimStyle.Render("esc to go back"))

	w := hm.width - 6
	if w < 40 {
		w = 40
	}
	return cardStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func deviceSummary(devices []probe.Device) string {
	var audio, video int
	for _, d := range devices {
		switch d.Kind {
		case probe.DeviceAudio:
			audio++
		case probe.DeviceVideo:
			video++
		}
	}
	return fmt.Sprintf("%d audio, %d video", audio, video)
}
