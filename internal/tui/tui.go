// Package tui is the interactive terminal front end: a live view of the
// current diagnostics run, the stored run history and the settings.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/troubleshoot"
	pkgerrors "rtcdoctor/pkg/errors"
)

// Tab indices.
const (
	tabRun      = 0
	tabHistory  = 1
	tabSettings = 2
	tabCount    = 3
)

// runService is the part of app.Runner the TUI drives.
type runService interface {
	Start(ctx context.Context, opts app.RunOptions) (*troubleshoot.Troubleshooter, error)
	Wait()
}

// reportSource is the part of a troubleshooter that delivers the report.
type reportSource interface {
	Done() <-chan struct{}
	Report() (troubleshoot.Report, bool)
}

// Model is the root BubbleTea model.
type Model struct {
	// Dependencies.
	ctx       context.Context
	store     storage.Storage
	runner    runService
	configure func(*troubleshoot.Config)

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Live progress feed of the current run.
	feed        <-chan progress.Change
	unsubscribe func()

	// Tab models.
	runTab      runModel
	historyTab  historyModel
	settingsTab settingsModel

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	// Spinner for checking dimensions.
	spinner spinner.Model
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	// Context bounds runs started from the TUI. Nil means background.
	Context context.Context
	Storage storage.Storage
	Runner  runService
	// Configure adjusts every run started from the TUI.
	Configure func(*troubleshoot.Config)
	// AutoRun starts a run as soon as the program opens.
	AutoRun bool
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}

	m := &Model{
		ctx:         ctx,
		store:       deps.Storage,
		runner:      deps.Runner,
		configure:   deps.Configure,
		activeTab:   tabRun,
		spinner:     s,
		runTab:      newRunModel(),
		historyTab:  newHistoryModel(),
		settingsTab: newSettingsModel(),
	}
	m.runTab.starting = deps.AutoRun
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		loadHistory(m.store),
		loadSettings(m.store),
		m.spinner.Tick,
	}
	if m.runTab.starting {
		cmds = append(cmds, startRun(m.ctx, m.runner, m.configure))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.runTab.setSize(msg.Width, ch)
		m.historyTab.setSize(msg.Width, ch)
		m.settingsTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}

	// Run lifecycle.
	case runStartedMsg:
		if msg.err != nil {
			m.runTab.starting = false
			if errors.Is(msg.err, pkgerrors.ErrRunInProgress) {
				m.setNotification("A run is already in progress", true)
			} else {
				m.setNotification(fmt.Sprintf("Run failed to start: %v", msg.err), true)
			}
			break
		}
		m.stopFeed()
		m.feed, m.unsubscribe = msg.ts.Progress().Subscribe(16)
		// the feed only carries changes made after Subscribe
		m.runTab.attach(msg.ts)
		m.setNotification("Diagnostics started", false)
		cmds = append(cmds,
			waitForChange(msg.ts.ID(), m.feed),
			waitForReport(m.runner, msg.ts),
			m.spinner.Tick,
		)

	case progressChangedMsg:
		if m.runTab.ts != nil && m.runTab.ts.ID() == msg.runID {
			m.runTab.refresh()
			if m.feed != nil {
				cmds = append(cmds, waitForChange(msg.runID, m.feed))
			}
		}

	case progressClosedMsg:
		m.runTab.refresh()

	case runFinishedMsg:
		m.stopFeed()
		m.runTab.finish(msg.report)
		if msg.report.Passed() {
			m.setNotification("All checks passed", false)
		} else {
			m.setNotification("Diagnostics found problems", true)
		}
		cmds = append(cmds, loadHistory(m.store), loadSettings(m.store))

	// Data loading.
	case historyLoadedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Loading history failed: %v", msg.err), true)
		} else {
			m.historyTab.setRuns(msg.runs)
		}
	case runViewLoadedMsg:
		m.historyTab.loading = false
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Loading run failed: %v", msg.err), true)
		} else {
			m.historyTab.setDetail(msg.view)
		}
	case settingsLoadedMsg:
		if msg.err == nil {
			m.settingsTab.setSettings(msg.settings)
		}

	// Settings.
	case settingSavedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Save failed: %v", msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Saved %s", msg.key), false)
		}

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	// Spinner.
	if m.runTab.running() {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate to active tab.
	switch m.activeTab {
	case tabRun:
		cmds = append(cmds, m.runTab.Update(msg, m))
	case tabHistory:
		cmds = append(cmds, m.historyTab.Update(msg, m))
	case tabSettings:
		cmds = append(cmds, m.settingsTab.Update(msg, m))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.activeTab, m.runTab.status(), m.runTab.runID(), m.width)

	var content string
	switch m.activeTab {
	case tabRun:
		content = m.runTab.View(m.spinner)
	case tabHistory:
		content = m.historyTab.View()
	case tabSettings:
		content = m.settingsTab.View()
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	helpText := renderHelpBar(m.showHelp)
	footer := renderFooter(helpText, m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
// This prevents BubbleTea from leaving ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	// Truncate excess lines.
	if len(lines) > height {
		lines = lines[:height]
	}
	// Pad missing lines with blank space.
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

// handleGlobalKey handles keys that work on every tab. handled is false
// when the key should reach the active tab.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	// Don't intercept when settings editing or search active.
	if m.activeTab == tabSettings && m.settingsTab.editing {
		return nil, false
	}
	if m.activeTab == tabHistory && m.historyTab.capturesKeys() {
		return nil, false
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.stopFeed()
		return tea.Quit, true

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil, true

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return nil, true

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return nil, true

	case key.Matches(msg, keys.Run):
		m.activeTab = tabRun
		if m.runTab.running() {
			m.setNotification("A run is already in progress", true)
			return clearNotification(4*time.Second, m.notifVersion), true
		}
		m.runTab.starting = true
		return tea.Batch(startRun(m.ctx, m.runner, m.configure), m.spinner.Tick), true

	case key.Matches(msg, keys.Stop):
		if m.runTab.ts != nil {
			m.runTab.ts.Close()
			m.setNotification("Stopping run", false)
			return clearNotification(4*time.Second, m.notifVersion), true
		}
		return nil, true

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(
			loadHistory(m.store),
			loadSettings(m.store),
		), true
	}

	return nil, false
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

func (m *Model) stopFeed() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.feed = nil
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(deps Deps, opts ...tea.ProgramOption) *tea.Program {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return tea.NewProgram(NewModel(deps), opts...)
}
