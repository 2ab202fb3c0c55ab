package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
)

const historyLimit = 50

// loadHistory fetches the most recent runs.
func loadHistory(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		runs, err := store.ListRuns(ctx, storage.RunFilter{Limit: historyLimit})
		return historyLoadedMsg{runs: runs, err: err}
	}
}

// loadRunView fetches one stored report.
func loadRunView(store storage.Storage, id string) tea.Cmd {
	return func() tea.Msg {
		view, err := app.LoadView(context.Background(), store, id)
		return runViewLoadedMsg{view: view, err: err}
	}
}

// loadSettings fetches all application settings.
func loadSettings(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		settings, err := store.GetAllSettings(ctx)
		return settingsLoadedMsg{settings: settings, err: err}
	}
}

// saveSetting saves a single setting.
func saveSetting(store storage.Storage, key, value string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		err := store.SetSetting(ctx, key, value)
		return settingSavedMsg{key: key, err: err}
	}
}

// startRun asks the runner for a new diagnostics run.
func startRun(ctx context.Context, runner runService, configure func(*troubleshoot.Config)) tea.Cmd {
	return func() tea.Msg {
		ts, err := runner.Start(ctx, app.RunOptions{Trigger: models.TriggerTUI, Configure: configure})
		return runStartedMsg{ts: ts, err: err}
	}
}

// waitForChange blocks on the progress feed of a run.
func waitForChange(runID string, ch <-chan progress.Change) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return progressClosedMsg{runID: runID}
		}
		return progressChangedMsg{runID: runID}
	}
}

// waitForReport blocks until the run delivered its report and the runner
// stored it, so a history refresh afterwards sees the finished run.
func waitForReport(runner runService, ts reportSource) tea.Cmd {
	return func() tea.Msg {
		<-ts.Done()
		runner.Wait()
		rep, _ := ts.Report()
		return runFinishedMsg{report: rep}
	}
}

// clearNotification returns a command that fires after a delay.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
