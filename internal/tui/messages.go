package tui

import (
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
)

// Data loading messages.

type historyLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runViewLoadedMsg struct {
	view troubleshoot.View
	err  error
}

type settingsLoadedMsg struct {
	settings map[string]string
	err      error
}

// Run lifecycle messages.

type runStartedMsg struct {
	ts  *troubleshoot.Troubleshooter
	err error
}

// progressChangedMsg means the live run's progress moved. The model reads
// the full snapshot rather than trusting the change itself.
type progressChangedMsg struct {
	runID string
}

type progressClosedMsg struct {
	runID string
}

type runFinishedMsg struct {
	report troubleshoot.Report
}

// Settings messages.

type settingSavedMsg struct {
	key string
	err error
}

// Notification.

type clearNotificationMsg struct {
	version int
}
