package models

import "time"

// Run statuses
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
)

// Run triggers
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerTUI      = "tui"
)

// Run represents one stored diagnostics run
type Run struct {
	ID                  string     `json:"id"` // ULID, also the troubleshooter's run id
	Trigger             string     `json:"trigger"`
	Status              string     `json:"status"`
	ErrorKind           string     `json:"error_kind,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	IntegrationTestMode bool       `json:"integration_test_mode"`
	Plan                string     `json:"plan"`     // comma separated probe names
	Devices             string     `json:"devices"`  // JSON array
	Progress            string     `json:"progress"` // JSON array of dimension entries
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"` // NULL while running
}

// Finished reports whether the run has a terminal status.
func (r *Run) Finished() bool {
	return r.Status != RunRunning
}
