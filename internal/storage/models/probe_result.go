package models

// ProbeResult represents the stored outcome of one probe in a run
type ProbeResult struct {
	ID           int64  `json:"id"`
	RunID        string `json:"run_id"`
	Position     int    `json:"position"` // registration order within the run
	Name         string `json:"name"`
	Status       string `json:"status"`
	Kind         string `json:"kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Payload      string `json:"payload,omitempty"` // JSON
	Detail       string `json:"detail,omitempty"`  // JSON
	DurationMS   int64  `json:"duration_ms"`
}
