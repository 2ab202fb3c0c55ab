package troubleshoot

import (
	"encoding/json"
	"time"

	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	pkgerrors "rtcdoctor/pkg/errors"
)

// Report is the single terminal result of a run. Err is set when device
// enumeration failed or any probe failed; in the latter case it is the
// failure that settled first.
type Report struct {
	RunID               string
	StartedAt           time.Time
	FinishedAt          time.Time
	Plan                []string
	Devices             []probe.Device
	Outcomes            []probe.Outcome
	Progress            []progress.Item
	IntegrationTestMode bool
	Err                 error
}

// Passed reports whether the run as a whole succeeded.
func (r Report) Passed() bool { return r.Err == nil }

// Record is the serialisable form of one probe outcome.
type Record struct {
	Name       string         `json:"name" yaml:"name"`
	Status     probe.Status   `json:"status" yaml:"status"`
	Kind       pkgerrors.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	Payload    any            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Detail     any            `json:"detail,omitempty" yaml:"detail,omitempty"`
	DurationMS int64          `json:"duration_ms" yaml:"duration_ms"`
}

// NewRecord converts an outcome.
func NewRecord(o probe.Outcome) Record {
	rec := Record{
		Name:       o.Name,
		Status:     o.Status,
		Payload:    o.Payload,
		DurationMS: o.Duration().Milliseconds(),
	}
	if o.Err != nil {
		rec.Kind = pkgerrors.KindOf(o.Err)
		rec.Error = o.Err.Error()
		rec.Detail = pkgerrors.DetailOf(o.Err)
	}
	return rec
}

// Records converts every outcome, in registration order.
func (r Report) Records() []Record {
	records := make([]Record, len(r.Outcomes))
	for i, o := range r.Outcomes {
		records[i] = NewRecord(o)
	}
	return records
}

// View is the serialisable form of a report.
type View struct {
	RunID               string          `json:"run_id" yaml:"run_id"`
	StartedAt           time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt          time.Time       `json:"finished_at" yaml:"finished_at"`
	Passed              bool            `json:"passed" yaml:"passed"`
	Kind                pkgerrors.Kind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error               string          `json:"error,omitempty" yaml:"error,omitempty"`
	Detail              any             `json:"detail,omitempty" yaml:"detail,omitempty"`
	IntegrationTestMode bool            `json:"integration_test_mode,omitempty" yaml:"integration_test_mode,omitempty"`
	Devices             []probe.Device  `json:"devices" yaml:"devices"`
	Results             []Record        `json:"results" yaml:"results"`
	Progress            []progress.Item `json:"progress" yaml:"progress"`
}

// View returns the serialisable form.
func (r Report) View() View {
	v := View{
		RunID:               r.RunID,
		StartedAt:           r.StartedAt,
		FinishedAt:          r.FinishedAt,
		Passed:              r.Passed(),
		IntegrationTestMode: r.IntegrationTestMode,
		Devices:             r.Devices,
		Results:             r.Records(),
		Progress:            r.Progress,
	}
	if r.Err != nil {
		v.Kind = pkgerrors.KindOf(r.Err)
		v.Error = r.Err.Error()
		v.Detail = pkgerrors.DetailOf(r.Err)
	}
	return v
}

func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}

func (r Report) MarshalYAML() (any, error) {
	return r.View(), nil
}
