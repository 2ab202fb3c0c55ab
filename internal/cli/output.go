package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/troubleshoot"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var formats = []string{formatTable, formatJSON, formatYAML}

func checkFormat(format string) error {
	for _, f := range formats {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unknown format %q (want %s)", format, strings.Join(formats, ", "))
}

// writeValue encodes v as JSON or YAML.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("format %q cannot encode values", format)
}

// writeReport renders a report view.
func writeReport(w io.Writer, format string, v troubleshoot.View) error {
	if format != formatTable {
		return writeValue(w, format, v)
	}

	verdict := "PASSED"
	if !v.Passed {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "Run %s  %s", v.RunID, verdict)
	if !v.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  (took %s)", v.FinishedAt.Sub(v.StartedAt).Round(10*time.Millisecond))
	}
	fmt.Fprintln(w)
	if !v.Passed && v.Error != "" {
		fmt.Fprintf(w, "Error: [%s] %s\n", v.Kind, v.Error)
	}
	fmt.Fprintf(w, "Devices: %s\n", deviceCounts(v.Devices))
	if v.IntegrationTestMode {
		fmt.Fprintln(w, "Integration test mode: no checks were run")
	}
	fmt.Fprintln(w, strings.Repeat("─", 60))

	if len(v.Progress) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAIL")
		fmt.Fprintln(tw, "-----\t------\t------")
		for _, item := range v.Progress {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Dimension, entryStatus(item.Entry), entryDetail(item))
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(v.Results) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PROBE\tSTATUS\tKIND\tDURATION")
		fmt.Fprintln(tw, "-----\t------\t----\t--------")
		for _, rec := range v.Results {
			kind := "-"
			if rec.Kind != "" {
				kind = string(rec.Kind)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d ms\n", rec.Name, rec.Status, kind, rec.DurationMS)
		}
		tw.Flush()
	}
	return nil
}

func entryStatus(e progress.Entry) string {
	switch {
	case e.Checking:
		return "checking"
	case e.Success:
		return "ok"
	case e.Kind != "":
		return "FAIL (" + string(e.Kind) + ")"
	default:
		return "FAIL"
	}
}

// entryDetail summarises what the table can show of an entry. Typed
// details come from live reports; stored ones only keep label and error.
func entryDetail(item progress.Item) string {
	var parts []string
	if item.Label != "" {
		parts = append(parts, item.Label)
	}
	switch d := item.Detail.(type) {
	case []probe.ResolutionCheck:
		res := make([]string, len(d))
		for i, c := range d {
			mark := "ok"
			if !c.Passed {
				mark = "fail"
			}
			res[i] = c.String() + " " + mark
		}
		parts = append(parts, strings.Join(res, ", "))
	case probe.BandwidthStats:
		parts = append(parts, fmt.Sprintf("%s: loss %.1f%%, rtt %s, jitter %s, %.0f kbps",
			d.Mode, d.PacketLoss*100, d.AverageRTT, d.Jitter, d.BitrateKbps))
	}
	if !item.Success && !item.Checking && item.Error != "" {
		parts = append(parts, item.Error)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}

func deviceCounts(devices []probe.Device) string {
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
