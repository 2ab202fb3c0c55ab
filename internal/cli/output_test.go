package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
	pkgerrors "rtcdoctor/pkg/errors"
)

func failedView() troubleshoot.View {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return troubleshoot.View{
		RunID:      "01J0000000000000000000ABCD",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Kind:       pkgerrors.KindPortRequirement,
		Error:      "no relay port in range",
		Devices: []probe.Device{
			{ID: "mic0", Kind: probe.DeviceAudio},
			{ID: "cam0", Kind: probe.DeviceVideo},
			{ID: "cam1", Kind: probe.DeviceVideo},
		},
		Progress: []progress.Item{
			{Dimension: progress.Camera, Entry: progress.Entry{
				Success: true,
				Detail:  []probe.ResolutionCheck{{Width: 640, Height: 480, Passed: true}, {Width: 1920, Height: 1080}},
			}},
			{Dimension: progress.Connectivity, Entry: progress.Entry{
				Kind:  pkgerrors.KindPortRequirement,
				Error: "no relay port in range",
			}},
		},
		Results: []troubleshoot.Record{
			{Name: "video", Status: probe.StatusPassed, DurationMS: 120},
			{Name: "connectivity", Status: probe.StatusFailed, Kind: pkgerrors.KindPortRequirement, DurationMS: 900},
		},
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"table", "json", "yaml"} {
		assert.NoError(t, checkFormat(f))
	}
	err := checkFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json, yaml")
}

func TestWriteReportTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatTable, failedView()))
	out := buf.String()

	assert.Contains(t, out, "Run 01J0000000000000000000ABCD  FAILED  (took 1.5s)")
	assert.Contains(t, out, "Error: [port_requirement] no relay port in range")
	assert.Contains(t, out, "Devices: 1 audio, 2 video")
	assert.Contains(t, out, "640x480 ok, 1920x1080 fail")
	assert.Contains(t, out, "FAIL (port_requirement)")
	assert.Contains(t, out, "900 ms")
	assert.NotContains(t, out, "Integration test mode")
}

func TestWriteReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, formatJSON, failedView()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "01J0000000000000000000ABCD", decoded["run_id"])
	assert.Equal(t, false, decoded["passed"])
	assert.Len(t, decoded["results"], 2)
}

func TestWriteValueYAML(t *testing.T) {
	var buf bytes.Buffer
	run := &models.Run{
		ID:        "01J0000000000000000000ABCD",
		Trigger:   models.TriggerCLI,
		Status:    models.RunPassed,
		Plan:      "audio,video",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, writeValue(&buf, formatYAML, summarize(run)))
	out := buf.String()
	assert.Contains(t, out, "01J0000000000000000000ABCD")
	assert.Contains(t, out, "trigger: cli")
	assert.Contains(t, out, "- audio")
	assert.Contains(t, out, "- video")
	assert.NotContains(t, out, "finished_at")
	assert.Error(t, writeValue(&buf, formatTable, 1))
}

func TestRunFlagsApplyOnlyChanged(t *testing.T) {
	var f runFlags
	cmd := &cobra.Command{Use: "run"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--video=false", "--max-port-attempts", "5", "--screen"}))

	configure, err := f.configure(cmd)
	require.NoError(t, err)

	cfg := troubleshoot.Config{Audio: true, Video: true, MaxPortAttempts: 20, RetryInterval: time.Second}
	configure(&cfg)

	assert.True(t, cfg.Audio)
	assert.False(t, cfg.Video)
	assert.Equal(t, 5, cfg.MaxPortAttempts)
	assert.Equal(t, time.Second, cfg.RetryInterval)
	require.NotNil(t, cfg.Media)
	assert.True(t, cfg.Media.Audio)
	assert.False(t, cfg.Media.Video)
	assert.True(t, cfg.Media.ScreenStream)
	assert.Nil(t, cfg.ICEServers)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(errRunFailed))
	assert.Equal(t, 1, exitCode(assert.AnError))
}

func TestSettingValidators(t *testing.T) {
	tests := []struct {
		key, value string
		ok         bool
	}{
		{"retention_days", "0", true},
		{"retention_days", "-1", false},
		{"max_port_attempts", "1", true},
		{"max_port_attempts", "0", false},
		{"probe_timeout", "45s", true},
		{"probe_timeout", "soon", false},
	}
	for _, tt := range tests {
		err := settingValidators[tt.key](tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s=%s", tt.key, tt.value)
		} else {
			assert.Error(t, err, "%s=%s", tt.key, tt.value)
		}
	}
	_, ok := settingValidators["last_run_id"]
	assert.False(t, ok)
	assert.True(t, strings.Contains(strings.Join(settingKeys(), ","), "max_port_attempts"))
}
