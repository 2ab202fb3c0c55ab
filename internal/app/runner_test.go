package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/config"
	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/logging"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/storage/sqlite"
	"rtcdoctor/internal/troubleshoot"
	"rtcdoctor/internal/troubleshoot/troubleshoottest"
	pkgerrors "rtcdoctor/pkg/errors"
)

func diagnostics() config.DiagnosticsConfig {
	return config.DiagnosticsConfig{Audio: true, Video: true, MaxPortAttempts: 3}
}

func staticServers(ctx context.Context) ([]ice.Server, error) {
	return ice.NewRegistry().ParseAll([]string{"stun:127.0.0.1:3478"}, "", "")
}

func newStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRunner(t *testing.T, probes *troubleshoottest.Probes, store storage.Storage) *Runner {
	t.Helper()
	return NewRunner(diagnostics(), RunnerDeps{
		Store:   store,
		Probes:  probes,
		Devices: troubleshoottest.DefaultDevices,
		Servers: staticServers,
		Logger:  logging.Discard(),
	})
}

func TestRunStoresReport(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := newRunner(t, &troubleshoottest.Probes{}, store)

	rep, err := r.Run(ctx, RunOptions{Trigger: models.TriggerCLI})
	require.NoError(t, err)
	assert.False(t, r.InProgress())

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, last.RunID)

	run, err := store.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunPassed, run.Status)
	assert.Equal(t, models.TriggerCLI, run.Trigger)
	assert.NotNil(t, run.FinishedAt)

	results, err := store.GetProbeResults(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Len(t, results, len(rep.Outcomes))

	lastID, err := store.GetSetting(ctx, storage.SettingLastRunID)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, lastID)

	view, err := LoadView(ctx, store, rep.RunID)
	require.NoError(t, err)
	assert.True(t, view.Passed)
	assert.Len(t, view.Devices, 2)
	assert.Equal(t, rep.Plan, namesOf(view.Results))
	assert.NotEmpty(t, view.Progress)
}

func namesOf(records []troubleshoot.Record) []string {
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return names
}

func TestRunStoresFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	probes := &troubleshoottest.Probes{ConnectivityErr: pkgerrors.New(pkgerrors.KindICE, errors.New("no route"))}
	r := newRunner(t, probes, store)

	rep, err := r.Run(ctx, RunOptions{})
	require.Error(t, err)

	run, err := store.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, string(pkgerrors.KindICE), run.ErrorKind)
	assert.Contains(t, run.ErrorMessage, "no route")

	view, err := LoadView(ctx, store, rep.RunID)
	require.NoError(t, err)
	assert.False(t, view.Passed)
	assert.Equal(t, pkgerrors.KindICE, view.Kind)
}

func TestRunNoSave(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r := newRunner(t, &troubleshoottest.Probes{}, store)

	_, err := r.Run(ctx, RunOptions{NoSave: true})
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx, storage.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOnlyOneRunAtATime(t *testing.T) {
	probes := &troubleshoottest.Probes{Gate: make(chan struct{})}
	r := newRunner(t, probes, nil)

	ts, err := r.Start(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, r.InProgress())

	current, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, ts.ID(), current.ID())

	_, err = r.Start(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, pkgerrors.ErrRunInProgress)

	close(probes.Gate)
	<-ts.Done()
	require.Eventually(t, func() bool { return !r.InProgress() }, time.Second, 5*time.Millisecond)

	_, ok = r.Current()
	assert.False(t, ok)
}

func TestStopClosesLiveRun(t *testing.T) {
	probes := &troubleshoottest.Probes{Gate: make(chan struct{})}
	r := newRunner(t, probes, newStore(t))

	ts, err := r.Start(context.Background(), RunOptions{})
	require.NoError(t, err)

	r.Stop()
	assert.False(t, r.InProgress())

	rep, ok := ts.Report()
	require.True(t, ok)
	assert.Error(t, rep.Err)
}

func TestConfigureOverrides(t *testing.T) {
	probes := &troubleshoottest.Probes{}
	r := newRunner(t, probes, nil)

	rep, err := r.Run(context.Background(), RunOptions{Configure: func(c *troubleshoot.Config) {
		c.Audio, c.Video = false, false
	}})
	require.NoError(t, err)
	assert.NotContains(t, rep.Plan, troubleshoot.ProbeAudio)
	assert.Contains(t, rep.Plan, troubleshoot.ProbeConnectivity)
}

func TestStoredSettingsOverlayConfig(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SetSetting(ctx, storage.SettingMaxPortAttempts, "7"))
	require.NoError(t, store.SetSetting(ctx, storage.SettingProbeTimeout, "later"))
	r := newRunner(t, &troubleshoottest.Probes{}, store)

	var got troubleshoot.Config
	_, err := r.Run(ctx, RunOptions{NoSave: true, Configure: func(c *troubleshoot.Config) { got = *c }})
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxPortAttempts)
	assert.Zero(t, got.ProbeTimeout)
}

func TestMissingServersStillRuns(t *testing.T) {
	r := NewRunner(diagnostics(), RunnerDeps{
		Probes:  &troubleshoottest.Probes{},
		Devices: troubleshoottest.DefaultDevices,
		Servers: func(context.Context) ([]ice.Server, error) { return nil, pkgerrors.ErrServerListEmpty },
		Logger:  logging.Discard(),
	})
	_, err := r.Run(context.Background(), RunOptions{})
	assert.NoError(t, err)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	old := &models.Run{ID: "old", StartedAt: time.Now().AddDate(0, 0, -40)}
	require.NoError(t, store.CreateRun(ctx, old))
	old.Status = models.RunPassed
	require.NoError(t, store.FinishRun(ctx, old))

	n, err := Prune(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.SetSetting(ctx, storage.SettingRetentionDays, "0"))
	n, err = Prune(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.SetSetting(ctx, storage.SettingRetentionDays, "soon"))
	_, err = Prune(ctx, store)
	assert.Error(t, err)
}
