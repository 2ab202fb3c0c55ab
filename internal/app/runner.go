package app

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"rtcdoctor/internal/config"
	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/suite"
	"rtcdoctor/internal/troubleshoot"
	pkgerrors "rtcdoctor/pkg/errors"
)

// RunnerDeps are the collaborators of a Runner.
type RunnerDeps struct {
	// Store persists reports. Nil disables saving.
	Store        storage.Storage
	Probes       troubleshoot.Probes
	Devices      troubleshoot.DeviceEnumerator
	Capabilities func() troubleshoot.Capabilities
	Servers      func(ctx context.Context) ([]ice.Server, error)
	Logger       *slog.Logger
}

// RunOptions tune a single run.
type RunOptions struct {
	Trigger string
	NoSave  bool
	// Configure adjusts the run configuration after it was derived from
	// the diagnostics config.
	Configure func(*troubleshoot.Config)
	Progress  suite.ProgressFunc
}

// Runner allows one diagnostics run at a time and keeps the most recent
// report.
type Runner struct {
	cfg    config.DiagnosticsConfig
	deps   RunnerDeps
	logger *slog.Logger

	inProgress atomic.Bool
	wg         sync.WaitGroup

	mu      sync.RWMutex
	current *troubleshoot.Troubleshooter
	last    *troubleshoot.Report
}

// NewRunner creates a Runner.
func NewRunner(cfg config.DiagnosticsConfig, deps RunnerDeps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger}
}

// Start begins a run in the background and returns its troubleshooter.
// Returns ErrRunInProgress while another run is live.
func (r *Runner) Start(ctx context.Context, opts RunOptions) (*troubleshoot.Troubleshooter, error) {
	return r.start(ctx, opts, nil)
}

// Run executes a run and blocks until its report is stored. The returned
// error is the report's.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (troubleshoot.Report, error) {
	ch := make(chan troubleshoot.Report, 1)
	if _, err := r.start(ctx, opts, func(rep troubleshoot.Report) { ch <- rep }); err != nil {
		return troubleshoot.Report{}, err
	}
	rep := <-ch
	return rep, rep.Err
}

func (r *Runner) start(ctx context.Context, opts RunOptions, after func(troubleshoot.Report)) (*troubleshoot.Troubleshooter, error) {
	if !r.inProgress.CompareAndSwap(false, true) {
		return nil, pkgerrors.ErrRunInProgress
	}

	ts, err := r.build(ctx, opts)
	if err != nil {
		r.inProgress.Store(false)
		return nil, err
	}

	var run *models.Run
	if r.deps.Store != nil && !opts.NoSave {
		run = newRunModel(ts, opts.Trigger)
		if err := r.deps.Store.CreateRun(ctx, run); err != nil {
			r.logger.Warn("failed to store run, continuing without saving", "run_id", ts.ID(), "error", err)
			run = nil
		}
	}

	r.mu.Lock()
	r.current = ts
	r.mu.Unlock()

	r.wg.Add(1)
	err = ts.Start(ctx, func(rep troubleshoot.Report) {
		defer r.wg.Done()
		r.finish(run, rep)
		if after != nil {
			after(rep)
		}
	})
	if err != nil {
		r.wg.Done()
		r.release()
		return nil, err
	}
	return ts, nil
}

func (r *Runner) build(ctx context.Context, opts RunOptions) (*troubleshoot.Troubleshooter, error) {
	servers, err := r.deps.Servers(ctx)
	if err != nil {
		// The network probes report the empty list themselves.
		r.logger.Warn("no ice servers resolved", "error", err)
		servers = nil
	}

	cfg := r.config(servers)
	r.applySettings(ctx, &cfg)
	if opts.Configure != nil {
		opts.Configure(&cfg)
	}

	return troubleshoot.New(cfg, troubleshoot.Deps{
		Probes:       r.deps.Probes,
		Devices:      r.deps.Devices,
		Capabilities: r.deps.Capabilities,
		Logger:       r.logger,
		Progress:     opts.Progress,
	})
}

// config derives the troubleshooter configuration.
func (r *Runner) config(servers []ice.Server) troubleshoot.Config {
	m := r.cfg.Media
	return troubleshoot.Config{
		Audio:                    r.cfg.Audio,
		Video:                    r.cfg.Video,
		SkipPermissionsCheck:     r.cfg.SkipPermissionsCheck,
		UseLegacyPermissionCheck: r.cfg.UseLegacyPermissionCheck,
		IntegrationTestMode:      r.cfg.IntegrationTestMode,
		ICEServers:               servers,
		Media: &probe.MediaOptions{
			Audio:        r.cfg.Audio,
			Video:        r.cfg.Video,
			AudioDevice:  m.AudioDevice,
			VideoDevice:  m.VideoDevice,
			ScreenStream: m.ScreenStream,
			CaptureTime:  m.CaptureTime,
		},
		MaxPortAttempts: r.cfg.MaxPortAttempts,
		RetryInterval:   r.cfg.RetryInterval,
		ProbeTimeout:    r.cfg.ProbeTimeout,
	}
}

// applySettings overlays the run defaults stored in settings. Bad values
// are logged and ignored.
func (r *Runner) applySettings(ctx context.Context, cfg *troubleshoot.Config) {
	if r.deps.Store == nil {
		return
	}
	if v, err := r.deps.Store.GetSetting(ctx, storage.SettingMaxPortAttempts); err == nil {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 {
			cfg.MaxPortAttempts = n
		} else {
			r.logger.Warn("ignoring bad setting", "key", storage.SettingMaxPortAttempts, "value", v)
		}
	}
	if v, err := r.deps.Store.GetSetting(ctx, storage.SettingProbeTimeout); err == nil {
		if d, perr := time.ParseDuration(v); perr == nil && d >= 0 {
			cfg.ProbeTimeout = d
		} else {
			r.logger.Warn("ignoring bad setting", "key", storage.SettingProbeTimeout, "value", v)
		}
	}
}

func (r *Runner) finish(run *models.Run, rep troubleshoot.Report) {
	if run != nil {
		// the run context may already be gone
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := saveReport(ctx, r.deps.Store, run, rep); err != nil {
			r.logger.Error("failed to save report", "run_id", rep.RunID, "error", err)
		}
		cancel()
	}

	r.mu.Lock()
	r.last = &rep
	r.current = nil
	r.mu.Unlock()
	r.release()
}

func (r *Runner) release() {
	r.inProgress.Store(false)
}

// InProgress returns true while a run is live.
func (r *Runner) InProgress() bool {
	return r.inProgress.Load()
}

// Current returns the live troubleshooter, if any.
func (r *Runner) Current() (*troubleshoot.Troubleshooter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.current != nil
}

// Last returns the most recent report.
func (r *Runner) Last() (troubleshoot.Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return troubleshoot.Report{}, false
	}
	return *r.last, true
}

// Stop closes the live run and waits for its report to be handled.
func (r *Runner) Stop() {
	if ts, ok := r.Current(); ok {
		ts.Close()
	}
	r.Wait()
}

// Wait blocks until every started run has been stored.
func (r *Runner) Wait() {
	r.wg.Wait()
}
