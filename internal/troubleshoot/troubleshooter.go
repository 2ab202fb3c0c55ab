// Package troubleshoot composes the diagnostic probes of one run, wires each
// probe's settlement into the live progress state and delivers one report.
package troubleshoot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"rtcdoctor/internal/connectivity"
	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/suite"
	pkgerrors "rtcdoctor/pkg/errors"
)

// Probe names, in registration order.
const (
	ProbeMicrophonePermission = "microphone-permission"
	ProbeAudio                = "audio"
	ProbeCameraPermission     = "camera-permission"
	ProbeVideo                = "video"
	ProbeAdvancedCamera       = "advanced-camera"
	ProbeSymmetricNAT         = "symmetric-nat"
	ProbeConnectivity         = "connectivity"
	ProbeThroughput           = "throughput"
	ProbeVideoBandwidth       = "video-bandwidth"
	ProbeAudioBandwidth       = "audio-bandwidth"

	probeDevices = "devices"
)

// Config selects which probes run.
type Config struct {
	Audio                    bool
	Video                    bool
	SkipPermissionsCheck     bool
	UseLegacyPermissionCheck bool
	ICEServers               []ice.Server
	IntegrationTestMode      bool
	// Media overrides the options handed to media probes. When nil they
	// are derived from Audio and Video.
	Media *probe.MediaOptions

	MaxPortAttempts int
	RetryInterval   time.Duration
	ProbeTimeout    time.Duration
}

// Probes constructs the individual checks.
type Probes interface {
	Permission(ctx context.Context, deviceKind string, legacy bool, opts probe.MediaOptions) (probe.PermissionResult, error)
	Audio(ctx context.Context, opts probe.MediaOptions) (probe.AudioResult, error)
	Video(ctx context.Context, opts probe.MediaOptions) (probe.VideoResult, error)
	AdvancedCamera(ctx context.Context, opts probe.MediaOptions) (probe.CameraSweep, error)
	SymmetricNAT(ctx context.Context, cfg probe.ICEConfig) (probe.NATResult, error)
	Connectivity(ctx context.Context, cfg probe.ICEConfig) (probe.ConnectivityResult, error)
	Throughput(ctx context.Context, cfg probe.ICEConfig) (probe.ThroughputResult, error)
	VideoBandwidth(ctx context.Context, cfg probe.ICEConfig, opts probe.MediaOptions) (probe.BandwidthResult, error)
	AudioBandwidth(ctx context.Context, cfg probe.ICEConfig, opts probe.MediaOptions) (probe.BandwidthResult, error)
}

// DeviceEnumerator lists the capture devices available to the run.
type DeviceEnumerator interface {
	Enumerate(ctx context.Context) ([]probe.Device, error)
}

// Capabilities describes what the host can do at all.
type Capabilities struct {
	Media bool // capture devices can be opened
	RTC   bool // real-time networking is possible
}

// Deps are the collaborators of a Troubleshooter.
type Deps struct {
	Probes  Probes
	Devices DeviceEnumerator
	// Capabilities reports host capabilities. Nil means everything is
	// available.
	Capabilities func() Capabilities
	Logger       *slog.Logger
	// Inspect, when set, receives the registry once the plan is built.
	Inspect func(*suite.Registry)
	// Progress, when set, is called after each probe settles.
	Progress suite.ProgressFunc
}

// ResultFunc receives the terminal report of a run.
type ResultFunc func(Report)

// Troubleshooter runs one diagnostics pass. It is single use.
type Troubleshooter struct {
	id     string
	cfg    Config
	deps   Deps
	logger *slog.Logger

	registry     *suite.Registry
	progress     *progress.State
	controller   *connectivity.Controller
	mediaOptions probe.MediaOptions

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc

	deliver sync.Once
	done    chan struct{}
	report  Report
}

// New builds the probe plan for cfg. No probe runs until Start.
func New(cfg Config, deps Deps) (*Troubleshooter, error) {
	if deps.Probes == nil {
		return nil, errors.New("troubleshoot: probes are required")
	}
	if deps.Devices == nil {
		return nil, errors.New("troubleshoot: device enumerator is required")
	}

	id := ulid.Make().String()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", id)

	t := &Troubleshooter{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		done:   make(chan struct{}),
	}

	opts := []suite.Option{suite.WithProbeTimeout(cfg.ProbeTimeout)}
	if deps.Progress != nil {
		opts = append(opts, suite.WithProgress(deps.Progress))
	}
	t.registry = suite.New(logger, opts...)

	if err := t.plan(); err != nil {
		return nil, err
	}
	if deps.Inspect != nil {
		deps.Inspect(t.registry)
	}
	return t, nil
}

// ID returns the run identifier.
func (t *Troubleshooter) ID() string { return t.id }

// Progress returns the live progress state.
func (t *Troubleshooter) Progress() *progress.State { return t.progress }

// Plan returns the registered probe names in order.
func (t *Troubleshooter) Plan() []string { return t.registry.Names() }

// Connectivity returns the retry controller, or nil when no connectivity
// check is planned.
func (t *Troubleshooter) Connectivity() *connectivity.Controller { return t.controller }

// Done is closed after the report has been delivered.
func (t *Troubleshooter) Done() <-chan struct{} { return t.done }

// Report returns the delivered report, or false while the run is live.
func (t *Troubleshooter) Report() (Report, bool) {
	select {
	case <-t.done:
		return t.report, true
	default:
		return Report{}, false
	}
}

// Start enumerates devices and runs every planned probe in the background.
// fn is invoked exactly once with the report, even after Close.
func (t *Troubleshooter) Start(ctx context.Context, fn ResultFunc) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return pkgerrors.ErrInvalidState
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)
	if t.closed {
		t.cancel()
	}
	t.mu.Unlock()

	go t.run(ctx, fn)
	return nil
}

// Run is the blocking form of Start. The returned error is the report's.
func (t *Troubleshooter) Run(ctx context.Context) (Report, error) {
	ch := make(chan Report, 1)
	if err := t.Start(ctx, func(r Report) { ch <- r }); err != nil {
		return Report{}, err
	}
	r := <-ch
	return r, r.Err
}

// Close tears the run down: probes are asked to stop and progress is
// frozen. It does not wait; the report is still delivered.
func (t *Troubleshooter) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	t.progress.Close()
	t.registry.StopAll()
	if cancel != nil {
		cancel()
	}
}

func (t *Troubleshooter) run(ctx context.Context, fn ResultFunc) {
	defer t.cancel()

	report := Report{
		RunID:               t.id,
		StartedAt:           time.Now(),
		Plan:                t.registry.Names(),
		IntegrationTestMode: t.cfg.IntegrationTestMode,
	}

	devices, err := t.deps.Devices.Enumerate(ctx)
	if err != nil {
		report.Err = &pkgerrors.ProbeError{
			Probe: probeDevices,
			Kind:  pkgerrors.KindDeviceEnumeration,
			Err:   err,
		}
		t.finish(fn, report)
		return
	}
	report.Devices = devices
	t.logger.Info("media devices", "count", len(devices), "media_options", t.mediaOptions)

	if t.cfg.IntegrationTestMode {
		t.logger.Info("integration test mode, probes not started", "plan", report.Plan)
		t.finish(fn, report)
		return
	}

	report.Outcomes, report.Err = t.registry.Start(ctx)
	t.finish(fn, report)
}

func (t *Troubleshooter) finish(fn ResultFunc, report Report) {
	t.deliver.Do(func() {
		report.FinishedAt = time.Now()
		report.Progress = t.progress.Snapshot()

		if report.Err != nil {
			t.logger.Warn("troubleshooting finished with error",
				"error", report.Err,
				"kind", pkgerrors.KindOf(report.Err),
				"detail", pkgerrors.DetailOf(report.Err),
			)
		} else {
			t.logger.Info("troubleshooting finished", "probes", len(report.Outcomes), "duration", report.FinishedAt.Sub(report.StartedAt))
		}

		t.report = report
		close(t.done)
		if fn != nil {
			fn(report)
		}
	})
}
