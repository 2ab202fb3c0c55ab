package troubleshoot

import (
	"context"

	"rtcdoctor/internal/connectivity"
	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	pkgerrors "rtcdoctor/pkg/errors"
)

// plan registers the probes for t.cfg and creates the progress state for
// exactly the dimensions they write.
func (t *Troubleshooter) plan() error {
	audio, video, rtc := t.cfg.Audio, t.cfg.Video, true
	if t.deps.Capabilities != nil {
		caps := t.deps.Capabilities()
		if !caps.Media {
			if audio || video {
				t.logger.Warn("media capture unavailable, skipping audio and video checks")
			}
			audio, video = false, false
		}
		rtc = caps.RTC
	}

	if t.cfg.Media != nil {
		t.mediaOptions = *t.cfg.Media
	} else {
		t.mediaOptions = probe.MediaOptions{Audio: audio, Video: video}
	}
	opts := t.mediaOptions
	iceCfg := probe.ICEConfig{Servers: t.cfg.ICEServers, RelayOnly: true}
	p := t.deps.Probes

	var (
		dims   []progress.Dimension
		probes []probe.Probe
	)
	add := func(pr probe.Probe, d ...progress.Dimension) {
		probes = append(probes, pr)
		dims = append(dims, d...)
	}

	if audio {
		if !t.cfg.SkipPermissionsCheck {
			add(probe.New(ProbeMicrophonePermission, func(ctx context.Context) (probe.PermissionResult, error) {
				return p.Permission(ctx, probe.DeviceAudio, t.cfg.UseLegacyPermissionCheck, opts)
			}, t.settleSimple(progress.MicrophonePermission)), progress.MicrophonePermission)
		}
		add(probe.New(ProbeAudio, func(ctx context.Context) (probe.AudioResult, error) {
			return p.Audio(ctx, opts)
		}, t.settleAudio), progress.Microphone, progress.Volume)
	}

	if video {
		if !t.cfg.SkipPermissionsCheck {
			add(probe.New(ProbeCameraPermission, func(ctx context.Context) (probe.PermissionResult, error) {
				return p.Permission(ctx, probe.DeviceVideo, t.cfg.UseLegacyPermissionCheck, opts)
			}, t.settleSimple(progress.CameraPermission)), progress.CameraPermission)
		}
		add(probe.New(ProbeVideo, func(ctx context.Context) (probe.VideoResult, error) {
			return p.Video(ctx, opts)
		}, t.settleSimple(progress.Camera)), progress.Camera)
		add(probe.New(ProbeAdvancedCamera, func(ctx context.Context) (probe.CameraSweep, error) {
			return p.AdvancedCamera(ctx, opts)
		}, t.settleAdvancedCamera), progress.CameraAdvanced)
	}

	if rtc {
		add(probe.New(ProbeSymmetricNAT, func(ctx context.Context) (probe.NATResult, error) {
			return p.SymmetricNAT(ctx, iceCfg)
		}, t.settleNAT), progress.SymmetricNAT)

		t.controller = connectivity.New(func(ctx context.Context) (probe.ConnectivityResult, error) {
			return p.Connectivity(ctx, iceCfg)
		},
			connectivity.WithMaxAttempts(t.cfg.MaxPortAttempts),
			connectivity.WithRetryInterval(t.cfg.RetryInterval),
			connectivity.WithLogger(t.logger),
		)
		add(t.controller.Probe(ProbeConnectivity, t.settleConnectivity), progress.Connectivity)

		add(probe.New(ProbeThroughput, func(ctx context.Context) (probe.ThroughputResult, error) {
			return p.Throughput(ctx, iceCfg)
		}, t.settleSimple(progress.Throughput)), progress.Throughput)

		switch {
		case video || opts.ScreenStream:
			add(probe.New(ProbeVideoBandwidth, func(ctx context.Context) (probe.BandwidthResult, error) {
				return p.VideoBandwidth(ctx, iceCfg, opts)
			}, t.settleBandwidth), progress.Bandwidth)
		case audio:
			add(probe.New(ProbeAudioBandwidth, func(ctx context.Context) (probe.BandwidthResult, error) {
				return p.AudioBandwidth(ctx, iceCfg, opts)
			}, t.settleBandwidth), progress.Bandwidth)
		}
	}

	t.progress = progress.New(dims...)
	for _, pr := range probes {
		if err := t.registry.Add(pr); err != nil {
			return err
		}
	}
	return nil
}

// settleSimple maps pass/fail straight onto one dimension. Failure flags
// (no device, port requirement) derive from the error kind.
func (t *Troubleshooter) settleSimple(dim progress.Dimension) probe.Hook {
	return func(o probe.Outcome) {
		if o.Passed() {
			t.progress.Settle(dim, progress.Passed())
			return
		}
		t.progress.Settle(dim, progress.Failed(o.Err))
	}
}

// settleConnectivity records the accepted ports, or on exhaustion the last
// attempt's ports alongside the port requirement flag.
func (t *Troubleshooter) settleConnectivity(o probe.Outcome) {
	if o.Passed() {
		res, _ := probe.Value[probe.ConnectivityResult](o)
		t.progress.Settle(progress.Connectivity, progress.Entry{Success: true, Detail: res})
		return
	}
	t.progress.Settle(progress.Connectivity, progress.Failed(o.Err))
}

// settleAudio attributes an audio failure to exactly one of microphone and
// volume: silence is a volume problem, anything else a microphone problem.
func (t *Troubleshooter) settleAudio(o probe.Outcome) {
	switch {
	case o.Passed():
		t.progress.Settle(progress.Microphone, progress.Passed())
		t.progress.Settle(progress.Volume, progress.Passed())
	case o.Kind() == pkgerrors.KindTimeout:
		t.progress.Settle(progress.Microphone, progress.Passed())
		t.progress.Settle(progress.Volume, progress.Failed(o.Err))
	default:
		t.progress.Settle(progress.Microphone, progress.Failed(o.Err))
		t.progress.Settle(progress.Volume, progress.Passed())
	}
}

// settleAdvancedCamera keeps the resolution list whether or not the sweep
// passed.
func (t *Troubleshooter) settleAdvancedCamera(o probe.Outcome) {
	if o.Passed() {
		sweep, _ := probe.Value[probe.CameraSweep](o)
		t.progress.SetDetail(progress.CameraAdvanced, sweep.Resolutions)
		t.progress.Settle(progress.CameraAdvanced, progress.Passed())
		return
	}

	entry := progress.Failed(o.Err)
	switch detail := pkgerrors.DetailOf(o.Err).(type) {
	case probe.CameraSweep:
		entry.Detail = detail.Resolutions
	case []probe.ResolutionCheck:
		entry.Detail = detail
	}
	t.progress.SetDetail(progress.CameraAdvanced, entry.Detail)
	t.progress.Settle(progress.CameraAdvanced, entry)
}

func (t *Troubleshooter) settleNAT(o probe.Outcome) {
	if o.Passed() {
		res, _ := probe.Value[probe.NATResult](o)
		t.progress.Settle(progress.SymmetricNAT, progress.Entry{Success: res.Good(), Label: res.Label})
		return
	}
	entry := progress.Failed(o.Err)
	entry.Label = probe.NATError
	t.progress.Settle(progress.SymmetricNAT, entry)
}

// settleBandwidth classifies failures as ICE, media or unclassified. The
// dimension carries whatever stats the probe produced in every case.
func (t *Troubleshooter) settleBandwidth(o probe.Outcome) {
	if o.Passed() {
		res, _ := probe.Value[probe.BandwidthResult](o)
		t.progress.SetDetail(progress.Bandwidth, res.Stats)
		t.progress.Settle(progress.Bandwidth, progress.Passed())
		return
	}

	entry := progress.Failed(o.Err)
	switch entry.Kind {
	case pkgerrors.KindICE, pkgerrors.KindMedia:
	default:
		t.logger.Error("bandwidth check failed without classification", "probe", o.Name, "kind", entry.Kind, "error", o.Err)
		entry.Kind = pkgerrors.KindGeneric
	}
	if res, ok := entry.Detail.(probe.BandwidthResult); ok {
		entry.Detail = res.Stats
	}
	if entry.Detail != nil {
		t.progress.SetDetail(progress.Bandwidth, entry.Detail)
	}
	t.progress.Settle(progress.Bandwidth, entry)
}
