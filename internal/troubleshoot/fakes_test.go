package troubleshoot

import (
	"context"
	"errors"
	"sync/atomic"

	"rtcdoctor/internal/probe"
)

// fakeProbes passes every check unless a hook overrides it.
type fakeProbes struct {
	calls atomic.Int32

	permission     func(ctx context.Context, kind string) (probe.PermissionResult, error)
	audio          func(ctx context.Context) (probe.AudioResult, error)
	video          func(ctx context.Context) (probe.VideoResult, error)
	advancedCamera func(ctx context.Context) (probe.CameraSweep, error)
	nat            func(ctx context.Context) (probe.NATResult, error)
	connectivity   func(ctx context.Context) (probe.ConnectivityResult, error)
	throughput     func(ctx context.Context) (probe.ThroughputResult, error)
	bandwidth      func(ctx context.Context, mode string) (probe.BandwidthResult, error)

	lastBandwidthMode atomic.Value
	lastMedia         atomic.Value
}

func (f *fakeProbes) Permission(ctx context.Context, kind string, legacy bool, opts probe.MediaOptions) (probe.PermissionResult, error) {
	f.calls.Add(1)
	f.lastMedia.Store(opts)
	if f.permission != nil {
		return f.permission(ctx, kind)
	}
	return probe.PermissionResult{DeviceKind: kind, Legacy: legacy}, nil
}

func (f *fakeProbes) Audio(ctx context.Context, opts probe.MediaOptions) (probe.AudioResult, error) {
	f.calls.Add(1)
	if f.audio != nil {
		return f.audio(ctx)
	}
	return probe.AudioResult{RMS: 0.2}, nil
}

func (f *fakeProbes) Video(ctx context.Context, opts probe.MediaOptions) (probe.VideoResult, error) {
	f.calls.Add(1)
	if f.video != nil {
		return f.video(ctx)
	}
	return probe.VideoResult{Width: 640, Height: 480}, nil
}

func (f *fakeProbes) AdvancedCamera(ctx context.Context, opts probe.MediaOptions) (probe.CameraSweep, error) {
	f.calls.Add(1)
	if f.advancedCamera != nil {
		return f.advancedCamera(ctx)
	}
	return probe.CameraSweep{Resolutions: []probe.ResolutionCheck{{Width: 1280, Height: 720, Passed: true}}}, nil
}

func (f *fakeProbes) SymmetricNAT(ctx context.Context, cfg probe.ICEConfig) (probe.NATResult, error) {
	f.calls.Add(1)
	if f.nat != nil {
		return f.nat(ctx)
	}
	return probe.NATResult{Label: probe.NATAsymmetric}, nil
}

func (f *fakeProbes) Connectivity(ctx context.Context, cfg probe.ICEConfig) (probe.ConnectivityResult, error) {
	f.calls.Add(1)
	if f.connectivity != nil {
		return f.connectivity(ctx)
	}
	return probe.ConnectivityResult{ObservedPorts: []int{20000}}, nil
}

func (f *fakeProbes) Throughput(ctx context.Context, cfg probe.ICEConfig) (probe.ThroughputResult, error) {
	f.calls.Add(1)
	if f.throughput != nil {
		return f.throughput(ctx)
	}
	return probe.ThroughputResult{Transactions: 10}, nil
}

func (f *fakeProbes) VideoBandwidth(ctx context.Context, cfg probe.ICEConfig, opts probe.MediaOptions) (probe.BandwidthResult, error) {
	return f.runBandwidth(ctx, probe.BandwidthVideo)
}

func (f *fakeProbes) AudioBandwidth(ctx context.Context, cfg probe.ICEConfig, opts probe.MediaOptions) (probe.BandwidthResult, error) {
	return f.runBandwidth(ctx, probe.BandwidthAudio)
}

func (f *fakeProbes) runBandwidth(ctx context.Context, mode string) (probe.BandwidthResult, error) {
	f.calls.Add(1)
	f.lastBandwidthMode.Store(mode)
	if f.bandwidth != nil {
		return f.bandwidth(ctx, mode)
	}
	return probe.BandwidthResult{Stats: probe.BandwidthStats{Mode: mode, PacketsSent: 100, PacketsReceived: 100}}, nil
}

type fakeDevices struct {
	devices []probe.Device
	err     error
}

func (f fakeDevices) Enumerate(ctx context.Context) ([]probe.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices, nil
}

var errEnumerate = errors.New("enumerate devices: permission denied")
