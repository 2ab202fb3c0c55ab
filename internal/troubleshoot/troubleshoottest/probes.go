// Package troubleshoottest provides in-memory probes for exercising the
// troubleshooter from other packages.
package troubleshoottest

import (
	"context"
	"sync/atomic"

	"rtcdoctor/internal/probe"
)

// Probes passes every check instantly. Gate, when set, holds the
// connectivity check until it is closed or the context ends.
type Probes struct {
	Gate chan struct{}
	// ConnectivityErr, when set, fails the connectivity check.
	ConnectivityErr error

	Calls atomic.Int32
}

func (p *Probes) Permission(ctx context.Context, kind string, legacy bool, opts probe.MediaOptions) (probe.PermissionResult, error) {
	p.Calls.Add(1)
	return probe.PermissionResult{DeviceKind: kind, Device: "/dev/null", Legacy: legacy}, nil
}

func (p *Probes) Audio(ctx context.Context, opts probe.MediaOptions) (probe.AudioResult, error) {
	p.Calls.Add(1)
	return probe.AudioResult{Device: "hw:0,0", RMS: 0.12, Peak: 0.5, Samples: 32000}, nil
}

func (p *Probes) Video(ctx context.Context, opts probe.MediaOptions) (probe.VideoResult, error) {
	p.Calls.Add(1)
	return probe.VideoResult{Device: "/dev/video0", Width: 640, Height: 480, FrameBytes: 307200}, nil
}

func (p *Probes) AdvancedCamera(ctx context.Context, opts probe.MediaOptions) (probe.CameraSweep, error) {
	p.Calls.Add(1)
	return probe.CameraSweep{
		Device: "/dev/video0",
		Resolutions: []probe.ResolutionCheck{
			{Width: 640, Height: 480, Passed: true},
			{Width: 1280, Height: 720, Passed: true},
		},
	}, nil
}

func (p *Probes) SymmetricNAT(ctx context.Context, cfg probe.ICEConfig) (probe.NATResult, error) {
	p.Calls.Add(1)
	return probe.NATResult{Label: probe.NATAsymmetric, MappedPorts: []int{20000, 20000}}, nil
}

func (p *Probes) Connectivity(ctx context.Context, cfg probe.ICEConfig) (probe.ConnectivityResult, error) {
	p.Calls.Add(1)
	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return probe.ConnectivityResult{}, ctx.Err()
		}
	}
	if p.ConnectivityErr != nil {
		return probe.ConnectivityResult{}, p.ConnectivityErr
	}
	return probe.ConnectivityResult{ObservedPorts: []int{20000, 20001}}, nil
}

func (p *Probes) Throughput(ctx context.Context, cfg probe.ICEConfig) (probe.ThroughputResult, error) {
	p.Calls.Add(1)
	return probe.ThroughputResult{Transactions: 20}, nil
}

func (p *Probes) VideoBandwidth(ctx context.Context, cfg probe.ICEConfig, opts probe.MediaOptions) (probe.BandwidthResult, error) {
	p.Calls.Add(1)
	return probe.BandwidthResult{Stats: probe.BandwidthStats{Mode: probe.BandwidthVideo, PacketsSent: 200, PacketsReceived: 200}}, nil
}

func (p *Probes) AudioBandwidth(ctx context.Context, cfg probe.ICEConfig, opts probe.MediaOptions) (probe.BandwidthResult, error) {
	p.Calls.Add(1)
	return probe.BandwidthResult{Stats: probe.BandwidthStats{Mode: probe.BandwidthAudio, PacketsSent: 100, PacketsReceived: 100}}, nil
}

// Devices is a fixed device list.
type Devices []probe.Device

// DefaultDevices has one camera and one microphone.
var DefaultDevices = Devices{
	{ID: "video0", Kind: probe.DeviceVideo, Label: "video0", Path: "/dev/video0"},
	{ID: "pcmC0D0c", Kind: probe.DeviceAudio, Label: "hw:0,0", Path: "/dev/snd/pcmC0D0c"},
}

func (d Devices) Enumerate(ctx context.Context) ([]probe.Device, error) {
	return d, nil
}
