// Package checks binds the media and network probes of this host into the
// set the troubleshooter runs.
package checks

import (
	"context"
	"log/slog"
	"net"

	"rtcdoctor/internal/media"
	"rtcdoctor/internal/netprobe"
	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/troubleshoot"
)

var (
	_ troubleshoot.Probes           = (*Host)(nil)
	_ troubleshoot.DeviceEnumerator = (*Host)(nil)
)

// Host runs every check against the local machine.
type Host struct {
	capture *media.Capture
	network *netprobe.Prober
	logger  *slog.Logger
}

// NewHost creates a Host.
func NewHost(capture *media.Capture, network *netprobe.Prober, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{capture: capture, network: network, logger: logger}
}

// Enumerate lists the capture devices.
func (h *Host) Enumerate(ctx context.Context) ([]probe.Device, error) {
	return h.capture.Devices().Enumerate(ctx)
}

// Capabilities reports whether capture tools are installed and whether a
// UDP socket can be opened at all.
func (h *Host) Capabilities() troubleshoot.Capabilities {
	caps := troubleshoot.Capabilities{Media: h.capture.Available()}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		h.logger.Warn("udp unavailable, network checks disabled", "error", err)
	} else {
		conn.Close()
		caps.RTC = true
	}
	return caps
}

func (h *Host) Permission(ctx context.Context, deviceKind string, legacy bool, opts probe.MediaOptions) (probe.PermissionResult, error) {
	return h.capture.CheckPermission(ctx, deviceKind, legacy, opts)
}

func (h *Host) Audio(ctx context.Context, opts probe.MediaOptions) (probe.AudioResult, error) {
	return h.capture.Audio(ctx, opts)
}

func (h *Host) Video(ctx context.Context, opts probe.MediaOptions) (probe.VideoResult, error) {
	return h.capture.Video(ctx, opts)
}

func (h *Host) AdvancedCamera(ctx context.Context, opts probe.MediaOptions) (probe.CameraSweep, error) {
	return h.capture.AdvancedCamera(ctx, opts)
}

func (h *Host) SymmetricNAT(ctx context.Context, cfg probe.ICEConfig) (probe.NATResult, error) {
	return h.network.SymmetricNAT(ctx, cfg)
}

func (h *Host) Connectivity(ctx context.Context, cfg probe.ICEConfig) (probe.ConnectivityResult, error) {
	return h.network.Connectivity(ctx, cfg)
}

func (h *Host) Throughput(ctx context.Context, cfg probe.ICEConfig) (probe.ThroughputResult, error) {
	return h.network.Throughput(ctx, cfg)
}

// VideoBandwidth ignores the media options: the burst is synthetic, so
// no camera is held open while it runs.
func (h *Host) VideoBandwidth(ctx context.Context, cfg probe.ICEConfig, _ probe.MediaOptions) (probe.BandwidthResult, error) {
	return h.network.VideoBandwidth(ctx, cfg)
}

func (h *Host) AudioBandwidth(ctx context.Context, cfg probe.ICEConfig, _ probe.MediaOptions) (probe.BandwidthResult, error) {
	return h.network.AudioBandwidth(ctx, cfg)
}
