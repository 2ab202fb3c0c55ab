package probe

import (
	"time"

	"rtcdoctor/internal/ice"
)

// MediaOptions is the configuration subset handed to media probes.
type MediaOptions struct {
	Audio        bool          `json:"audio" yaml:"audio"`
	Video        bool          `json:"video" yaml:"video"`
	AudioDevice  string        `json:"audio_device,omitempty" yaml:"audio_device,omitempty"`
	VideoDevice  string        `json:"video_device,omitempty" yaml:"video_device,omitempty"`
	ScreenStream bool          `json:"screen_stream,omitempty" yaml:"screen_stream,omitempty"`
	CaptureTime  time.Duration `json:"capture_time,omitempty" yaml:"capture_time,omitempty"`
}

// ICEConfig is the configuration subset handed to network probes.
type ICEConfig struct {
	Servers []ice.Server
	// RelayOnly restricts candidate gathering to relay servers when any
	// are configured.
	RelayOnly bool
}

// Relays returns the TURN servers, or every server if there are none.
func (c ICEConfig) Relays() []ice.Server {
	var relays []ice.Server
	for _, srv := range c.Servers {
		if srv.IsRelay() {
			relays = append(relays, srv)
		}
	}
	if len(relays) == 0 || !c.RelayOnly {
		return c.Servers
	}
	return relays
}

// Device describes one capture device.
type Device struct {
	ID    string `json:"id" yaml:"id"`
	Kind  string `json:"kind" yaml:"kind"` // DeviceAudio or DeviceVideo
	Label string `json:"label" yaml:"label"`
	Path  string `json:"path" yaml:"path"`
}
