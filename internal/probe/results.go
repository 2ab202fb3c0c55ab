package probe

import (
	"fmt"
	"time"
)

// Device kinds.
const (
	DeviceAudio = "audioinput"
	DeviceVideo = "videoinput"
)

// PermissionResult is produced by the microphone and camera permission checks.
type PermissionResult struct {
	DeviceKind string `json:"device_kind" yaml:"device_kind"`
	Device     string `json:"device" yaml:"device"`
	Legacy     bool   `json:"legacy,omitempty" yaml:"legacy,omitempty"`
}

// AudioResult is produced by the microphone level check.
type AudioResult struct {
	Device  string  `json:"device" yaml:"device"`
	RMS     float64 `json:"rms" yaml:"rms"`
	Peak    float64 `json:"peak" yaml:"peak"`
	Samples int     `json:"samples" yaml:"samples"`
}

// VideoResult is produced by the camera capture check.
type VideoResult struct {
	Device     string `json:"device" yaml:"device"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	FrameBytes int    `json:"frame_bytes" yaml:"frame_bytes"`
}

// ResolutionCheck is one entry of the camera resolution sweep.
type ResolutionCheck struct {
	Width  int  `json:"width" yaml:"width"`
	Height int  `json:"height" yaml:"height"`
	Passed bool `json:"passed" yaml:"passed"`
}

func (r ResolutionCheck) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// CameraSweep is the advanced camera payload. It rides in the error detail
// when the sweep fails.
type CameraSweep struct {
	Device      string            `json:"device" yaml:"device"`
	Resolutions []ResolutionCheck `json:"resolutions" yaml:"resolutions"`
}

// NAT classification labels. Only NATAsymmetric is a good result.
const (
	NATAsymmetric = "nat.asymmetric"
	NATSymmetric  = "nat.symmetric"
	NATNoSrflx    = "nat.noSrflx"
	NATError      = "nat.error"
)

// NATResult is produced by the NAT symmetry check.
type NATResult struct {
	Label       string `json:"label" yaml:"label"`
	MappedPorts []int  `json:"mapped_ports,omitempty" yaml:"mapped_ports,omitempty"`
}

// Good reports whether the label counts as a pass.
func (r NATResult) Good() bool {
	return r.Label == NATAsymmetric
}

// Candidate types.
const (
	CandidateHost  = "host"
	CandidateSrflx = "srflx"
	CandidateRelay = "relay"
)

// Candidate is one gathered connection candidate.
type Candidate struct {
	Type    string `json:"type" yaml:"type"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
	Server  string `json:"server,omitempty" yaml:"server,omitempty"`
}

// ConnectivityResult is produced by one relay connectivity attempt.
type ConnectivityResult struct {
	ObservedPorts []int       `json:"observed_ports" yaml:"observed_ports"`
	Candidates    []Candidate `json:"candidates" yaml:"candidates"`
	Attempts      int         `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// ThroughputResult is produced by the throughput check.
type ThroughputResult struct {
	Transactions int           `json:"transactions" yaml:"transactions"`
	Lost         int           `json:"lost" yaml:"lost"`
	AverageRTT   time.Duration `json:"average_rtt" yaml:"average_rtt"`
	MaxRTT       time.Duration `json:"max_rtt" yaml:"max_rtt"`
	BytesPerSec  float64       `json:"bytes_per_sec" yaml:"bytes_per_sec"`
}

// Bandwidth modes.
const (
	BandwidthAudio = "audio"
	BandwidthVideo = "video"
)

// BandwidthStats are the measurements of a bandwidth check. Partial stats
// ride in the error detail when the check fails.
type BandwidthStats struct {
	Mode            string        `json:"mode" yaml:"mode"`
	PacketsSent     int           `json:"packets_sent" yaml:"packets_sent"`
	PacketsReceived int           `json:"packets_received" yaml:"packets_received"`
	PacketLoss      float64       `json:"packet_loss" yaml:"packet_loss"`
	AverageRTT      time.Duration `json:"average_rtt" yaml:"average_rtt"`
	Jitter          time.Duration `json:"jitter" yaml:"jitter"`
	BitrateKbps     float64       `json:"bitrate_kbps" yaml:"bitrate_kbps"`
}

// BandwidthResult is produced by the audio and video bandwidth checks.
type BandwidthResult struct {
	Stats BandwidthStats `json:"stats" yaml:"stats"`
}
