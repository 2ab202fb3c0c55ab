package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

const (
	audioTool = "arecord"
	videoTool = "ffmpeg"

	sampleRate = 16000

	// silenceRMS is roughly -60 dBFS; anything quieter counts as no input.
	silenceRMS = 0.001

	defaultCaptureTime = 2 * time.Second
)

// DefaultResolutions are swept by the advanced camera check.
var DefaultResolutions = [][2]int{
	{320, 240},
	{640, 480},
	{1280, 720},
	{1920, 1080},
}

// Capture implements the media probes on top of arecord and ffmpeg.
type Capture struct {
	devices     *Enumerator
	runner      Runner
	logger      *slog.Logger
	resolutions [][2]int

	// A camera node can only be streamed by one process at a time.
	camera *semaphore.Weighted
}

// NewCapture creates a Capture. A nil runner means ExecRunner.
func NewCapture(devices *Enumerator, runner Runner, logger *slog.Logger) *Capture {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		devices:     devices,
		runner:      runner,
		logger:      logger,
		resolutions: DefaultResolutions,
		camera:      semaphore.NewWeighted(1),
	}
}

// SetResolutions overrides the advanced camera sweep.
func (c *Capture) SetResolutions(res [][2]int) {
	c.resolutions = res
}

// Available reports whether the capture tools are installed.
func (c *Capture) Available() bool {
	_, audioErr := c.runner.LookPath(audioTool)
	_, videoErr := c.runner.LookPath(videoTool)
	return audioErr == nil || videoErr == nil
}

// Devices returns the underlying enumerator.
func (c *Capture) Devices() *Enumerator { return c.devices }

// Audio records from the microphone and measures its level. A silent
// capture fails with the audio timeout error.
func (c *Capture) Audio(ctx context.Context, opts probe.MediaOptions) (probe.AudioResult, error) {
	dev, err := c.devices.Resolve(ctx, probe.DeviceAudio, opts.AudioDevice)
	if err != nil {
		return probe.AudioResult{}, err
	}
	alsa := opts.AudioDevice
	if alsa == "" {
		alsa = dev.Label
	}
	alsa = plugDevice(alsa)

	secs := captureSeconds(opts.CaptureTime)
	out, err := c.runner.Run(ctx, audioTool,
		"-q",
		"-D", alsa,
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(sampleRate),
		"-t", "raw",
		"-d", strconv.Itoa(secs),
	)
	if err != nil {
		return probe.AudioResult{}, classifyToolError(dev.Path, err)
	}

	res := measureLevel(out)
	res.Device = alsa
	c.logger.Debug("audio captured", "device", alsa, "samples", res.Samples, "rms", res.RMS, "peak", res.Peak)

	if res.Samples == 0 || res.RMS < silenceRMS {
		return res, pkgerrors.WithDetail(pkgerrors.KindTimeout, pkgerrors.ErrAudioTimeout, res)
	}
	return res, nil
}

// plugDevice routes a raw hw:C,D name through the plug layer, which
// converts to the mono 16 kHz stream requested. Most capture hardware only
// offers stereo at 44.1 or 48 kHz.
func plugDevice(name string) string {
	if rest, ok := strings.CutPrefix(name, "hw:"); ok {
		return "plughw:" + rest
	}
	return name
}

// Video grabs a single frame from the camera.
func (c *Capture) Video(ctx context.Context, opts probe.MediaOptions) (probe.VideoResult, error) {
	dev, err := c.devices.Resolve(ctx, probe.DeviceVideo, opts.VideoDevice)
	if err != nil {
		return probe.VideoResult{}, err
	}

	const width, height = 640, 480
	n, err := c.grabFrame(ctx, dev.Path, width, height)
	res := probe.VideoResult{Device: dev.Path, Width: width, Height: height, FrameBytes: n}
	if err != nil {
		return res, err
	}
	if n != width*height {
		return res, pkgerrors.Newf(pkgerrors.KindMedia, "short frame from %s: %d bytes", dev.Path, n)
	}
	return res, nil
}

// AdvancedCamera sweeps the configured resolutions. On failure the sweep
// rides in the error detail.
func (c *Capture) AdvancedCamera(ctx context.Context, opts probe.MediaOptions) (probe.CameraSweep, error) {
	dev, err := c.devices.Resolve(ctx, probe.DeviceVideo, opts.VideoDevice)
	if err != nil {
		return probe.CameraSweep{}, err
	}

	sweep := probe.CameraSweep{Device: dev.Path}
	var failed []string
	for _, wh := range c.resolutions {
		if err := ctx.Err(); err != nil {
			return sweep, pkgerrors.WithDetail(pkgerrors.KindCancelled, err, sweep)
		}

		check := probe.ResolutionCheck{Width: wh[0], Height: wh[1]}
		n, err := c.grabFrame(ctx, dev.Path, wh[0], wh[1])
		check.Passed = err == nil && n == wh[0]*wh[1]
		if !check.Passed {
			failed = append(failed, check.String())
			c.logger.Debug("resolution unsupported", "device", dev.Path, "resolution", check.String(), "error", err)
		}
		sweep.Resolutions = append(sweep.Resolutions, check)
	}

	if len(failed) > 0 {
		return sweep, pkgerrors.WithDetail(pkgerrors.KindMedia,
			fmt.Errorf("unsupported resolutions: %s", strings.Join(failed, ", ")), sweep)
	}
	return sweep, nil
}

// grabFrame captures one grayscale frame and returns its size in bytes.
func (c *Capture) grabFrame(ctx context.Context, device string, width, height int) (int, error) {
	if err := c.camera.Acquire(ctx, 1); err != nil {
		return 0, pkgerrors.New(pkgerrors.KindCancelled, err)
	}
	defer c.camera.Release(1)

	out, err := c.runner.Run(ctx, videoTool,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"-",
	)
	if err != nil {
		return 0, classifyToolError(device, err)
	}
	return len(out), nil
}

// measureLevel computes RMS and peak of signed 16-bit little endian
// samples, normalised to [0, 1].
func measureLevel(raw []byte) probe.AudioResult {
	n := len(raw) / 2
	if n == 0 {
		return probe.AudioResult{}
	}

	var sum, peak float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
		sum += s * s
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return probe.AudioResult{
		RMS:     math.Sqrt(sum / float64(n)),
		Peak:    peak,
		Samples: n,
	}
}

func captureSeconds(d time.Duration) int {
	if d <= 0 {
		d = defaultCaptureTime
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// classifyToolError maps tool failures onto error kinds. Capture tools
// report busy or inaccessible devices only on stderr.
func classifyToolError(device string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.New(pkgerrors.KindCancelled, err)
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		stderr := strings.ToLower(cmdErr.Stderr)
		switch {
		case strings.Contains(stderr, "permission denied"):
			return pkgerrors.New(pkgerrors.KindPermissionDenied, &pkgerrors.DeviceError{Path: device, Err: pkgerrors.ErrNoDevicePermission})
		case strings.Contains(stderr, "no such file"), strings.Contains(stderr, "no such device"):
			return pkgerrors.New(pkgerrors.KindDeviceMissing, &pkgerrors.DeviceError{Path: device, Err: pkgerrors.ErrNoDevice})
		}
	}
	return pkgerrors.New(pkgerrors.KindMedia, &pkgerrors.DeviceError{Path: device, Err: err})
}
