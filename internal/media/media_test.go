package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/logging"
	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

func devFS() fstest.MapFS {
	return fstest.MapFS{
		"video0":        {},
		"video1":        {},
		"snd/pcmC0D0c":  {},
		"snd/pcmC0D0p":  {},
		"snd/pcmC1D2c":  {},
		"snd/controlC0": {},
		"null":          {},
	}
}

func testEnumerator() *Enumerator {
	return NewEnumeratorFS("/dev", devFS(), logging.Discard())
}

func TestEnumerate(t *testing.T) {
	devices, err := testEnumerator().Enumerate(context.Background())
	require.NoError(t, err)

	var got []string
	for _, d := range devices {
		got = append(got, d.Kind+" "+d.Label+" "+d.Path)
	}
	assert.Equal(t, []string{
		"videoinput video0 /dev/video0",
		"videoinput video1 /dev/video1",
		"audioinput plughw:0,0 /dev/snd/pcmC0D0c",
		"audioinput plughw:1,2 /dev/snd/pcmC1D2c",
	}, got)
}

func TestEnumerateMissingRoot(t *testing.T) {
	_, err := NewEnumerator(filepath.Join(t.TempDir(), "nope"), logging.Discard()).Enumerate(context.Background())
	var devErr *pkgerrors.DeviceError
	assert.ErrorAs(t, err, &devErr)
}

func TestResolve(t *testing.T) {
	e := testEnumerator()
	ctx := context.Background()

	tests := []struct {
		kind, name, want string
	}{
		{probe.DeviceVideo, "", "/dev/video0"},
		{probe.DeviceVideo, "/dev/video1", "/dev/video1"},
		{probe.DeviceVideo, "video1", "/dev/video1"},
		{probe.DeviceAudio, "default", "/dev/snd/pcmC0D0c"},
		{probe.DeviceAudio, "", "/dev/snd/pcmC0D0c"},
		{probe.DeviceAudio, "hw:1,2", "/dev/snd/pcmC1D2c"},
		{probe.DeviceAudio, "plughw:1,2", "/dev/snd/pcmC1D2c"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.name, func(t *testing.T) {
			d, err := e.Resolve(ctx, tt.kind, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Path)
		})
	}

	_, err := e.Resolve(ctx, probe.DeviceVideo, "video9")
	assert.Equal(t, pkgerrors.KindDeviceMissing, pkgerrors.KindOf(err))
	assert.ErrorIs(t, err, pkgerrors.ErrNoDevice)

	_, err = e.Resolve(ctx, probe.DeviceAudio, "hw:3")
	assert.Equal(t, pkgerrors.KindDeviceMissing, pkgerrors.KindOf(err))
}

func TestCheckPermission(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "video0"), nil, 0o600))
	c := NewCapture(NewEnumerator(root, logging.Discard()), &fakeRunner{}, logging.Discard())

	for _, legacy := range []bool{false, true} {
		res, err := c.CheckPermission(context.Background(), probe.DeviceVideo, legacy, probe.MediaOptions{})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "video0"), res.Device)
		assert.Equal(t, legacy, res.Legacy)
	}

	_, err := c.CheckPermission(context.Background(), probe.DeviceAudio, false, probe.MediaOptions{})
	assert.Equal(t, pkgerrors.KindDeviceMissing, pkgerrors.KindOf(err))
}

func TestCheckPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "video0"), nil, 0o000))
	c := NewCapture(NewEnumerator(root, logging.Discard()), &fakeRunner{}, logging.Discard())

	for _, legacy := range []bool{false, true} {
		_, err := c.CheckPermission(context.Background(), probe.DeviceVideo, legacy, probe.MediaOptions{})
		assert.Equal(t, pkgerrors.KindPermissionDenied, pkgerrors.KindOf(err))
		assert.ErrorIs(t, err, pkgerrors.ErrNoDevicePermission)
	}
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	run   func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()
	if f.run == nil {
		return nil, errors.New("not scripted")
	}
	return f.run(name, args)
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if name == audioTool {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("missing")
}

func samples(values ...int16) []byte {
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}
	return raw
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// frameRunner returns a full grayscale frame for supported sizes.
func frameRunner(supported ...string) func(string, []string) ([]byte, error) {
	return func(name string, args []string) ([]byte, error) {
		size := argAfter(args, "-video_size")
		for _, s := range supported {
			if s == size {
				var w, h int
				fmt.Sscanf(size, "%dx%d", &w, &h)
				return make([]byte, w*h), nil
			}
		}
		return nil, &CommandError{Name: name, Stderr: "Invalid argument", Err: errors.New("exit status 1")}
	}
}

func TestAudioLevel(t *testing.T) {
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		assert.Equal(t, audioTool, name)
		assert.Equal(t, "plughw:0,0", argAfter(args, "-D"))
		assert.Equal(t, "3", argAfter(args, "-d"))
		return samples(16384, -16384, 16384, -16384), nil
	}}
	c := NewCapture(testEnumerator(), runner, logging.Discard())

	res, err := c.Audio(context.Background(), probe.MediaOptions{CaptureTime: 2500 * time.Millisecond})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.RMS, 1e-9)
	assert.InDelta(t, 0.5, res.Peak, 1e-9)
	assert.Equal(t, 4, res.Samples)
}

func TestAudioUsesPlugLayer(t *testing.T) {
	tests := []struct {
		device string
		want   string
	}{
		{"", "plughw:0,0"},
		{"hw:1,2", "plughw:1,2"},
		{"plughw:1,2", "plughw:1,2"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var got string
			runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
				got = argAfter(args, "-D")
				return samples(16384, -16384), nil
			}}
			c := NewCapture(testEnumerator(), runner, logging.Discard())

			res, err := c.Audio(context.Background(), probe.MediaOptions{AudioDevice: tt.device})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, res.Device)
		})
	}
	assert.Equal(t, "default", plugDevice("default"))
}

func TestAudioSilenceIsTimeout(t *testing.T) {
	runner := &fakeRunner{run: func(string, []string) ([]byte, error) {
		return samples(0, 0, 1, -1), nil
	}}
	c := NewCapture(testEnumerator(), runner, logging.Discard())

	_, err := c.Audio(context.Background(), probe.MediaOptions{AudioDevice: "default"})
	assert.Equal(t, pkgerrors.KindTimeout, pkgerrors.KindOf(err))
	assert.ErrorIs(t, err, pkgerrors.ErrAudioTimeout)
}

func TestAudioToolErrors(t *testing.T) {
	tests := []struct {
		stderr string
		want   pkgerrors.Kind
	}{
		{"arecord: main:831: audio open error: Permission denied", pkgerrors.KindPermissionDenied},
		{"arecord: main:831: audio open error: No such file or directory", pkgerrors.KindDeviceMissing},
		{"arecord: main:831: audio open error: Device or resource busy", pkgerrors.KindMedia},
	}
	for _, tt := range tests {
		runner := &fakeRunner{run: func(name string, _ []string) ([]byte, error) {
			return nil, &CommandError{Name: name, Stderr: tt.stderr, Err: errors.New("exit status 1")}
		}}
		c := NewCapture(testEnumerator(), runner, logging.Discard())
		_, err := c.Audio(context.Background(), probe.MediaOptions{})
		assert.Equal(t, tt.want, pkgerrors.KindOf(err), tt.stderr)
	}
}

func TestVideo(t *testing.T) {
	c := NewCapture(testEnumerator(), &fakeRunner{run: frameRunner("640x480")}, logging.Discard())
	res, err := c.Video(context.Background(), probe.MediaOptions{VideoDevice: "/dev/video1"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/video1", res.Device)
	assert.Equal(t, 640*480, res.FrameBytes)

	short := NewCapture(testEnumerator(), &fakeRunner{run: func(string, []string) ([]byte, error) {
		return make([]byte, 10), nil
	}}, logging.Discard())
	_, err = short.Video(context.Background(), probe.MediaOptions{})
	assert.Equal(t, pkgerrors.KindMedia, pkgerrors.KindOf(err))
}

func TestAdvancedCameraSweep(t *testing.T) {
	c := NewCapture(testEnumerator(), &fakeRunner{run: frameRunner("320x240", "640x480", "1280x720", "1920x1080")}, logging.Discard())
	sweep, err := c.AdvancedCamera(context.Background(), probe.MediaOptions{})
	require.NoError(t, err)
	require.Len(t, sweep.Resolutions, 4)
	for _, r := range sweep.Resolutions {
		assert.True(t, r.Passed, r.String())
	}
}

func TestAdvancedCameraCustomResolutions(t *testing.T) {
	var sizes []string
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		sizes = append(sizes, argAfter(args, "-video_size"))
		return frameRunner("800x600")(name, args)
	}}
	c := NewCapture(testEnumerator(), runner, logging.Discard())
	c.SetResolutions([][2]int{{800, 600}})

	sweep, err := c.AdvancedCamera(context.Background(), probe.MediaOptions{})
	require.NoError(t, err)
	assert.Equal(t, []probe.ResolutionCheck{{Width: 800, Height: 600, Passed: true}}, sweep.Resolutions)
	assert.Equal(t, []string{"800x600"}, sizes)
}

func TestAdvancedCameraFailureCarriesSweep(t *testing.T) {
	c := NewCapture(testEnumerator(), &fakeRunner{run: frameRunner("320x240", "640x480")}, logging.Discard())
	_, err := c.AdvancedCamera(context.Background(), probe.MediaOptions{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindMedia, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "1280x720, 1920x1080")

	sweep, ok := pkgerrors.DetailOf(err).(probe.CameraSweep)
	require.True(t, ok)
	assert.Equal(t, []probe.ResolutionCheck{
		{Width: 320, Height: 240, Passed: true},
		{Width: 640, Height: 480, Passed: true},
		{Width: 1280, Height: 720, Passed: false},
		{Width: 1920, Height: 1080, Passed: false},
	}, sweep.Resolutions)
}

func TestCameraIsExclusive(t *testing.T) {
	var active, maxActive atomic.Int32
	runner := &fakeRunner{run: func(name string, args []string) ([]byte, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return frameRunner("640x480", "320x240", "1280x720", "1920x1080")(name, args)
	}}
	c := NewCapture(testEnumerator(), runner, logging.Discard())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = c.Video(context.Background(), probe.MediaOptions{}) }()
	go func() { defer wg.Done(); _, _ = c.AdvancedCamera(context.Background(), probe.MediaOptions{}) }()
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestAvailable(t *testing.T) {
	c := NewCapture(testEnumerator(), &fakeRunner{}, logging.Discard())
	assert.True(t, c.Available())
}

func TestCaptureSeconds(t *testing.T) {
	assert.Equal(t, 2, captureSeconds(0))
	assert.Equal(t, 1, captureSeconds(100*time.Millisecond))
	assert.Equal(t, 3, captureSeconds(2500*time.Millisecond))
}
