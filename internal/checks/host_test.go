package checks

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/logging"
	"rtcdoctor/internal/media"
	"rtcdoctor/internal/netprobe"
	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

type missingTools struct{}

func (missingTools) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, errors.New("not installed")
}

func (missingTools) LookPath(name string) (string, error) {
	return "", errors.New("not found")
}

func newHost() *Host {
	fsys := fstest.MapFS{
		"video0":            {Data: []byte{}},
		"snd/pcmC0D0c":      {Data: []byte{}},
		"snd/pcmC0D0p":      {Data: []byte{}},
		"snd/controlC0":     {Data: []byte{}},
		"input/event0":      {Data: []byte{}},
		"bus/usb/001/001":   {Data: []byte{}},
		"disk/by-id/nvme-0": {Data: []byte{}},
	}
	logger := logging.Discard()
	capture := media.NewCapture(media.NewEnumeratorFS("/dev", fsys, logger), missingTools{}, logger)
	return NewHost(capture, netprobe.New(netprobe.Options{Logger: logger}), logger)
}

func TestEnumerate(t *testing.T) {
	devices, err := newHost().Enumerate(context.Background())
	require.NoError(t, err)

	kinds := map[string]int{}
	for _, d := range devices {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[probe.DeviceVideo])
	assert.Equal(t, 1, kinds[probe.DeviceAudio])
}

func TestCapabilities(t *testing.T) {
	caps := newHost().Capabilities()
	assert.False(t, caps.Media, "no capture tools installed")
	assert.True(t, caps.RTC)
}

func TestNetworkChecksNeedServers(t *testing.T) {
	h := newHost()
	_, err := h.AudioBandwidth(context.Background(), probe.ICEConfig{}, probe.MediaOptions{Audio: true})
	assert.Equal(t, pkgerrors.KindICE, pkgerrors.KindOf(err))

	_, err = h.Connectivity(context.Background(), probe.ICEConfig{})
	assert.ErrorIs(t, err, pkgerrors.ErrServerListEmpty)
}
