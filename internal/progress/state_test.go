package progress

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "rtcdoctor/pkg/errors"
)

func TestNewStartsCheckingInCanonicalOrder(t *testing.T) {
	s := New(Bandwidth, Microphone, Connectivity)

	assert.Equal(t, []Dimension{Microphone, Connectivity, Bandwidth}, s.Dimensions())
	for _, item := range s.Snapshot() {
		assert.True(t, item.Checking, item.Dimension)
	}
	_, ok := s.Get(Camera)
	assert.False(t, ok)
	assert.False(t, s.Settled())
}

func TestSettleIsFirstWriteWins(t *testing.T) {
	s := New(Throughput)

	assert.True(t, s.Settle(Throughput, Passed()))
	assert.False(t, s.Settle(Throughput, Failed(errors.New("late"))))

	e, _ := s.Get(Throughput)
	assert.False(t, e.Checking)
	assert.True(t, e.Success)
	assert.Empty(t, e.Error)
	assert.True(t, s.Settled())
}

func TestSettleUnplannedDimension(t *testing.T) {
	s := New(Microphone)
	assert.False(t, s.Settle(Camera, Passed()))
}

func TestConcurrentSettleSingleWinner(t *testing.T) {
	s := New(Connectivity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Settle(Connectivity, Passed()) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestFailedFlags(t *testing.T) {
	tests := []struct {
		kind                          pkgerrors.Kind
		noDevice, port, ice, mediaErr bool
	}{
		{pkgerrors.KindPermissionDenied, true, false, false, false},
		{pkgerrors.KindPortRequirement, false, true, false, false},
		{pkgerrors.KindICE, false, false, true, false},
		{pkgerrors.KindMedia, false, false, false, true},
		{pkgerrors.KindGeneric, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := Failed(pkgerrors.Newf(tt.kind, "boom"))
			assert.False(t, e.Success)
			assert.Equal(t, tt.noDevice, e.NoDevice())
			assert.Equal(t, tt.port, e.PortError())
			assert.Equal(t, tt.ice, e.ICEError())
			assert.Equal(t, tt.mediaErr, e.MediaError())
		})
	}
}

func TestFailedCarriesDetail(t *testing.T) {
	e := Failed(pkgerrors.WithDetail(pkgerrors.KindMedia, errors.New("loss"), map[string]int{"lost": 3}))
	assert.Equal(t, map[string]int{"lost": 3}, e.Detail)
	assert.Equal(t, "loss (media)", e.Error)
}

func TestSetDetail(t *testing.T) {
	s := New(CameraAdvanced, Bandwidth, Camera)

	assert.False(t, s.SetDetail(Camera, "nope"))
	assert.True(t, s.SetDetail(CameraAdvanced, []string{"640x480"}))

	// detail set before settling survives a settle without detail
	require.True(t, s.Settle(CameraAdvanced, Passed()))
	e, _ := s.Get(CameraAdvanced)
	assert.Equal(t, []string{"640x480"}, e.Detail)

	// and may still change afterwards
	require.True(t, s.Settle(Bandwidth, Passed()))
	assert.True(t, s.SetDetail(Bandwidth, 42))
	e, _ = s.Get(Bandwidth)
	assert.Equal(t, 42, e.Detail)
	assert.False(t, e.Checking)
}

func TestCloseSkipsWritesAndReleasesSubscribers(t *testing.T) {
	s := New(Microphone, Volume)
	ch, cancel := s.Subscribe(4)
	defer cancel()

	require.True(t, s.Settle(Microphone, Passed()))
	change := <-ch
	assert.Equal(t, Microphone, change.Dimension)
	assert.True(t, change.Success)

	s.Close()
	assert.True(t, s.Closed())
	assert.False(t, s.Settle(Volume, Passed()))

	_, open := <-ch
	assert.False(t, open)

	e, _ := s.Get(Volume)
	assert.True(t, e.Checking)

	late, _ := s.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
	s.Close()
}

func TestSubscribeCancel(t *testing.T) {
	s := New(Microphone)
	ch, cancel := s.Subscribe(0)
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.True(t, s.Settle(Microphone, Passed()))
}

func TestSnapshotJSON(t *testing.T) {
	s := New(SymmetricNAT)
	s.Settle(SymmetricNAT, Entry{Success: true, Label: "nat.asymmetric"})

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"dimension":"symmetricNat","checking":false,"success":true,"label":"nat.asymmetric"}]`, string(raw))
}
