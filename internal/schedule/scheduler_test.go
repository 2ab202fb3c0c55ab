package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/logging"
	pkgerrors "rtcdoctor/pkg/errors"
)

func TestStartRunsImmediately(t *testing.T) {
	var runs, prunes atomic.Int32
	s, err := New(
		func(context.Context) error { runs.Add(1); return nil },
		func(context.Context) (int64, error) { prunes.Add(1); return 2, nil },
		logging.Discard(),
	)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), time.Hour))
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return prunes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	st := s.Stats()
	assert.Equal(t, int64(1), st.Runs)
	assert.False(t, st.LastRun.IsZero())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop())
}

func TestRestartAfterStop(t *testing.T) {
	var runs atomic.Int32
	s, err := New(func(context.Context) error { runs.Add(1); return nil }, nil, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), time.Hour))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())

	require.NoError(t, s.Start(context.Background(), time.Hour))
	assert.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestStartTwice(t *testing.T) {
	s, err := New(func(context.Context) error { return nil }, nil, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), time.Hour))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background(), time.Hour))
}

func TestStartRejectsBadInterval(t *testing.T) {
	s, err := New(func(context.Context) error { return nil }, nil, logging.Discard())
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background(), 0))
	assert.False(t, s.IsRunning())
}

func TestTickCountsOutcomes(t *testing.T) {
	var prunes atomic.Int32
	results := []error{nil, errors.New("ice down"), pkgerrors.ErrRunInProgress}
	var i atomic.Int32
	s, err := New(
		func(context.Context) error { return results[i.Add(1)-1] },
		func(context.Context) (int64, error) { prunes.Add(1); return 0, nil },
		logging.Discard(),
	)
	require.NoError(t, err)

	for range results {
		s.tick(context.Background())
	}

	st := s.Stats()
	assert.Equal(t, int64(2), st.Runs)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, int32(2), prunes.Load(), "skipped runs do not prune")
}

func TestTickAfterCancel(t *testing.T) {
	var runs atomic.Int32
	s, err := New(func(context.Context) error { runs.Add(1); return nil }, nil, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.tick(ctx)
	assert.Zero(t, runs.Load())
}
