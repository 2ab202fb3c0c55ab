package suite

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdoctor/internal/logging"
	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

func passing(name string, wait <-chan struct{}) probe.Probe {
	return probe.New(name, func(ctx context.Context) (string, error) {
		if wait != nil {
			<-wait
		}
		return name, nil
	})
}

func failing(name string, kind pkgerrors.Kind, wait <-chan struct{}) probe.Probe {
	return probe.New(name, func(ctx context.Context) (string, error) {
		if wait != nil {
			<-wait
		}
		return "", pkgerrors.Newf(kind, "%s broke", name)
	})
}

func blocking(name string) probe.Probe {
	return probe.New(name, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func TestStartReturnsOutcomesInRegistrationOrder(t *testing.T) {
	r := New(logging.Discard())
	slow := make(chan struct{})
	require.NoError(t, r.Add(passing("first", slow)))
	require.NoError(t, r.Add(passing("second", nil)))
	require.NoError(t, r.Add(passing("third", nil)))

	time.AfterFunc(20*time.Millisecond, func() { close(slow) })
	outcomes, err := r.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, name := range []string{"first", "second", "third"} {
		assert.Equal(t, name, outcomes[i].Name)
		assert.True(t, outcomes[i].Passed())
	}
	assert.False(t, r.Running())
}

func TestStartFailsWithFirstSettledFailure(t *testing.T) {
	r := New(logging.Discard())
	late := make(chan struct{})
	require.NoError(t, r.Add(failing("registered-first", pkgerrors.KindMedia, late)))
	require.NoError(t, r.Add(failing("settles-first", pkgerrors.KindICE, nil)))
	require.NoError(t, r.Add(passing("ok", nil)))

	var settledOrder []string
	var mu sync.Mutex
	r.progress = func(out probe.Outcome, settled, total int) {
		mu.Lock()
		settledOrder = append(settledOrder, out.Name)
		mu.Unlock()
		if out.Name == "settles-first" {
			time.AfterFunc(50*time.Millisecond, func() { close(late) })
		}
	}

	outcomes, err := r.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindICE, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "settles-first")

	// every probe still ran to completion
	require.Len(t, outcomes, 3)
	assert.Equal(t, probe.StatusFailed, outcomes[0].Status)
	assert.True(t, outcomes[2].Passed())
	assert.Len(t, settledOrder, 3)
}

func TestStartIsSingleShot(t *testing.T) {
	r := New(logging.Discard())
	require.NoError(t, r.Add(passing("only", nil)))

	_, err := r.Start(context.Background())
	require.NoError(t, err)

	_, err = r.Start(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	assert.ErrorIs(t, r.Add(passing("late", nil)), pkgerrors.ErrInvalidState)
	assert.False(t, r.Running())
}

func TestAddRejectsDuplicates(t *testing.T) {
	r := New(logging.Discard())
	require.NoError(t, r.Add(passing("audio", nil)))
	assert.ErrorIs(t, r.Add(passing("audio", nil)), pkgerrors.ErrDuplicateProbe)
	assert.Equal(t, []string{"audio"}, r.Names())
	assert.Equal(t, 1, r.Len())
}

func TestEmptyRegistryResolves(t *testing.T) {
	outcomes, err := New(logging.Discard()).Start(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestStopAllCancelsPendingProbes(t *testing.T) {
	r := New(logging.Discard())
	require.NoError(t, r.Add(blocking("a")))
	require.NoError(t, r.Add(blocking("b")))

	// not running yet: no-op
	r.StopAll()

	done := make(chan struct{})
	var outcomes []probe.Outcome
	var err error
	go func() {
		outcomes, err = r.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	r.StopAll()
	r.StopAll()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry did not settle after StopAll")
	}
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindCancelled, pkgerrors.KindOf(err))
	for _, out := range outcomes {
		assert.Equal(t, pkgerrors.KindCancelled, out.Kind())
	}
	r.StopAll()
}

func TestProbeTimeout(t *testing.T) {
	r := New(logging.Discard(), WithProbeTimeout(10*time.Millisecond))
	require.NoError(t, r.Add(blocking("stuck")))

	outcomes, err := r.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindCancelled, outcomes[0].Kind())
}

func TestProgressCounts(t *testing.T) {
	var calls atomic.Int32
	var last atomic.Int32
	r := New(logging.Discard(), WithProgress(func(_ probe.Outcome, settled, total int) {
		calls.Add(1)
		if settled == total {
			last.Store(int32(total))
		}
	}))
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Add(passing(name, nil)))
	}
	_, err := r.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int32(4), last.Load())
}
