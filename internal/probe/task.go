package probe

import (
	"context"
)

// Task is a probe that is already running. It begins work as soon as it is
// created; there is no separate start call.
type Task struct {
	probe  Probe
	cancel context.CancelFunc
	done   chan struct{}

	outcome Outcome
}

// Start launches p in its own goroutine.
func Start(ctx context.Context, p Probe) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		probe:  p,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer cancel()
		t.outcome = p.Run(ctx)
		close(t.done)
	}()
	return t
}

// Name returns the underlying probe's name.
func (t *Task) Name() string { return t.probe.Name() }

// Done is closed once the probe has settled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the probe settles or ctx ends.
func (t *Task) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{Name: t.Name(), Status: StatusPending}, ctx.Err()
	}
}

// Outcome returns the settled outcome, or false while still pending.
func (t *Task) Outcome() (Outcome, bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return Outcome{Name: t.Name(), Status: StatusPending}, false
	}
}

// Cancel asks the probe to stop. It does not wait.
func (t *Task) Cancel() { t.cancel() }
