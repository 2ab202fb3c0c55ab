// Package probe defines the contract every diagnostic check satisfies and
// the typed results they produce.
package probe

import (
	"context"
	"sync"
	"time"

	pkgerrors "rtcdoctor/pkg/errors"
)

// Status is the lifecycle state of a probe.
type Status string

const (
	StatusPending Status = "pending"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
)

// Outcome is the terminal result of a probe. Err is always a
// *pkgerrors.ProbeError when Status is StatusFailed.
type Outcome struct {
	Name       string
	Status     Status
	Payload    any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Passed reports whether the probe succeeded.
func (o Outcome) Passed() bool {
	return o.Status == StatusPassed
}

// Duration is the wall time the probe ran for.
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Kind returns the failure classification, or "" for a passed probe.
func (o Outcome) Kind() pkgerrors.Kind {
	return pkgerrors.KindOf(o.Err)
}

// Probe is one independent diagnostic check.
//
// Run blocks until the check settles or ctx is cancelled. A probe settles
// exactly once; calling Run again returns the same Outcome.
type Probe interface {
	Name() string
	Run(ctx context.Context) Outcome
}

// Hook observes a probe's settlement. Hooks run before Run returns, so
// whoever waits on the probe sees every hook's side effects.
type Hook func(Outcome)

// Func is the typed body of a probe.
type Func[T any] func(ctx context.Context) (T, error)

type check[T any] struct {
	name  string
	run   Func[T]
	hooks []Hook

	once    sync.Once
	outcome Outcome
}

// New builds a Probe from a typed run function.
func New[T any](name string, run Func[T], hooks ...Hook) Probe {
	return &check[T]{name: name, run: run, hooks: hooks}
}

func (c *check[T]) Name() string { return c.name }

func (c *check[T]) Run(ctx context.Context) Outcome {
	c.once.Do(func() {
		c.outcome = c.settle(ctx)
		for _, hook := range c.hooks {
			hook(c.outcome)
		}
	})
	return c.outcome
}

func (c *check[T]) settle(ctx context.Context) Outcome {
	out := Outcome{Name: c.name, StartedAt: time.Now()}

	var (
		payload T
		err     = ctx.Err()
	)
	if err == nil {
		payload, err = c.run(ctx)
	}
	out.FinishedAt = time.Now()

	if err != nil {
		// A probe that gave up because its context ended is cancelled,
		// whatever error it surfaced on the way out.
		if ctx.Err() != nil && pkgerrors.KindOf(err) == pkgerrors.KindGeneric {
			err = pkgerrors.WithDetail(pkgerrors.KindCancelled, err, pkgerrors.DetailOf(err))
		}
		out.Status = StatusFailed
		out.Err = pkgerrors.Tag(c.name, err)
		return out
	}

	out.Status = StatusPassed
	out.Payload = payload
	return out
}

// Value extracts a typed payload from an outcome.
func Value[T any](o Outcome) (T, bool) {
	v, ok := o.Payload.(T)
	return v, ok
}
