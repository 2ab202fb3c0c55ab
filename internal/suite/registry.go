// Package suite runs a fixed set of probes as one single-shot run.
package suite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

// ProgressFunc is called each time a probe settles.
type ProgressFunc func(outcome probe.Outcome, settled, total int)

// Option configures a Registry.
type Option func(*Registry)

// WithProbeTimeout bounds every probe's run. Zero disables the deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) { r.probeTimeout = d }
}

// WithProgress registers a callback invoked after each settlement.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Registry) { r.progress = fn }
}

// Registry holds the ordered probes of one run.
type Registry struct {
	logger       *slog.Logger
	probeTimeout time.Duration
	progress     ProgressFunc

	mu      sync.Mutex
	probes  []probe.Probe
	names   map[string]struct{}
	started bool
	running bool
	cancels []context.CancelFunc
}

// New creates an empty registry.
func New(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger: logger,
		names:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add appends p to the run. Probes can only be added before Start.
func (r *Registry) Add(p probe.Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return pkgerrors.ErrInvalidState
	}
	if _, dup := r.names[p.Name()]; dup {
		return fmt.Errorf("%w: %s", pkgerrors.ErrDuplicateProbe, p.Name())
	}
	r.names[p.Name()] = struct{}{}
	r.probes = append(r.probes, p)
	return nil
}

// Start runs every probe concurrently and waits for all of them to settle.
// Outcomes are returned in registration order. If any probe failed, the
// error is the one that settled first. A registry can be started once.
func (r *Registry) Start(ctx context.Context) ([]probe.Outcome, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, pkgerrors.ErrInvalidState
	}
	r.started = true
	r.running = true

	probes := r.probes
	contexts := make([]context.Context, len(probes))
	r.cancels = make([]context.CancelFunc, len(probes))
	for i := range probes {
		if r.probeTimeout > 0 {
			contexts[i], r.cancels[i] = context.WithTimeout(ctx, r.probeTimeout)
		} else {
			contexts[i], r.cancels[i] = context.WithCancel(ctx)
		}
	}
	cancels := r.cancels
	r.mu.Unlock()

	r.logger.Debug("starting probes", "count", len(probes))

	outcomes := make([]probe.Outcome, len(probes))
	var (
		mu      sync.Mutex
		settled int
	)

	// A plain Group: one failing probe must not cancel its siblings.
	var g errgroup.Group
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			defer cancels[i]()

			out := p.Run(contexts[i])
			outcomes[i] = out

			mu.Lock()
			settled++
			current := settled
			mu.Unlock()

			if out.Status == probe.StatusFailed {
				r.logger.Error("probe failed", "probe", out.Name, "kind", out.Kind(), "error", out.Err)
			} else {
				r.logger.Debug("probe passed", "probe", out.Name, "duration", out.Duration())
			}
			if r.progress != nil {
				r.progress(out, current, len(probes))
			}

			if out.Status == probe.StatusFailed {
				return out.Err
			}
			return nil
		})
	}
	err := g.Wait()

	r.mu.Lock()
	r.running = false
	r.cancels = nil
	r.mu.Unlock()

	return outcomes, err
}

// StopAll cancels every probe that has not settled. It does not wait and
// is a no-op when the registry is not running.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.logger.Debug("stopping probes", "count", len(r.cancels))
	for _, cancel := range r.cancels {
		cancel()
	}
}

// Running reports whether Start is in progress.
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Names lists the registered probes in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.probes))
	for i, p := range r.probes {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of registered probes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.probes)
}
