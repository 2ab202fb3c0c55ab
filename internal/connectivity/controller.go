// Package connectivity retries the relay connectivity check until one of its
// observed ports lands in the required range.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rtcdoctor/internal/probe"
	pkgerrors "rtcdoctor/pkg/errors"
)

// DefaultMaxAttempts is the total attempt budget.
const DefaultMaxAttempts = 20

// State of the retry controller.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateAccepted
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateAccepted:
		return "accepted"
	default:
		return "exhausted"
	}
}

// AttemptFunc performs one connectivity attempt.
type AttemptFunc = probe.Func[probe.ConnectivityResult]

// Option configures a Controller.
type Option func(*Controller)

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithRetryInterval spaces attempts at least d apart. Zero means no pacing.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller supervises the connectivity check. Every attempt is a fresh
// probe started through probe.Start.
type Controller struct {
	attempt     AttemptFunc
	maxAttempts int
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
}

// New creates a controller around attempt.
func New(attempt AttemptFunc, opts ...Option) *Controller {
	c := &Controller{
		attempt:     attempt,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many attempts have been started.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// MaxAttempts returns the attempt budget.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Probe wraps the controller as a single probe so it can be registered
// with a suite before the run starts.
func (c *Controller) Probe(name string, hooks ...probe.Hook) probe.Probe {
	return probe.New(name, c.Run, hooks...)
}

// Run drives the state machine to Accepted or Exhausted. A controller can
// run once.
func (c *Controller) Run(ctx context.Context) (probe.ConnectivityResult, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return probe.ConnectivityResult{}, pkgerrors.ErrInvalidState
	}
	c.state = StateAttempting
	c.mu.Unlock()

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.exhaust(probe.ConnectivityResult{}, pkgerrors.New(pkgerrors.KindCancelled, err))
			}
		}

		n := c.nextAttempt()
		task := probe.Start(ctx, probe.New(fmt.Sprintf("connectivity-%d", n), c.attempt))
		out, err := task.Wait(ctx)
		if err != nil {
			task.Cancel()
			return c.exhaust(probe.ConnectivityResult{}, pkgerrors.New(pkgerrors.KindCancelled, err))
		}

		if !out.Passed() {
			return c.exhaust(probe.ConnectivityResult{}, out.Err)
		}

		res, _ := probe.Value[probe.ConnectivityResult](out)
		res.Attempts = n

		if HasLowPort(res.ObservedPorts) {
			c.setState(StateAccepted)
			c.logger.Debug("connectivity accepted", "attempt", n, "ports", res.ObservedPorts)
			return res, nil
		}

		if n >= c.maxAttempts {
			c.logger.Error("connectivity port requirement unmet", "attempts", n, "ports", res.ObservedPorts)
			return c.exhaust(res, pkgerrors.WithDetail(pkgerrors.KindPortRequirement, pkgerrors.ErrPortRequirement, res))
		}

		c.logger.Warn("no port in required range, retrying",
			"attempt", n,
			"max_attempts", c.maxAttempts,
			"ports", res.ObservedPorts,
			"buckets", Buckets(res.ObservedPorts),
		)
	}
}

func (c *Controller) nextAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	return c.attempts
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) exhaust(res probe.ConnectivityResult, err error) (probe.ConnectivityResult, error) {
	c.setState(StateExhausted)
	return res, err
}
