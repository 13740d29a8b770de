// Package resilience provides circuit breaker and rate limiter primitives
// guarding calls to the model backend, the vector index and client traffic.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nashiklocalkart/localkart/pkg/fn"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripping, reject calls
	StateHalfOpen              // allowing a probe call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	st := b.currentState()
	b.mu.Unlock()
	b.notify(from, st)
	return st
}

// currentState returns state, transitioning open→half-open if timeout elapsed. Must hold mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
	}
	return b.state
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}

// acquire reports whether a call may proceed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	from := b.state
	st := b.currentState()
	var err error
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			b.halfOpenCount++
		}
	}
	b.mu.Unlock()
	b.notify(from, st)
	return err
}

// record updates the breaker with the outcome of a call.
func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	from := b.state
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err != nil)
	return err
}

// Do is the value-returning form of Call.
func Do[T any](b *Breaker, ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	if err := b.acquire(); err != nil {
		var zero T
		return zero, err
	}
	v, err := f(ctx)
	b.record(err != nil)
	return v, err
}

// BreakerStage wraps an fn.Stage with circuit breaker protection.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return fn.FromPair(Do(b, ctx, func(ctx context.Context) (Out, error) {
			return stage(ctx, in).Unwrap()
		}))
	}
}
