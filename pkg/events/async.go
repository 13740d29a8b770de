package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by Async.Publish when the buffer is full.
var ErrQueueFull = errors.New("events: queue full")

// Async publishes through a buffered queue drained by one goroutine, so a slow
// bus never holds up a request. Failures are logged.
type Async struct {
	next    Publisher
	log     *slog.Logger
	timeout time.Duration
	queue   chan Event
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewAsync starts the drain goroutine. Each publish gets its own timeout.
func NewAsync(next Publisher, buffer int, timeout time.Duration, log *slog.Logger) *Async {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{next: next, log: log, timeout: timeout, queue: make(chan Event, buffer)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, e); err != nil {
			a.log.Warn("event publish failed", "type", e.Type, "id", e.ID, "error", err)
		}
		cancel()
	}
}

// Publish enqueues e without blocking.
func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("events: publisher closed")
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.log.Warn("event dropped, queue full", "type", e.Type, "id", e.ID)
		return ErrQueueFull
	}
}

// Close flushes queued events and closes the underlying publisher.
func (a *Async) Close() error {
	var err error
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.wg.Wait()
		err = a.next.Close()
	})
	return err
}
