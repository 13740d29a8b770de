package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/engine/semantic"
	"github.com/nashiklocalkart/localkart/pkg/events"
	"github.com/nashiklocalkart/localkart/pkg/fn"
	"github.com/nashiklocalkart/localkart/pkg/natsutil"
	"github.com/nashiklocalkart/localkart/pkg/resilience"
)

// DLQSubject receives events the indexer gave up on.
const DLQSubject = "localkart.indexer.dlq"

var errNotVendor = errors.New("indexer: not a vendor event")

// applier is the part of semantic.Index the worker drives.
type applier interface {
	Apply(ctx context.Context, v domain.Vendor) (semantic.Action, error)
}

// DeadLetter is what lands on DLQSubject.
type DeadLetter struct {
	Event  events.Event `json:"event"`
	Error  string       `json:"error"`
	Failed time.Time    `json:"failedAt"`
}

type worker struct {
	pipeline fn.Stage[events.Event, semantic.Action]
	dlq      func(context.Context, DeadLetter) error
	timeout  time.Duration
	log      *slog.Logger
}

// vendorOf pulls the vendor snapshot out of an event.
var vendorOf fn.Stage[events.Event, domain.Vendor] = func(_ context.Context, e events.Event) fn.Result[domain.Vendor] {
	if e.Vendor == nil {
		return fn.Err[domain.Vendor](errNotVendor)
	}
	return fn.Ok(*e.Vendor)
}

// newPipeline composes vendor -> decide/embed/store. The store side is
// retried, and the breaker stops hammering Qdrant or Gemini while they are down.
func newPipeline(ix applier, retry fn.RetryOpts, breaker *resilience.Breaker) fn.Stage[events.Event, semantic.Action] {
	var apply fn.Stage[domain.Vendor, semantic.Action] = func(ctx context.Context, v domain.Vendor) fn.Result[semantic.Action] {
		start := time.Now()
		defer mApplyDur.Since(start)
		return fn.FromPair(ix.Apply(ctx, v))
	}
	return fn.Then(
		fn.TracedStage("indexer.vendor", vendorOf),
		fn.TracedStage("indexer.apply", fn.RetryStage(retry, resilience.BreakerStage(breaker, apply))),
	)
}

func newWorker(ix applier, cfg Config, dlq func(context.Context, DeadLetter) error, log *slog.Logger) *worker {
	if log == nil {
		log = slog.Default()
	}
	bo := cfg.Breaker
	bo.OnStateChange = func(from, to resilience.State) {
		mBreakerOpen.Set(0)
		if to == resilience.StateOpen {
			mBreakerOpen.Set(1)
		}
		log.Warn("indexer: breaker state change", "from", from.String(), "to", to.String())
	}
	return &worker{
		pipeline: newPipeline(ix, cfg.Retry, resilience.NewBreaker(bo)),
		dlq:      dlq,
		timeout:  cfg.Timeout,
		log:      log,
	}
}

// handle runs one event through the pipeline. Failures go to the DLQ.
func (w *worker) handle(ctx context.Context, e events.Event) {
	mEvents(string(e.Type)).Inc()
	mInFlight.Inc()
	defer mInFlight.Dec()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	act, err := w.pipeline(ctx, e).Unwrap()
	switch {
	case errors.Is(err, errNotVendor):
		mActions(string(semantic.ActionSkip)).Inc()
		w.log.Debug("indexer: ignoring event", "type", e.Type, "id", e.ID)
		return
	case err != nil:
		mErrors.Inc()
		w.log.Error("indexer: apply failed", "type", e.Type, "id", e.ID, "key", e.Key(), "error", err)
		w.deadLetter(ctx, e, err)
		return
	}
	mActions(string(act)).Inc()
	w.log.Info("indexer: applied", "type", e.Type, "vendor_id", e.Vendor.ID, "status", e.Vendor.Status, "action", act)
}

func (w *worker) deadLetter(ctx context.Context, e events.Event, cause error) {
	if w.dlq == nil {
		return
	}
	// The handler context may already be past its deadline.
	ctx = context.WithoutCancel(ctx)
	if err := w.dlq(ctx, DeadLetter{Event: e, Error: cause.Error(), Failed: time.Now().UTC()}); err != nil {
		w.log.Error("indexer: dlq publish failed", "id", e.ID, "error", err)
		return
	}
	mDeadLetters.Inc()
}

// malformed is the natsutil error callback for undecodable messages.
func (w *worker) malformed(msg *nats.Msg, err error) {
	mMalformed.Inc()
	w.log.Warn("indexer: malformed event", "subject", msg.Subject, "bytes", len(msg.Data), "error", err)
}

// subscribe feeds every marketplace event on nc to the worker.
func (w *worker) subscribe(nc natsutil.Conn) (*nats.Subscription, error) {
	return natsutil.Subscribe[events.Event](nc, events.SubjectPrefix+".>", w.handle, w.malformed)
}

// natsDLQ publishes dead letters on DLQSubject.
func natsDLQ(nc natsutil.Conn) func(context.Context, DeadLetter) error {
	return func(ctx context.Context, dl DeadLetter) error {
		return natsutil.Publish(ctx, nc, DLQSubject, dl)
	}
}

// drain lets in-flight events finish and blocks until nc is closed.
// nats.Conn.Drain on its own returns before the drain completes.
func drain(nc *nats.Conn, timeout time.Duration) error {
	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	select {
	case <-closed:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("nats drain: not closed after %s", timeout)
	}
}
