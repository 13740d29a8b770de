package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/goleak"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/engine/semantic"
	"github.com/nashiklocalkart/localkart/pkg/events"
	"github.com/nashiklocalkart/localkart/pkg/fn"
	"github.com/nashiklocalkart/localkart/pkg/natsutil"
	"github.com/nashiklocalkart/localkart/pkg/resilience"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker starts in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var quiet = slog.New(slog.DiscardHandler)

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

// fakeIndex decides like semantic.Index but records what it was asked to do.
type fakeIndex struct {
	mu      sync.Mutex
	applied []int
	fails   int
	calls   int
}

func (f *fakeIndex) Apply(_ context.Context, v domain.Vendor) (semantic.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return "", errors.New("qdrant unavailable")
	}
	f.applied = append(f.applied, v.ID)
	return semantic.Decide(v), nil
}

type dlqRecorder struct {
	letters []DeadLetter
	err     error
}

func (d *dlqRecorder) publish(_ context.Context, dl DeadLetter) error {
	if d.err != nil {
		return d.err
	}
	d.letters = append(d.letters, dl)
	return nil
}

func vendorEvent(t events.Type, id int, status domain.VendorStatus) events.Event {
	e := events.New(t)
	e.Vendor = &domain.Vendor{ID: id, ShopName: "Godavari Sweets", Status: status}
	return e
}

func TestHandleActions(t *testing.T) {
	cases := []struct {
		status domain.VendorStatus
		want   semantic.Action
	}{
		{domain.StatusApproved, semantic.ActionUpsert},
		{domain.StatusRejected, semantic.ActionDelete},
		{domain.StatusPending, semantic.ActionSkip},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			ix := &fakeIndex{}
			dlq := &dlqRecorder{}
			w := newWorker(ix, Config{Retry: fastRetry, Timeout: time.Second}, dlq.publish, quiet)
			before := mActions(string(tc.want)).Value()

			w.handle(context.Background(), vendorEvent(events.VendorStatusChanged, 7, tc.status))

			if got := mActions(string(tc.want)).Value() - before; got != 1 {
				t.Fatalf("expected one %s action, counted %d", tc.want, got)
			}
			if len(ix.applied) != 1 || ix.applied[0] != 7 {
				t.Fatalf("unexpected applied %v", ix.applied)
			}
			if len(dlq.letters) != 0 {
				t.Fatalf("unexpected dead letters %+v", dlq.letters)
			}
		})
	}
}

func TestHandleIgnoresUserEvents(t *testing.T) {
	ix := &fakeIndex{}
	w := newWorker(ix, Config{Retry: fastRetry}, nil, quiet)
	e := events.New(events.UserRegistered)
	e.User = &domain.User{ID: 3, Name: "Asha"}
	before := mEvents(string(events.UserRegistered)).Value()

	w.handle(context.Background(), e)

	if ix.calls != 0 {
		t.Fatal("user events must not reach the index")
	}
	if mEvents(string(events.UserRegistered)).Value()-before != 1 {
		t.Fatal("event should still be counted")
	}
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	ix := &fakeIndex{fails: 2}
	dlq := &dlqRecorder{}
	w := newWorker(ix, Config{Retry: fastRetry, Timeout: time.Second}, dlq.publish, quiet)

	w.handle(context.Background(), vendorEvent(events.VendorStatusChanged, 4, domain.StatusApproved))

	if ix.calls != 3 || len(ix.applied) != 1 {
		t.Fatalf("expected success on third attempt, calls=%d applied=%v", ix.calls, ix.applied)
	}
	if len(dlq.letters) != 0 {
		t.Fatal("recovered event must not be dead-lettered")
	}
}

func TestHandleDeadLettersAfterRetries(t *testing.T) {
	ix := &fakeIndex{fails: 10}
	dlq := &dlqRecorder{}
	w := newWorker(ix, Config{Retry: fastRetry, Timeout: time.Second}, dlq.publish, quiet)
	errsBefore, dlBefore := mErrors.Value(), mDeadLetters.Value()
	e := vendorEvent(events.VendorStatusChanged, 9, domain.StatusApproved)

	w.handle(context.Background(), e)

	if ix.calls != fastRetry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", fastRetry.MaxAttempts, ix.calls)
	}
	if len(dlq.letters) != 1 || dlq.letters[0].Event.ID != e.ID || !strings.Contains(dlq.letters[0].Error, "qdrant unavailable") {
		t.Fatalf("unexpected dead letters %+v", dlq.letters)
	}
	if mErrors.Value()-errsBefore != 1 || mDeadLetters.Value()-dlBefore != 1 {
		t.Fatal("error and dead letter counters should move")
	}
}

func TestBreakerFailsFast(t *testing.T) {
	ix := &fakeIndex{fails: 100}
	dlq := &dlqRecorder{}
	cfg := Config{
		Retry:   fn.RetryOpts{MaxAttempts: 1},
		Breaker: resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Hour},
	}
	w := newWorker(ix, cfg, dlq.publish, quiet)
	for id := range 4 {
		w.handle(context.Background(), vendorEvent(events.VendorStatusChanged, id+1, domain.StatusApproved))
	}
	if ix.calls != 2 {
		t.Fatalf("breaker should stop calls after 2 failures, got %d", ix.calls)
	}
	if len(dlq.letters) != 4 || !strings.Contains(dlq.letters[3].Error, "circuit breaker is open") {
		t.Fatalf("every failed event should be dead-lettered: %+v", dlq.letters)
	}
	if mBreakerOpen.Value() != 1 {
		t.Fatal("breaker gauge should report open")
	}
}

func TestHandleDLQFailureIsLogged(t *testing.T) {
	ix := &fakeIndex{fails: 10}
	dlq := &dlqRecorder{err: errors.New("nats down")}
	w := newWorker(ix, Config{Retry: fn.RetryOpts{MaxAttempts: 1}}, dlq.publish, quiet)
	before := mDeadLetters.Value()

	w.handle(context.Background(), vendorEvent(events.VendorRegistered, 2, domain.StatusApproved))

	if mDeadLetters.Value() != before {
		t.Fatal("failed DLQ publish must not count as a dead letter")
	}
}

func TestHandleDecodedMessage(t *testing.T) {
	ix := &fakeIndex{}
	w := newWorker(ix, Config{Retry: fastRetry, Timeout: time.Second}, nil, quiet)
	e := vendorEvent(events.VendorStatusChanged, 5, domain.StatusRejected)

	msg, err := natsutil.NewMsg(context.Background(), e.Subject(), e)
	if err != nil {
		t.Fatal(err)
	}
	ctx, decoded, err := natsutil.Decode[events.Event](msg)
	if err != nil {
		t.Fatal(err)
	}
	w.handle(ctx, decoded)

	if len(ix.applied) != 1 || ix.applied[0] != 5 {
		t.Fatalf("unexpected applied %v", ix.applied)
	}
}

func TestMalformedCounts(t *testing.T) {
	w := newWorker(&fakeIndex{}, Config{Retry: fastRetry}, nil, quiet)
	before := mMalformed.Value()
	w.malformed(&nats.Msg{Subject: "localkart.events.vendor.registered", Data: []byte("{")}, errors.New("bad json"))
	if mMalformed.Value()-before != 1 {
		t.Fatal("malformed counter should move")
	}
}

func TestParseConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	if _, err := parseConfig(nil); err == nil {
		t.Fatal("expected missing key error")
	}

	t.Setenv("API_KEY", "k")
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("METRICS_PORT", "9300")
	cfg, err := parseConfig([]string{"-attempts", "0", "-collection", "vendors_test"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GeminiAPIKey != "k" || cfg.Collection != "vendors_test" || cfg.MetricsPort != 9300 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Fatalf("attempts should be clamped to 1, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestMetricsMux(t *testing.T) {
	mEvents("vendor.registered").Inc()
	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `localkart_indexer_events_total{type="vendor.registered"}`) {
		t.Fatalf("unexpected metrics %d %s", resp.StatusCode, body)
	}

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}
