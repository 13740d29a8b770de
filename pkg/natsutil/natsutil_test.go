package natsutil

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type fakeConn struct {
	published []*nats.Msg
	handlers  map[string]nats.MsgHandler
	err       error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if f.handlers == nil {
		f.handlers = make(map[string]nats.MsgHandler)
	}
	f.handlers[subject] = cb
	return nil, nil
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestPublishEncodesJSON(t *testing.T) {
	fc := &fakeConn{}
	if err := Publish(context.Background(), fc, "localkart.events.test", testMsg{Name: "a", Value: 1}); err != nil {
		t.Fatal(err)
	}
	if len(fc.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fc.published))
	}
	m := fc.published[0]
	if m.Subject != "localkart.events.test" || string(m.Data) != `{"name":"a","value":1}` {
		t.Fatalf("unexpected message %s %s", m.Subject, m.Data)
	}
}

func TestPublishError(t *testing.T) {
	fc := &fakeConn{err: errors.New("disconnected")}
	if err := Publish(context.Background(), fc, "s", testMsg{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublishUnencodable(t *testing.T) {
	if err := Publish(context.Background(), &fakeConn{}, "s", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestSubscribeDeliversAndReportsMalformed(t *testing.T) {
	fc := &fakeConn{}
	var got []testMsg
	var bad int
	_, err := Subscribe(fc, "s", func(_ context.Context, m testMsg) {
		got = append(got, m)
	}, func(*nats.Msg, error) { bad++ })
	if err != nil {
		t.Fatal(err)
	}

	cb := fc.handlers["s"]
	cb(&nats.Msg{Subject: "s", Data: []byte(`{"name":"x","value":2}`)})
	cb(&nats.Msg{Subject: "s", Data: []byte(`not json`)})

	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	if bad != 1 {
		t.Fatalf("expected 1 malformed message, got %d", bad)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := NewMsg(ctx, "s", testMsg{Name: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Header.Get("traceparent") == "" {
		t.Fatal("expected traceparent header")
	}

	out, v, err := Decode[testMsg](msg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Name != "t" {
		t.Fatalf("unexpected payload %+v", v)
	}
	if got := trace.SpanContextFromContext(out).TraceID(); got != traceID {
		t.Fatalf("trace id not propagated: %s", got)
	}
}
