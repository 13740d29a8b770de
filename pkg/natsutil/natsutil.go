// Package natsutil provides typed NATS publish/subscribe helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Conn is the subset of *nats.Conn used here.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

var _ Conn = (*nats.Conn)(nil)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NewMsg encodes v as JSON into a message for subject, injecting the trace
// context from ctx into its headers.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
func Publish[T any](ctx context.Context, nc Conn, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Decode unmarshals a message into T and returns the context carrying its
// propagated trace.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, nil
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Malformed messages are passed to onErr when it is non-nil and otherwise dropped.
func Subscribe[T any](nc Conn, subject string, handler func(context.Context, T), onErr func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			if onErr != nil {
				onErr(msg, err)
			}
			return
		}
		handler(ctx, v)
	})
}
