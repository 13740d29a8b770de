package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/nashiklocalkart/localkart/pkg/natsutil"
)

// NATSPublisher publishes events on SubjectPrefix.<type>.
type NATSPublisher struct {
	conn  natsutil.Conn
	close func()
}

// NewNATSPublisher publishes over an existing connection. Close drains it.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: nc, close: func() { nc.Drain() }}
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := natsutil.Publish(ctx, p.conn, e.Subject(), e); err != nil {
		return fmt.Errorf("events: nats publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
