package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// redeliveryDelay spaces out retries of a failed message handler so a
// struggling downstream is not hammered on every redelivery.
const redeliveryDelay = 5 * time.Second

// Bus wraps a NATS JetStream connection for publishing catalog events and
// consuming change notifications.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to the given NATS endpoint and opens a JetStream context.
// The connection reconnects indefinitely; in-flight publishes fail fast
// while disconnected rather than buffering unbounded.
func New(url, name string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Connected reports whether the underlying connection is currently usable.
// Readiness probes consult it.
func (b *Bus) Connected() bool {
	return b != nil && b.conn != nil && b.conn.IsConnected()
}

// Close drains the connection, letting in-flight handlers finish.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

// Subscribe creates a durable queue consumer on subj and invokes fn for each
// message. A message is acked only after fn returns nil; a failed handler
// naks with a delay and the message redelivers, so handlers must be
// idempotent. The durable name doubles as the queue group, letting multiple
// replicas share the stream.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		if err := fn(ctx, msg.Data); err != nil {
			_ = msg.NakWithDelay(redeliveryDelay)
			return
		}
		_ = msg.Ack()
	}

	sub, err := b.js.QueueSubscribe(subj, durable, handler,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, err
	}

	consumer := &subscription{sub: sub}
	go func() {
		<-ctx.Done()
		_ = consumer.Close()
	}()

	return consumer, nil
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

// Close drains the subscription. Safe to call more than once.
func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}
