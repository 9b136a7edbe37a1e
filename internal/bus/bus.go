// Package bus implements Stratum's message bus adapter (C2): a durable
// publish/subscribe primitive over NATS JetStream with bounded publish
// buffering, at-least-once delivery, and a dead-letter fallback after
// repeated redelivery failures (§4.3).
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
)

const (
	// DeadLetterSubject receives messages that exhausted MaxDeliverAttempts
	// or failed to decode at all.
	DeadLetterSubject = "logs.deadletter"

	// publishBufferSize bounds in-flight publishes; overflow fails
	// synchronously rather than blocking the caller (§4.3).
	publishBufferSize = 10_000

	// MaxDeliverAttempts caps redelivery before a message is dead-lettered.
	MaxDeliverAttempts = 5

	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second
)

// ErrBufferFull is returned by Publish when the in-flight publish buffer
// is exhausted.
var ErrBufferFull = errors.New("bus: publish buffer full")

// Bus wraps a NATS connection and JetStream context with Stratum's
// delivery contract.
type Bus struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	sem chan struct{}
}

// Connect dials the given NATS URL and initializes JetStream.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Timeout(5*time.Second), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}
	return &Bus{nc: nc, js: js, sem: make(chan struct{}, publishBufferSize)}, nil
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	b.nc.Close()
}

// EnsureStream creates or updates a JetStream stream capturing the given
// subjects. Call once at startup before Publish/Subscribe.
func (b *Bus) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("bus: ensure stream %s: %w", name, err)
	}
	return nil
}

// natsHeaderCarrier adapts nats.Msg headers for OTel's TextMapCarrier.
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

// Publish serializes v as JSON and publishes it to subject, waiting for
// the stream's ack. A non-blocking semaphore bounds the number of
// publishes in flight to publishBufferSize; once full, Publish fails
// synchronously with ErrBufferFull rather than blocking the caller
// (§4.3, and the ingestion API's 2s backpressure budget in §4.2).
func Publish[T any](ctx context.Context, b *Bus, subject string, v T) error {
	select {
	case b.sem <- struct{}{}:
	default:
		return ErrBufferFull
	}
	defer func() { <-b.sem }()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}
