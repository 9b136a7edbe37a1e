package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
)

// Delivery wraps a decoded message with its redelivery count and an ack
// token. Consumers must call Ack or Nack exactly once per delivery.
type Delivery[T any] struct {
	Payload T
	Attempt int
	Subject string
	ctx     context.Context
	msg     jetstream.Msg
}

// Context carries the trace context extracted from the message headers,
// for propagating the originating HTTP request's trace into worker spans.
func (d Delivery[T]) Context() context.Context { return d.ctx }

// Ack acknowledges successful processing.
func (d Delivery[T]) Ack() error { return d.msg.Ack() }

// Nack triggers redelivery with exponential backoff, or — once
// MaxDeliverAttempts is exhausted — publishes the payload to
// DeadLetterSubject and terminates the message (§4.3).
func (d Delivery[T]) Nack(ctx context.Context, b *Bus, reason error) error {
	if d.Attempt >= MaxDeliverAttempts {
		if err := b.deadLetter(ctx, d.Subject, d.Payload, reason); err != nil {
			return err
		}
		return d.msg.Term()
	}
	return d.msg.NakWithDelay(backoffFor(d.Attempt))
}

// backoffFor returns the exponential delay for the given (1-indexed)
// delivery attempt, doubling from baseBackoff and capped at maxBackoff.
func backoffFor(attempt int) time.Duration {
	delay := baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Subscribe creates (or attaches to) a durable JetStream consumer filtered
// to subject and streams decoded messages of type T. The channel is
// unbuffered: the caller's receive loop applies its own backpressure.
// Messages that fail to decode are dead-lettered immediately and never
// reach the channel.
func Subscribe[T any](ctx context.Context, b *Bus, streamName, subject, durable string) (<-chan Delivery[T], error) {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    MaxDeliverAttempts + 1, // server redelivers once more than we track so Nack's terminal case still observes the message
	})
	if err != nil {
		return nil, fmt.Errorf("bus: consumer %s/%s: %w", streamName, durable, err)
	}

	out := make(chan Delivery[T])
	_, err = cons.Consume(func(msg jetstream.Msg) {
		meta, metaErr := msg.Metadata()
		attempt := 1
		if metaErr == nil {
			attempt = int(meta.NumDelivered)
		}

		var v T
		if err := json.Unmarshal(msg.Data(), &v); err != nil {
			_ = b.deadLetter(ctx, subject, json.RawMessage(msg.Data()), err)
			_ = msg.Term()
			return
		}

		msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrierFromJetstream(msg))
		out <- Delivery[T]{Payload: v, Attempt: attempt, Subject: subject, ctx: msgCtx, msg: msg}
	})
	if err != nil {
		return nil, fmt.Errorf("bus: consume %s/%s: %w", streamName, durable, err)
	}
	return out, nil
}

// headerCarrier adapts jetstream.Msg headers (read-only, for extraction).
type headerCarrier struct {
	msg jetstream.Msg
}

func headerCarrierFromJetstream(msg jetstream.Msg) headerCarrier {
	return headerCarrier{msg: msg}
}

func (c headerCarrier) Get(key string) string {
	h := c.msg.Headers()
	if h == nil {
		return ""
	}
	return h.Get(key)
}

func (c headerCarrier) Set(string, string) {} // extraction only

func (c headerCarrier) Keys() []string {
	h := c.msg.Headers()
	if h == nil {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// deadLetter publishes the failed payload and failure reason to
// DeadLetterSubject (§4.3, §4.4: permanent failures route here with the
// reason attached).
func (b *Bus) deadLetter(ctx context.Context, originalSubject string, payload any, reason error) error {
	envelope := map[string]any{
		"original_subject": originalSubject,
		"reason":           reason.Error(),
		"payload":          payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("bus: marshal dead letter: %w", err)
	}
	if _, err := b.js.Publish(ctx, DeadLetterSubject, data); err != nil {
		return fmt.Errorf("bus: publish dead letter: %w", err)
	}
	return nil
}
