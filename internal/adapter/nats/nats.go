// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/halcyonsec/OpForge/internal/logger"
	"github.com/halcyonsec/OpForge/internal/port/messagequeue"
)

const streamName = "OPFORGE"

const (
	headerRequestID  = "Request-ID"
	headerRunID      = "Run-ID"
	headerRetryCount = "Retry-Count"

	// maxRetries is how often a message is redelivered after handler
	// failures before it lands on the dead letter subject.
	maxRetries = 3
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"seqruns.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject. Request and run IDs
// present in ctx travel along as headers so consumers can correlate
// log lines.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if rid := logger.RequestID(ctx); rid != "" {
		msg.Header.Set(headerRequestID, rid)
	}
	if rid := logger.RunID(ctx); rid != "" {
		msg.Header.Set(headerRunID, rid)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Payloads that fail schema validation go straight to the dead letter
// subject; handler failures are retried up to maxRetries times first.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		data := msg.Data()

		// Redelivery cannot fix a malformed payload.
		if err := messagequeue.Validate(msg.Subject(), data); err != nil {
			slog.Error("message validation failed", "subject", msg.Subject(), "error", err)
			q.moveToDLQ(msg)
			return
		}

		mctx := context.Background()
		if rid := msg.Headers().Get(headerRequestID); rid != "" {
			mctx = logger.WithRequestID(mctx, rid)
		}
		if rid := msg.Headers().Get(headerRunID); rid != "" {
			mctx = logger.WithRunID(mctx, rid)
		}

		if err := handler(mctx, msg.Subject(), data); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
			q.retryOrDLQ(msg)
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// retryOrDLQ republishes a failed message with an incremented retry
// counter, or moves it to the dead letter subject once exhausted.
func (q *Queue) retryOrDLQ(msg jetstream.Msg) {
	n := retryCount(msg.Headers())
	if n >= maxRetries {
		q.moveToDLQ(msg)
		return
	}

	retry := &nats.Msg{Subject: msg.Subject(), Data: msg.Data(), Header: nats.Header{}}
	if rid := msg.Headers().Get(headerRequestID); rid != "" {
		retry.Header.Set(headerRequestID, rid)
	}
	retry.Header.Set(headerRetryCount, strconv.Itoa(n+1))

	if _, err := q.js.PublishMsg(context.Background(), retry); err != nil {
		slog.Error("nats retry publish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

// moveToDLQ publishes the raw payload to <subject>.dlq and acks the
// original so it is not redelivered.
func (q *Queue) moveToDLQ(msg jetstream.Msg) {
	dlqSubject := msg.Subject() + ".dlq"
	if _, err := q.js.Publish(context.Background(), dlqSubject, msg.Data()); err != nil {
		slog.Error("nats dlq publish failed", "subject", dlqSubject, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	slog.Warn("message moved to dlq", "subject", dlqSubject)
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

// retryCount reads the retry counter header, zero if absent.
func retryCount(h nats.Header) int {
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

// KeyValue returns a JetStream KV bucket, creating it with the given
// TTL if it does not exist. Used for idempotency caching.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is currently up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
