// Package kafka carries article events between the ingestion service and the
// matchers over segmentio/kafka-go. Events are JSON; the consumer hands raw
// values to a MessageHandler and commits each message once it is dealt with.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. A non-nil
// error is retried; an error marked resilience.Permanent is not.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// unhealthyAfter is the number of consecutive fetch failures after which
// Ping reports the stream as down.
const unhealthyAfter = 3

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler, one at a time and in partition order.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
	backoff time.Duration

	fetchFailures atomic.Int32
	lastFetchErr  atomic.Pointer[error]
}

// NewConsumer creates a Consumer for topic in this instance's own group
// (cfg.GroupID), so it receives every partition. A group with no committed
// offset starts from the beginning of the topic; the handler is expected to
// skip events already restored from the archive.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.GroupID(),
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		backoff: time.Second,
	}
}

// Start enters the consume loop and blocks until ctx is cancelled. A message
// whose handler still fails after retries is logged and committed so that it
// cannot stall the partition; archive replay is the recovery path for it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.reader.Close()
			}
			n := c.fetchFailures.Add(1)
			c.lastFetchErr.Store(&err)
			c.logger.Error("failed to fetch message", "error", err, "consecutive_failures", n)
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}
		c.fetchFailures.Store(0)

		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if ct := contentType(msg); ct != "" && ct != "application/json" {
			err = resilience.Permanent(fmt.Errorf("unsupported content type %q", ct))
		} else {
			err = resilience.Retry(ctx, "kafka-handle", c.retry, func() error {
				return c.handler(ctx, msg.Key, msg.Value)
			})
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.reader.Close()
			}
			c.logger.Error("dropping message after handler failure",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"permanent", resilience.IsPermanent(err),
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Ping reports the stream as down after repeated fetch failures.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := c.fetchFailures.Load(); n >= unhealthyAfter {
		var last error
		if p := c.lastFetchErr.Load(); p != nil {
			last = *p
		}
		return fmt.Errorf("%d consecutive fetch failures: %w", n, last)
	}
	return nil
}

// contentType returns the message's content-type header. Messages from
// older producers carry none and are treated as JSON.
func contentType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == contentTypeHeader {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
