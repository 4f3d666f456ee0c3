// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON and tags them
// with content-type and event-type headers. The consumer
// dispatches either single messages to a MessageHandler or batches to a
// BatchHandler, committing offsets only after successful processing.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if err := c.handler(ctx, toMessage(msg)); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
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

// Message is one record fetched from a topic.
type Message struct {
	Key       []byte
	Value     []byte
	Type      string
	Partition int
	Offset    int64
}

// BatchHandler processes a batch of messages. The batch is committed only
// when it returns nil.
type BatchHandler func(ctx context.Context, batch []Message) error

// StartBatch consumes the topic in batches of at most maxSize messages. A
// batch is closed when it is full or maxWait after its first message
// arrived. A failed batch is left uncommitted so it is redelivered to the
// group after a restart.
func (c *Consumer) StartBatch(ctx context.Context, maxSize int, maxWait time.Duration, handler BatchHandler) error {
	c.logger.Info("batch consumer started", "max_size", maxSize, "max_wait", maxWait)
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		}
		fetched := c.fetchBatch(ctx, maxSize, maxWait)
		if len(fetched) == 0 {
			continue
		}
		batch := make([]Message, len(fetched))
		for i, msg := range fetched {
			batch[i] = toMessage(msg)
		}
		if err := handler(ctx, batch); err != nil {
			c.logger.Error("failed to process batch",
				"size", len(batch),
				"first_offset", batch[0].Offset,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, fetched...); err != nil {
			c.logger.Error("failed to commit batch", "size", len(batch), "error", err)
		}
	}
}

func (c *Consumer) fetchBatch(ctx context.Context, maxSize int, maxWait time.Duration) []kafka.Message {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("failed to fetch message", "error", err)
		}
		return nil
	}
	batch := []kafka.Message{first}
	windowCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	for len(batch) < maxSize {
		msg, err := c.reader.FetchMessage(windowCtx)
		if err != nil {
			break
		}
		batch = append(batch, msg)
	}
	return batch
}

func toMessage(msg kafka.Message) Message {
	return Message{Key: msg.Key, Value: msg.Value, Type: EventType(msg), Partition: msg.Partition, Offset: msg.Offset}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
