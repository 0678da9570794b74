package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one consumed Kafka message. Returning an error
// leaves the message uncommitted for redelivery.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Consumer interface {
	Consume(ctx context.Context) error
	Close() error
}

type kafkaConsumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *zap.Logger
}

func NewConsumer(brokerURLs []string, topic, groupID string, handler MessageHandler, logger *zap.Logger) Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokerURLs,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          10e3,
		MaxBytes:          10e6,
		HeartbeatInterval: 3 * time.Second,
		CommitInterval:    0, // commit explicitly after the handler succeeds
		MaxAttempts:       3,
		Logger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	})

	return &kafkaConsumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
	}
}

// Consume reads and handles messages until ctx is cancelled. Offsets are
// committed only after the handler returns nil, so an unhandled message is
// redelivered; downstream idempotence makes redelivery harmless.
func (c *kafkaConsumer) Consume(ctx context.Context) error {
	c.logger.Info("Kafka consumer starting",
		zap.String("topic", c.reader.Config().Topic),
		zap.String("group_id", c.reader.Config().GroupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error("Failed to fetch message", zap.Error(err))
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handler(ctx, msg); err != nil {
			c.logger.Error("Message handler failed, leaving message uncommitted",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message offset", zap.Error(err))
		}
	}
}

func (c *kafkaConsumer) Close() error {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka consumer", zap.Error(err))
		return fmt.Errorf("failed to close Kafka consumer: %w", err)
	}
	c.logger.Info("Kafka consumer closed.")
	return nil
}
