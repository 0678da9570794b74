// Package outbox drains the transactional outbox into Kafka. Rows are
// published in creation order and marked SENT only after the broker
// acknowledges the write, giving at-least-once delivery; consumers
// deduplicate by transaction id.
package outbox

import (
	"context"
	"time"

	kafka_infra "ledger/internal/infrastructure/kafka"
	"ledger/internal/repository/outbox_repo"

	"go.uber.org/zap"
)

type Processor struct {
	outboxRepo   outbox_repo.OutboxRepository
	producer     kafka_infra.Producer
	pollInterval time.Duration
	pollTimeout  time.Duration
	batchSize    int
	logger       *zap.Logger
}

func NewProcessor(
	outboxRepo outbox_repo.OutboxRepository,
	producer kafka_infra.Producer,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		outboxRepo:   outboxRepo,
		producer:     producer,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		batchSize:    10,
		logger:       logger,
	}
}

// Start polls until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor", zap.Duration("poll_interval", p.pollInterval))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped")
			return
		case <-ticker.C:
			p.processOutboxMessages(ctx)
		}
	}
}

func (p *Processor) processOutboxMessages(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	messages, err := p.outboxRepo.GetPendingMessages(queryCtx, p.batchSize)
	cancel()
	if err != nil {
		p.logger.Error("Failed to get pending outbox messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}
	p.logger.Info("Found pending outbox messages", zap.Int("count", len(messages)))

	var sent []string
	for _, msg := range messages {
		if err := p.producer.Produce(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			p.logger.Error("Failed to publish outbox message",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err))
			// Keep ordering per aggregate: stop the batch at the first
			// failure and retry from here next tick.
			break
		}
		sent = append(sent, msg.ID)
	}

	if len(sent) == 0 {
		return
	}
	if err := p.outboxRepo.MarkMessagesAsSent(ctx, sent); err != nil {
		p.logger.Error("Failed to mark outbox messages as sent", zap.Error(err))
		return
	}
	p.logger.Debug("Outbox messages published", zap.Int("count", len(sent)))
}
