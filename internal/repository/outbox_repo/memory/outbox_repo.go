// Package memory provides an in-memory outbox used by tests.
package memory

import (
	"context"
	"sync"
	"time"

	"ledger/internal/domain"
	"ledger/internal/repository/outbox_repo"
)

type OutboxRepository struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{}
}

func (r *OutboxRepository) CreateMessage(ctx context.Context, msg *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []domain.OutboxMessage
	for _, msg := range r.messages {
		if msg.Status == domain.OutboxStatusPending {
			pending = append(pending, msg)
			if limit > 0 && len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (r *OutboxRepository) MarkMessagesAsSent(ctx context.Context, ids []string) error {
	return r.markMessages(ids, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkMessagesAsFailed(ctx context.Context, ids []string) error {
	return r.markMessages(ids, domain.OutboxStatusFailed)
}

func (r *OutboxRepository) markMessages(ids []string, status domain.OutboxMessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		for i := range r.messages {
			if r.messages[i].ID == id {
				r.messages[i].Status = status
				if status == domain.OutboxStatusSent {
					r.messages[i].SentAt = &now
				} else {
					r.messages[i].SentAt = nil
				}
			}
		}
	}
	return nil
}

// Messages returns a snapshot of everything enqueued, for assertions.
func (r *OutboxRepository) Messages() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make([]domain.OutboxMessage, len(r.messages))
	copy(copied, r.messages)
	return copied
}

var _ outbox_repo.OutboxRepository = (*OutboxRepository)(nil)
