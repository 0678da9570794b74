// Package memory provides an in-memory transaction log mirroring the
// Postgres implementation's semantics, for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledger/internal/domain"
	"ledger/internal/repository/transactions_repo"
)

type TransactionLog struct {
	mu           sync.Mutex
	transactions map[string]*domain.Transaction
	// order holds ids in insertion order so listings are deterministic even
	// when timestamps collide.
	order  []string
	events map[string][]domain.TransactionEvent
}

func NewTransactionLog() *TransactionLog {
	return &TransactionLog{
		transactions: make(map[string]*domain.Transaction),
		events:       make(map[string][]domain.TransactionEvent),
	}
}

func (r *TransactionLog) Record(ctx context.Context, transaction *domain.Transaction) (*domain.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.transactions[transaction.ID]; exists {
		copied := *existing
		return &copied, false, nil
	}

	stored := *transaction
	r.transactions[transaction.ID] = &stored
	r.order = append(r.order, transaction.ID)
	r.events[transaction.ID] = append(r.events[transaction.ID], domain.TransactionEvent{
		TransactionID: transaction.ID,
		Status:        transaction.Status,
		Reason:        transaction.FailureReason,
		CreatedAt:     transaction.CreatedAt,
	})

	copied := stored
	return &copied, true, nil
}

func (r *TransactionLog) AppendStatus(ctx context.Context, transactionID string, status domain.TransactionStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	transaction, exists := r.transactions[transactionID]
	if !exists {
		return domain.ErrTransactionNotFound
	}

	now := time.Now()
	transaction.Status = status
	transaction.FailureReason = reason
	if status == domain.TransactionStatusCompleted || status == domain.TransactionStatusFailed {
		completedAt := now
		transaction.CompletedAt = &completedAt
	}
	r.events[transactionID] = append(r.events[transactionID], domain.TransactionEvent{
		TransactionID: transactionID,
		Status:        status,
		Reason:        reason,
		CreatedAt:     now,
	})
	return nil
}

func (r *TransactionLog) GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transaction, exists := r.transactions[transactionID]
	if !exists {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *transaction
	return &copied, nil
}

func (r *TransactionLog) ListByAccount(ctx context.Context, accountID string, limit int, cursor string) ([]domain.Transaction, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Walk insertion order backwards so timestamp ties keep the most recent
	// insert first, then stable-sort newest first.
	var matched []domain.Transaction
	for i := len(r.order) - 1; i >= 0; i-- {
		transaction := r.transactions[r.order[i]]
		if transaction.AccountID == accountID ||
			(transaction.CounterpartyAccountID != nil && *transaction.CounterpartyAccountID == accountID) {
			matched = append(matched, *transaction)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := 0
	if cursor != "" {
		decoded, err := transactions_repo.DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		for i, transaction := range matched {
			if transaction.ID == decoded.ID {
				start = i + 1
				break
			}
		}
	}

	end := len(matched)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	if start > len(matched) {
		start = len(matched)
	}
	page := matched[start:end]

	nextCursor := ""
	if limit > 0 && len(page) == limit && end < len(matched) {
		last := page[len(page)-1]
		nextCursor = transactions_repo.EncodeCursor(transactions_repo.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nextCursor, nil
}

func (r *TransactionLog) ListEvents(ctx context.Context, transactionID string) ([]domain.TransactionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events[transactionID]
	copied := make([]domain.TransactionEvent, len(events))
	copy(copied, events)
	return copied, nil
}

func (r *TransactionLog) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []domain.Transaction
	for _, id := range r.order {
		transaction := r.transactions[id]
		if transaction.Status == domain.TransactionStatusPending && transaction.CreatedAt.Before(olderThan) {
			stale = append(stale, *transaction)
			if limit > 0 && len(stale) == limit {
				break
			}
		}
	}
	return stale, nil
}

var _ transactions_repo.TransactionLog = (*TransactionLog)(nil)
