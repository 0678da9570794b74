package transactions_repo

import (
	"context"
	"time"

	"ledger/internal/domain"
)

// TransactionLog is the durable, append-only record of every attempted
// operation. Record is idempotent on transaction id: a network retry of the
// same logical operation resolves to the row it already created instead of
// producing a duplicate. Status transitions are new events appended to the
// trail; the transaction row itself is only a projection of the newest event.
type TransactionLog interface {
	// Record stores a new transaction, or returns the existing one when the
	// id is already known. The second return value reports whether a new row
	// was created.
	Record(ctx context.Context, transaction *domain.Transaction) (*domain.Transaction, bool, error)

	// AppendStatus appends a status-transition event and refreshes the
	// projection. History is never deleted or overwritten.
	AppendStatus(ctx context.Context, transactionID string, status domain.TransactionStatus, reason string) error

	GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error)

	// ListByAccount returns transactions touching the account (either side of
	// a transfer), newest first. The returned cursor restarts the listing
	// after the last row; it is empty when the listing is exhausted.
	ListByAccount(ctx context.Context, accountID string, limit int, cursor string) ([]domain.Transaction, string, error)

	// ListEvents returns the status trail of one transaction, oldest first.
	ListEvents(ctx context.Context, transactionID string) ([]domain.TransactionEvent, error)

	// ListStalePending feeds the reconciliation pass: pending transactions
	// created before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
}
