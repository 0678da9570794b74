package domain

import "time"

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// OperationKind tags an incoming balance-changing request. Each kind has
// exactly one code path in the engine.
type OperationKind string

const (
	OperationDeposit    OperationKind = "DEPOSIT"
	OperationWithdrawal OperationKind = "WITHDRAWAL"
	OperationTransfer   OperationKind = "TRANSFER"
)

// Transaction is one logical monetary operation. A transfer is a single row:
// AccountID is the source and CounterpartyAccountID the destination, so audits
// never double-count the two legs. Amount is strictly positive, in the
// account currency's minor units.
//
// Status is COMPLETED if and only if the balance effect is durably recorded in
// the account store; anything the engine could not decide synchronously stays
// PENDING until the reconciler resolves it.
type Transaction struct {
	ID                    string
	AccountID             string
	CounterpartyAccountID *string
	Type                  TransactionType
	Amount                int64
	Currency              string
	Status                TransactionStatus
	FailureReason         string
	// ReversalOf links a compensating transaction to the transfer it unwinds.
	ReversalOf  *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// TransactionEvent is one entry of the append-only status trail. Transitions
// are recorded as new events, never as in-place edits, so the history of a
// transaction is replayable.
type TransactionEvent struct {
	TransactionID string
	Status        TransactionStatus
	Reason        string
	CreatedAt     time.Time
}

// ReversalID derives the deterministic id of the compensating transaction for
// a transfer, which keeps compensation idempotent across retries.
func ReversalID(transactionID string) string {
	return transactionID + "-reversal"
}
