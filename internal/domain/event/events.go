package event

import "time"

// OperationRequestedEvent is the caller boundary payload: one requested
// balance-changing operation. EventID doubles as the idempotence key, so a
// redelivered request resolves to the transaction it already produced.
type OperationRequestedEvent struct {
	EventID     string    `json:"event_id"`
	Kind        string    `json:"kind"`
	OwnerID     string    `json:"owner_id"`
	AccountID   string    `json:"account_id"`
	ToAccountID string    `json:"to_account_id,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RequestedAt time.Time `json:"requested_at"`
}

// TransactionEvent is published for every transaction that reached a terminal
// status.
type TransactionEvent struct {
	TransactionID         string     `json:"transaction_id"`
	AccountID             string     `json:"account_id"`
	CounterpartyAccountID string     `json:"counterparty_account_id,omitempty"`
	Type                  string     `json:"type"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	Reason                string     `json:"reason,omitempty"`
	ReversalOf            string     `json:"reversal_of,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	Timestamp             time.Time  `json:"timestamp"`
}
