package domain

import "errors"

var (
	// ErrInvalidAmount indicates a zero or negative operation amount.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountAlreadyExists indicates a duplicate account id on creation.
	ErrAccountAlreadyExists = errors.New("account already exists")
	// ErrAccountRetired indicates a mutation against a soft-retired account.
	ErrAccountRetired = errors.New("account is retired")
	// ErrUnauthorized indicates the requesting principal does not own the account.
	ErrUnauthorized = errors.New("principal does not own account")
	// ErrInsufficientFunds indicates the balance guard failed at the moment of
	// atomic application.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict indicates a concurrent writer won the version race. Transient;
	// safe to retry after re-reading the account.
	ErrConflict = errors.New("account version conflict")
	// ErrInvalidTransfer indicates a self-transfer or a transfer with a missing
	// destination.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrInvalidCurrency indicates a malformed currency code.
	ErrInvalidCurrency = errors.New("invalid currency code")
	// ErrCurrencyMismatch indicates the operation currency does not match the
	// account currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrStoreUnavailable indicates a transient account store failure.
	ErrStoreUnavailable = errors.New("account store unavailable")
	// ErrTransactionNotFound indicates an unknown transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInconsistent indicates a transaction stuck PENDING past the recovery
	// grace period; only the reconciliation pass may resolve it.
	ErrInconsistent = errors.New("transaction outcome undetermined")
)
