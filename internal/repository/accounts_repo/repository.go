package accounts_repo

import (
	"context"

	"ledger/internal/domain"
)

// AccountRepository is the account store contract. ApplyDelta is the single
// atomic primitive every balance mutation goes through: the sufficiency check,
// the version check, the balance write and the effect record happen as one
// step at the storage layer, so two racing writers can never both observe a
// stale balance.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	Get(ctx context.Context, accountID string) (*domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)

	// ApplyDelta conditionally applies a signed balance change. It succeeds
	// only if the account is active, its version equals expectedVersion and
	// balance+delta >= 0; on success it bumps the version, records the effect
	// keyed by (transactionID, accountID) and returns the post-state.
	// A (transactionID, accountID) pair whose effect already landed is a
	// no-op returning the current state, so recovery can re-drive an
	// operation without double-applying it.
	// Failure modes: domain.ErrAccountNotFound, domain.ErrAccountRetired,
	// domain.ErrConflict, domain.ErrInsufficientFunds.
	ApplyDelta(ctx context.Context, accountID string, expectedVersion int64, delta int64, transactionID string) (*domain.Account, error)

	// EffectExists reports whether the effect of a transaction on an account
	// durably landed. The reconciler uses this to resolve stuck transactions.
	EffectExists(ctx context.Context, transactionID, accountID string) (bool, error)

	// Retire soft-retires an account. Accounts are never physically deleted.
	Retire(ctx context.Context, accountID string) error
}
