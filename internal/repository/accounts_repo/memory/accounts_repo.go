// Package memory provides an in-memory account store with the same
// conditional-update semantics as the Postgres implementation. It backs the
// engine's tests and local development without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
)

type effectKey struct {
	transactionID string
	accountID     string
}

type AccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	effects  map[effectKey]int64
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.Account),
		effects:  make(map[effectKey]int64),
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return domain.ErrAccountAlreadyExists
	}
	stored := *account
	r.accounts[account.ID] = &stored
	return nil
}

func (r *AccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(accountID)
}

func (r *AccountRepository) getLocked(accountID string) (*domain.Account, error) {
	account, exists := r.accounts[accountID]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []domain.Account
	for _, account := range r.accounts {
		if account.OwnerID == ownerID {
			accounts = append(accounts, *account)
		}
	}
	return accounts, nil
}

func (r *AccountRepository) ApplyDelta(ctx context.Context, accountID string, expectedVersion int64, delta int64, transactionID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[accountID]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	if _, applied := r.effects[effectKey{transactionID: transactionID, accountID: accountID}]; applied {
		copied := *account
		return &copied, nil
	}
	if account.Status == domain.AccountStatusRetired {
		return nil, domain.ErrAccountRetired
	}
	if account.Version != expectedVersion {
		return nil, domain.ErrConflict
	}
	if account.Balance+delta < 0 {
		return nil, domain.ErrInsufficientFunds
	}

	account.Balance += delta
	account.Version++
	account.UpdatedAt = time.Now()
	r.effects[effectKey{transactionID: transactionID, accountID: accountID}] = delta

	copied := *account
	return &copied, nil
}

func (r *AccountRepository) EffectExists(ctx context.Context, transactionID, accountID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.effects[effectKey{transactionID: transactionID, accountID: accountID}]
	return exists, nil
}

func (r *AccountRepository) Retire(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[accountID]
	if !exists {
		return domain.ErrAccountNotFound
	}
	if account.Status == domain.AccountStatusRetired {
		return domain.ErrAccountRetired
	}
	account.Status = domain.AccountStatusRetired
	account.UpdatedAt = time.Now()
	return nil
}

var _ accounts_repo.AccountRepository = (*AccountRepository)(nil)
