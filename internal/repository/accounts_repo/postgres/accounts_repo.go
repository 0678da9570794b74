package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"

	"github.com/lib/pq"
)

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) accounts_repo.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, balance, currency, version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.OwnerID, account.Balance, account.Currency,
		account.Version, account.Status, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to create account %s: %w", account.ID, err)
	}
	return nil
}

func (r *accountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.getTx(ctx, r.db, accountID)
}

func (r *accountRepository) getTx(ctx context.Context, querier domain.Querier, accountID string) (*domain.Account, error) {
	query := `
		SELECT id, owner_id, balance, currency, version, status, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	account := &domain.Account{}
	err := querier.QueryRowContext(ctx, query, accountID).Scan(
		&account.ID,
		&account.OwnerID,
		&account.Balance,
		&account.Currency,
		&account.Version,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	return account, nil
}

func (r *accountRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	query := `
		SELECT id, owner_id, balance, currency, version, status, created_at, updated_at
		FROM accounts
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.ID,
			&account.OwnerID,
			&account.Balance,
			&account.Currency,
			&account.Version,
			&account.Status,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}
	return accounts, nil
}

// ApplyDelta expresses the sufficiency check and the mutation as a single
// conditional UPDATE, then records the effect row in the same database
// transaction. A zero-row update is disambiguated by re-reading the account.
func (r *accountRepository) ApplyDelta(ctx context.Context, accountID string, expectedVersion int64, delta int64, transactionID string) (*domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// Re-driving an already-applied transaction is a no-op.
	var applied int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM account_effects WHERE transaction_id = $1 AND account_id = $2 LIMIT 1`,
		transactionID, accountID).Scan(&applied)
	if err == nil {
		return r.getTx(ctx, tx, accountID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: failed to check effect for transaction %s: %w", domain.ErrStoreUnavailable, transactionID, err)
	}

	query := `
		UPDATE accounts
		SET balance = balance + $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND status = $4 AND version = $5 AND balance + $2 >= 0
		RETURNING id, owner_id, balance, currency, version, status, created_at, updated_at
	`
	account := &domain.Account{}
	err = tx.QueryRowContext(ctx, query, accountID, delta, time.Now(), domain.AccountStatusActive, expectedVersion).Scan(
		&account.ID,
		&account.OwnerID,
		&account.Balance,
		&account.Currency,
		&account.Version,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyRejection(ctx, tx, accountID, expectedVersion, delta)
		}
		return nil, fmt.Errorf("%w: failed to apply delta on account %s: %w", domain.ErrStoreUnavailable, accountID, err)
	}

	effectQuery := `
		INSERT INTO account_effects (transaction_id, account_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, effectQuery, transactionID, accountID, delta, time.Now()); err != nil {
		return nil, fmt.Errorf("%w: failed to record effect for transaction %s: %w", domain.ErrStoreUnavailable, transactionID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit delta on account %s: %w", domain.ErrStoreUnavailable, accountID, err)
	}
	return account, nil
}

// classifyRejection decides why the conditional update matched no row.
func (r *accountRepository) classifyRejection(ctx context.Context, querier domain.Querier, accountID string, expectedVersion, delta int64) error {
	account, err := r.getTx(ctx, querier, accountID)
	if err != nil {
		return err
	}
	switch {
	case account.Status == domain.AccountStatusRetired:
		return domain.ErrAccountRetired
	case account.Version != expectedVersion:
		return domain.ErrConflict
	default:
		return domain.ErrInsufficientFunds
	}
}

func (r *accountRepository) EffectExists(ctx context.Context, transactionID, accountID string) (bool, error) {
	query := `SELECT 1 FROM account_effects WHERE transaction_id = $1 AND account_id = $2 LIMIT 1`
	var one int
	err := r.db.QueryRowContext(ctx, query, transactionID, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check effect for transaction %s: %w", transactionID, err)
	}
	return true, nil
}

func (r *accountRepository) Retire(ctx context.Context, accountID string) error {
	query := `
		UPDATE accounts
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, accountID, domain.AccountStatusRetired, time.Now(), domain.AccountStatusActive)
	if err != nil {
		return fmt.Errorf("failed to retire account %s: %w", accountID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := r.Get(ctx, accountID); err != nil {
			return err
		}
		return domain.ErrAccountRetired
	}
	return nil
}
