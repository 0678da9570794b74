package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger/internal/domain"
	"ledger/internal/repository/transactions_repo"

	"github.com/lib/pq"
)

type transactionLog struct {
	db *sql.DB
}

func NewTransactionLog(db *sql.DB) transactions_repo.TransactionLog {
	return &transactionLog{db: db}
}

func (r *transactionLog) Record(ctx context.Context, transaction *domain.Transaction) (*domain.Transaction, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO transactions (id, account_id, counterparty_account_id, type, amount, currency, status, failure_reason, reversal_of, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.ExecContext(ctx, query,
		transaction.ID,
		transaction.AccountID,
		transaction.CounterpartyAccountID,
		transaction.Type,
		transaction.Amount,
		transaction.Currency,
		transaction.Status,
		transaction.FailureReason,
		transaction.ReversalOf,
		transaction.CreatedAt,
		transaction.CompletedAt,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, getErr := r.GetByID(ctx, transaction.ID)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to load existing transaction %s after conflict: %w", transaction.ID, getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to record transaction %s: %w", transaction.ID, err)
	}

	if err := r.appendEventTx(ctx, tx, transaction.ID, transaction.Status, transaction.FailureReason, transaction.CreatedAt); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction record %s: %w", transaction.ID, err)
	}

	stored := *transaction
	return &stored, true, nil
}

func (r *transactionLog) appendEventTx(ctx context.Context, querier domain.Querier, transactionID string, status domain.TransactionStatus, reason string, at time.Time) error {
	query := `
		INSERT INTO transaction_events (transaction_id, status, reason, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := querier.ExecContext(ctx, query, transactionID, status, reason, at); err != nil {
		return fmt.Errorf("failed to append event for transaction %s: %w", transactionID, err)
	}
	return nil
}

func (r *transactionLog) AppendStatus(ctx context.Context, transactionID string, status domain.TransactionStatus, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var completedAt any
	if status == domain.TransactionStatusCompleted || status == domain.TransactionStatusFailed {
		completedAt = now
	}

	query := `
		UPDATE transactions
		SET status = $2, failure_reason = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, query, transactionID, status, reason, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s projection: %w", transactionID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}

	if err := r.appendEventTx(ctx, tx, transactionID, status, reason, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status event for transaction %s: %w", transactionID, err)
	}
	return nil
}

const transactionColumns = `id, account_id, counterparty_account_id, type, amount, currency, status, failure_reason, reversal_of, created_at, completed_at`

func scanTransaction(row interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	transaction := &domain.Transaction{}
	var completedAt sql.NullTime
	err := row.Scan(
		&transaction.ID,
		&transaction.AccountID,
		&transaction.CounterpartyAccountID,
		&transaction.Type,
		&transaction.Amount,
		&transaction.Currency,
		&transaction.Status,
		&transaction.FailureReason,
		&transaction.ReversalOf,
		&transaction.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		transaction.CompletedAt = &completedAt.Time
	}
	return transaction, nil
}

func (r *transactionLog) GetByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}
	return transaction, nil
}

func (r *transactionLog) ListByAccount(ctx context.Context, accountID string, limit int, cursor string) ([]domain.Transaction, string, error) {
	args := []any{accountID, limit}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (account_id = $1 OR counterparty_account_id = $1)
	`
	if cursor != "" {
		decoded, err := transactions_repo.DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, decoded.CreatedAt, decoded.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating transaction rows: %w", err)
	}

	nextCursor := ""
	if len(transactions) == limit && limit > 0 {
		last := transactions[len(transactions)-1]
		nextCursor = transactions_repo.EncodeCursor(transactions_repo.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return transactions, nextCursor, nil
}

func (r *transactionLog) ListEvents(ctx context.Context, transactionID string) ([]domain.TransactionEvent, error) {
	query := `
		SELECT transaction_id, status, reason, created_at
		FROM transaction_events
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for transaction %s: %w", transactionID, err)
	}
	defer rows.Close()

	var events []domain.TransactionEvent
	for rows.Next() {
		var event domain.TransactionEvent
		if err := rows.Scan(&event.TransactionID, &event.Status, &event.Reason, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

func (r *transactionLog) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.TransactionStatusPending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return transactions, nil
}
