package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/domain"
	"ledger/internal/util"

	"go.uber.org/zap"
)

// Transfer moves funds between two accounts as a single logical transaction.
// Cross-account atomicity is approximated saga-style: the debit applies
// first through the same conditional-update primitive as a withdrawal, and a
// failed credit is unwound by an explicit, logged compensating reversal
// rather than a silently inconsistent ledger.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	id := req.IdempotencyKey
	if id == "" {
		id = util.GenerateUUID()
	}
	counterparty := req.DestinationAccountID
	transaction := &domain.Transaction{
		ID:        id,
		AccountID: req.SourceAccountID,
		Type:      domain.TransactionTypeTransfer,
		Amount:    req.Amount,
		Currency:  e.resolveCurrency(ctx, req.Currency, req.SourceAccountID),
		Status:    domain.TransactionStatusPending,
		CreatedAt: time.Now(),
	}
	if counterparty != "" {
		transaction.CounterpartyAccountID = &counterparty
	}
	recorded, created, err := e.log.Record(ctx, transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer attempt: %w", err)
	}
	if !created {
		return e.resolveExisting(ctx, recorded, func(resumeCtx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
			return e.executeTransfer(resumeCtx, tx, req)
		})
	}
	return e.executeTransfer(ctx, recorded, req)
}

func (e *Engine) executeTransfer(ctx context.Context, transaction *domain.Transaction, req TransferRequest) (*domain.Transaction, error) {
	// Both accounts are validated strictly before any mutation; in
	// particular the destination's existence is confirmed before the debit.
	source, destination, err := e.validateTransfer(ctx, req)
	if err != nil {
		return e.fail(ctx, transaction, err)
	}

	// Debit first. On any failure nothing has been written for the
	// destination, so the abort needs no cleanup.
	if _, err := e.applyWithRetry(ctx, source.ID, -transaction.Amount, transaction.ID); err != nil {
		if isRetryable(err) {
			return e.cancel(ctx, transaction, err)
		}
		return e.fail(ctx, transaction, err)
	}

	if _, err := e.applyWithRetry(ctx, destination.ID, transaction.Amount, transaction.ID); err != nil {
		return e.compensate(ctx, transaction, err)
	}
	return e.complete(ctx, transaction)
}

func (e *Engine) validateTransfer(ctx context.Context, req TransferRequest) (*domain.Account, *domain.Account, error) {
	if req.Amount <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}
	if req.DestinationAccountID == "" || req.SourceAccountID == req.DestinationAccountID {
		return nil, nil, domain.ErrInvalidTransfer
	}
	source, err := e.accounts.Get(ctx, req.SourceAccountID)
	if err != nil {
		return nil, nil, err
	}
	destination, err := e.accounts.Get(ctx, req.DestinationAccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, nil, domain.ErrInvalidTransfer
		}
		return nil, nil, err
	}
	if source.OwnerID != req.PrincipalID {
		return nil, nil, domain.ErrUnauthorized
	}
	if source.Status == domain.AccountStatusRetired || destination.Status == domain.AccountStatusRetired {
		return nil, nil, domain.ErrAccountRetired
	}
	if req.Currency != "" && req.Currency != source.Currency {
		return nil, nil, domain.ErrCurrencyMismatch
	}
	if source.Currency != destination.Currency {
		return nil, nil, domain.ErrCurrencyMismatch
	}
	return source, destination, nil
}

// compensate reverses a debit whose matching credit could not be applied. The
// reversal is a linked transaction with a deterministic id, so re-running
// compensation (synchronously or from the reconciler) applies it at most
// once. The original transfer is marked FAILED only after the reversal is
// durably applied; until then it stays PENDING for the reconciler.
func (e *Engine) compensate(ctx context.Context, transaction *domain.Transaction, cause error) (*domain.Transaction, error) {
	reversalID := domain.ReversalID(transaction.ID)
	e.logger.Warn("Transfer credit failed, compensating debit",
		zap.String("transaction_id", transaction.ID),
		zap.String("reversal_id", reversalID),
		zap.Error(cause))

	reversal := &domain.Transaction{
		ID:         reversalID,
		AccountID:  transaction.AccountID,
		Type:       domain.TransactionTypeDeposit,
		Amount:     transaction.Amount,
		Currency:   transaction.Currency,
		Status:     domain.TransactionStatusPending,
		ReversalOf: &transaction.ID,
		CreatedAt:  time.Now(),
	}
	recorded, _, err := e.log.Record(ctx, reversal)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to record compensation for %s: %w", domain.ErrInconsistent, transaction.ID, err)
	}
	if recorded.Status == domain.TransactionStatusCompleted {
		// Compensation already landed on a previous attempt.
		return e.fail(ctx, transaction, cause)
	}

	if _, err := e.applyWithRetry(ctx, transaction.AccountID, transaction.Amount, reversalID); err != nil {
		// Funds are debited and not yet restored. Never guess: the transfer
		// stays PENDING and the reconciler re-drives the compensation.
		e.logger.Error("Failed to apply compensating reversal; transfer left pending for reconciliation",
			zap.String("transaction_id", transaction.ID),
			zap.String("reversal_id", reversalID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: compensation not applied for %s: %w", domain.ErrInconsistent, transaction.ID, err)
	}

	if _, err := e.complete(ctx, recorded); err != nil {
		return nil, err
	}
	return e.fail(ctx, transaction, cause)
}
