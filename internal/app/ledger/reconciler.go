package ledger

import (
	"context"
	"errors"
	"time"

	"ledger/internal/domain"

	"go.uber.org/zap"
)

// errNeverApplied is recorded as the failure reason when a stale pending
// transaction turns out to have no durable store effect.
var errNeverApplied = errors.New("operation was never applied to the account store")

// Reconciler resolves transactions stuck PENDING past a grace period. The
// engine never guesses an outcome synchronously; this pass re-reads the
// account store's effect records to learn what actually landed and appends
// the matching terminal status. Every resolution is idempotent, so the pass
// is safe to re-run at any time and from multiple instances.
type Reconciler struct {
	engine    *Engine
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewReconciler(engine *Engine, interval, grace time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		engine:    engine,
		interval:  interval,
		grace:     grace,
		batchSize: 100,
		logger:    logger,
	}
}

// Start runs the reconciliation loop until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting reconciler",
		zap.Duration("interval", r.interval),
		zap.Duration("grace_period", r.grace))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("Reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single reconciliation pass over stale pending
// transactions. Per-transaction failures are logged and skipped; the next
// pass picks them up again.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	olderThan := time.Now().Add(-r.grace)
	stale, err := r.engine.log.ListStalePending(ctx, olderThan, r.batchSize)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	r.logger.Info("Resolving stale pending transactions", zap.Int("count", len(stale)))

	for i := range stale {
		transaction := stale[i]
		if err := r.resolve(ctx, &transaction); err != nil {
			r.logger.Error("Failed to resolve stale transaction",
				zap.String("transaction_id", transaction.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) resolve(ctx context.Context, transaction *domain.Transaction) error {
	switch transaction.Type {
	case domain.TransactionTypeDeposit, domain.TransactionTypeWithdrawal:
		return r.resolveSingle(ctx, transaction)
	case domain.TransactionTypeTransfer:
		return r.resolveTransfer(ctx, transaction)
	default:
		return errors.New("unknown transaction type " + string(transaction.Type))
	}
}

func (r *Reconciler) resolveSingle(ctx context.Context, transaction *domain.Transaction) error {
	landed, err := r.engine.accounts.EffectExists(ctx, transaction.ID, transaction.AccountID)
	if err != nil {
		return err
	}
	if landed {
		r.logger.Info("Stale transaction effect landed, completing",
			zap.String("transaction_id", transaction.ID))
		_, err := r.engine.complete(ctx, transaction)
		return err
	}
	r.logger.Info("Stale transaction never applied, failing",
		zap.String("transaction_id", transaction.ID))
	_, _ = r.engine.fail(ctx, transaction, errNeverApplied)
	return nil
}

func (r *Reconciler) resolveTransfer(ctx context.Context, transaction *domain.Transaction) error {
	if transaction.CounterpartyAccountID == nil {
		_, _ = r.engine.fail(ctx, transaction, domain.ErrInvalidTransfer)
		return nil
	}
	source := transaction.AccountID
	destination := *transaction.CounterpartyAccountID

	debitLanded, err := r.engine.accounts.EffectExists(ctx, transaction.ID, source)
	if err != nil {
		return err
	}
	creditLanded, err := r.engine.accounts.EffectExists(ctx, transaction.ID, destination)
	if err != nil {
		return err
	}

	switch {
	case debitLanded && creditLanded:
		r.logger.Info("Stale transfer fully applied, completing",
			zap.String("transaction_id", transaction.ID))
		_, err := r.engine.complete(ctx, transaction)
		return err
	case debitLanded:
		// Funds left the source but never reached the destination: re-drive
		// the compensating reversal. compensate is idempotent through the
		// reversal's deterministic id and the store's effect guard.
		r.logger.Warn("Stale transfer debited without credit, compensating",
			zap.String("transaction_id", transaction.ID))
		_, err := r.engine.compensate(ctx, transaction, errNeverApplied)
		if err != nil && !errors.Is(err, errNeverApplied) {
			return err
		}
		return nil
	case creditLanded:
		// Credit without debit cannot happen through the engine. Leave it
		// pending and shout; this needs an operator.
		r.logger.Error("Stale transfer has credit without debit; manual intervention required",
			zap.String("transaction_id", transaction.ID))
		return domain.ErrInconsistent
	default:
		r.logger.Info("Stale transfer never applied, failing",
			zap.String("transaction_id", transaction.ID))
		_, _ = r.engine.fail(ctx, transaction, errNeverApplied)
		return nil
	}
}
