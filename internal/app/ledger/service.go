package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"ledger/internal/domain"
	"ledger/internal/domain/event"
	"ledger/internal/repository/accounts_repo"
	"ledger/internal/repository/outbox_repo"
	"ledger/internal/repository/transactions_repo"
	"ledger/internal/util"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
	"go.uber.org/zap"
)

// historyPageSize is how many rows TransactionHistory pulls per log page.
const historyPageSize = 50

// Service is the engine surface consumed by the caller boundary.
type Service interface {
	CreateAccount(ctx context.Context, ownerID, currency string) (*domain.Account, error)
	GetAccount(ctx context.Context, principalID, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	RetireAccount(ctx context.Context, principalID, accountID string) error

	Deposit(ctx context.Context, req OperationRequest) (*domain.Transaction, error)
	Withdraw(ctx context.Context, req OperationRequest) (*domain.Transaction, error)
	Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error)

	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, principalID, accountID string, limit int, cursor string) ([]domain.Transaction, string, error)
	TransactionHistory(ctx context.Context, principalID, accountID string) iter.Seq2[domain.Transaction, error]
}

// OperationRequest describes one single-account operation. A non-empty
// IdempotencyKey becomes the transaction id, so a caller retry of the same
// logical operation resolves to the transaction it already produced.
type OperationRequest struct {
	IdempotencyKey string
	PrincipalID    string
	AccountID      string
	Amount         int64
	Currency       string
}

// TransferRequest describes a two-account transfer from the source account's
// perspective.
type TransferRequest struct {
	IdempotencyKey       string
	PrincipalID          string
	SourceAccountID      string
	DestinationAccountID string
	Amount               int64
	Currency             string
}

type Config struct {
	// MaxAttempts bounds the conditional-update retry loop per operation.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts; actual delays grow
	// exponentially with full jitter.
	RetryBackoff time.Duration
	// EventsTopic is the Kafka topic terminal transaction events are
	// routed to through the outbox.
	EventsTopic string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 25 * time.Millisecond
	}
	return c
}

// Engine validates and applies balance-changing operations. It is the only
// writer of account balances and transaction records; concurrency control is
// the store's conditional update, not process-local locks, so multiple engine
// instances can run against the same store.
type Engine struct {
	accounts accounts_repo.AccountRepository
	log      transactions_repo.TransactionLog
	outbox   outbox_repo.OutboxRepository
	cfg      Config
	logger   *zap.Logger
}

func NewEngine(
	accounts accounts_repo.AccountRepository,
	log transactions_repo.TransactionLog,
	outbox outbox_repo.OutboxRepository,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		accounts: accounts,
		log:      log,
		outbox:   outbox,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

func (e *Engine) CreateAccount(ctx context.Context, ownerID, currency string) (*domain.Account, error) {
	if !domain.IsValidCurrency(currency) {
		return nil, domain.ErrInvalidCurrency
	}
	now := time.Now()
	account := &domain.Account{
		ID:        util.GenerateUUID(),
		OwnerID:   ownerID,
		Balance:   0,
		Currency:  currency,
		Version:   0,
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	e.logger.Info("Account created",
		zap.String("account_id", account.ID),
		zap.String("owner_id", ownerID),
		zap.String("currency", currency))
	return account, nil
}

func (e *Engine) GetAccount(ctx context.Context, principalID, accountID string) (*domain.Account, error) {
	account, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != principalID {
		return nil, domain.ErrUnauthorized
	}
	return account, nil
}

func (e *Engine) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return e.accounts.ListByOwner(ctx, ownerID)
}

func (e *Engine) RetireAccount(ctx context.Context, principalID, accountID string) error {
	if _, err := e.GetAccount(ctx, principalID, accountID); err != nil {
		return err
	}
	if err := e.accounts.Retire(ctx, accountID); err != nil {
		return err
	}
	e.logger.Info("Account retired", zap.String("account_id", accountID))
	return nil
}

func (e *Engine) Deposit(ctx context.Context, req OperationRequest) (*domain.Transaction, error) {
	return e.runSingle(ctx, domain.TransactionTypeDeposit, req)
}

func (e *Engine) Withdraw(ctx context.Context, req OperationRequest) (*domain.Transaction, error) {
	return e.runSingle(ctx, domain.TransactionTypeWithdrawal, req)
}

// runSingle records the attempt, then validates and applies a single-account
// operation. The attempt is in the log before any outcome reaches the caller,
// with one exception: a non-positive amount is rejected up front, because the
// log schema itself refuses such rows.
func (e *Engine) runSingle(ctx context.Context, txType domain.TransactionType, req OperationRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	id := req.IdempotencyKey
	if id == "" {
		id = util.GenerateUUID()
	}
	transaction := &domain.Transaction{
		ID:        id,
		AccountID: req.AccountID,
		Type:      txType,
		Amount:    req.Amount,
		Currency:  e.resolveCurrency(ctx, req.Currency, req.AccountID),
		Status:    domain.TransactionStatusPending,
		CreatedAt: time.Now(),
	}
	recorded, created, err := e.log.Record(ctx, transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction attempt: %w", err)
	}
	if !created {
		return e.resolveExisting(ctx, recorded, func(resumeCtx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
			return e.executeSingle(resumeCtx, tx, req)
		})
	}
	return e.executeSingle(ctx, recorded, req)
}

// resolveCurrency pins the transaction currency before the row is recorded,
// so the log projection and the returned object never disagree. An empty
// requested currency means "the account's currency"; a missing account is
// left for validation to reject.
func (e *Engine) resolveCurrency(ctx context.Context, requested, accountID string) string {
	if requested != "" {
		return requested
	}
	account, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return ""
	}
	return account.Currency
}

func (e *Engine) executeSingle(ctx context.Context, transaction *domain.Transaction, req OperationRequest) (*domain.Transaction, error) {
	if _, err := e.validateSingle(ctx, transaction, req); err != nil {
		return e.fail(ctx, transaction, err)
	}

	delta := transaction.Amount
	if transaction.Type == domain.TransactionTypeWithdrawal {
		delta = -delta
	}
	if _, err := e.applyWithRetry(ctx, transaction.AccountID, delta, transaction.ID); err != nil {
		if isRetryable(err) {
			return e.cancel(ctx, transaction, err)
		}
		return e.fail(ctx, transaction, err)
	}
	return e.complete(ctx, transaction)
}

// validateSingle runs the checks that must pass before any mutation. These
// rejections are terminal and leave balances untouched.
func (e *Engine) validateSingle(ctx context.Context, transaction *domain.Transaction, req OperationRequest) (*domain.Account, error) {
	if transaction.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	account, err := e.accounts.Get(ctx, transaction.AccountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != req.PrincipalID {
		return nil, domain.ErrUnauthorized
	}
	if account.Status == domain.AccountStatusRetired {
		return nil, domain.ErrAccountRetired
	}
	if req.Currency != "" && req.Currency != account.Currency {
		return nil, domain.ErrCurrencyMismatch
	}
	return account, nil
}

// applyWithRetry drives the store's atomic conditional update. The
// sufficiency check and the mutation are one step at the store; this loop
// only re-reads and retries when a concurrent writer won the version race or
// the store was transiently unavailable.
func (e *Engine) applyWithRetry(ctx context.Context, accountID string, delta int64, transactionID string) (*domain.Account, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.ExponentialWithJitter(e.cfg.RetryBackoff, attempt-1)
			if err := backoff.WaitContext(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		account, err := e.accounts.Get(ctx, accountID)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return nil, err
			}
			lastErr = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
			continue
		}

		updated, err := e.accounts.ApplyDelta(ctx, accountID, account.Version, delta, transactionID)
		if err == nil {
			return updated, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		e.logger.Warn("Conditional update rejected, retrying",
			zap.String("account_id", accountID),
			zap.String("transaction_id", transactionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrStoreUnavailable)
}

// complete marks the transaction COMPLETED. The balance effect is already
// durable at this point; if the log append itself fails the transaction stays
// PENDING and the reconciler completes it from the effect record.
func (e *Engine) complete(ctx context.Context, transaction *domain.Transaction) (*domain.Transaction, error) {
	if err := e.log.AppendStatus(ctx, transaction.ID, domain.TransactionStatusCompleted, ""); err != nil {
		e.logger.Error("Failed to append COMPLETED status; leaving transaction pending for reconciliation",
			zap.String("transaction_id", transaction.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: outcome applied but not yet recorded: %w", domain.ErrInconsistent, err)
	}
	now := time.Now()
	transaction.Status = domain.TransactionStatusCompleted
	transaction.FailureReason = ""
	transaction.CompletedAt = &now
	e.enqueueTransactionEvent(ctx, transaction)
	e.logger.Info("Transaction completed",
		zap.String("transaction_id", transaction.ID),
		zap.String("account_id", transaction.AccountID),
		zap.String("type", string(transaction.Type)),
		zap.Int64("amount", transaction.Amount))
	return transaction, nil
}

// fail marks the transaction FAILED and returns the caller-facing typed
// error. Balances are untouched (or already restored by compensation).
func (e *Engine) fail(ctx context.Context, transaction *domain.Transaction, cause error) (*domain.Transaction, error) {
	if err := e.log.AppendStatus(ctx, transaction.ID, domain.TransactionStatusFailed, cause.Error()); err != nil {
		e.logger.Error("Failed to append FAILED status",
			zap.String("transaction_id", transaction.ID),
			zap.Error(err))
		return nil, cause
	}
	now := time.Now()
	transaction.Status = domain.TransactionStatusFailed
	transaction.FailureReason = cause.Error()
	transaction.CompletedAt = &now
	e.enqueueTransactionEvent(ctx, transaction)
	e.logger.Info("Transaction failed",
		zap.String("transaction_id", transaction.ID),
		zap.String("account_id", transaction.AccountID),
		zap.String("reason", cause.Error()))
	return transaction, cause
}

// cancel parks a transaction whose retry budget ran out. CANCELLED is not
// terminal the way FAILED is: resubmitting the same idempotence key
// re-attempts the operation under the same transaction id.
func (e *Engine) cancel(ctx context.Context, transaction *domain.Transaction, cause error) (*domain.Transaction, error) {
	if err := e.log.AppendStatus(ctx, transaction.ID, domain.TransactionStatusCancelled, cause.Error()); err != nil {
		e.logger.Error("Failed to append CANCELLED status",
			zap.String("transaction_id", transaction.ID),
			zap.Error(err))
		return nil, cause
	}
	transaction.Status = domain.TransactionStatusCancelled
	transaction.FailureReason = cause.Error()
	e.logger.Warn("Transaction cancelled after exhausting retries",
		zap.String("transaction_id", transaction.ID),
		zap.String("account_id", transaction.AccountID),
		zap.Error(cause))
	return transaction, cause
}

// resolveExisting decides what a resubmitted idempotence key gets back.
// COMPLETED returns the original result; FAILED returns the original typed
// error; PENDING is still in flight, so the record is returned as-is for the
// caller to poll; CANCELLED is re-attempted under the same id.
func (e *Engine) resolveExisting(ctx context.Context, existing *domain.Transaction, resume func(context.Context, *domain.Transaction) (*domain.Transaction, error)) (*domain.Transaction, error) {
	switch existing.Status {
	case domain.TransactionStatusCompleted, domain.TransactionStatusPending:
		return existing, nil
	case domain.TransactionStatusFailed:
		return existing, errorFromReason(existing.FailureReason)
	case domain.TransactionStatusCancelled:
		if err := e.log.AppendStatus(ctx, existing.ID, domain.TransactionStatusPending, ""); err != nil {
			return nil, fmt.Errorf("failed to reopen cancelled transaction %s: %w", existing.ID, err)
		}
		existing.Status = domain.TransactionStatusPending
		existing.FailureReason = ""
		e.logger.Info("Re-attempting cancelled transaction", zap.String("transaction_id", existing.ID))
		return resume(ctx, existing)
	default:
		return nil, fmt.Errorf("transaction %s has unexpected status %s", existing.ID, existing.Status)
	}
}

var reasonErrors = []error{
	domain.ErrInvalidAmount,
	domain.ErrAccountNotFound,
	domain.ErrAccountRetired,
	domain.ErrUnauthorized,
	domain.ErrInsufficientFunds,
	domain.ErrConflict,
	domain.ErrInvalidTransfer,
	domain.ErrInvalidCurrency,
	domain.ErrCurrencyMismatch,
	domain.ErrStoreUnavailable,
}

// errorFromReason maps a recorded failure reason back to its sentinel so a
// replayed request observes the same typed error as the original.
func errorFromReason(reason string) error {
	if reason == "" {
		return nil
	}
	for _, err := range reasonErrors {
		if err.Error() == reason {
			return err
		}
	}
	return errors.New(reason)
}

func (e *Engine) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return e.log.GetByID(ctx, transactionID)
}

func (e *Engine) ListTransactions(ctx context.Context, principalID, accountID string, limit int, cursor string) ([]domain.Transaction, string, error) {
	if _, err := e.GetAccount(ctx, principalID, accountID); err != nil {
		return nil, "", err
	}
	return e.log.ListByAccount(ctx, accountID, limit, cursor)
}

// TransactionHistory yields the account's transactions newest first, pulling
// log pages lazily. The sequence is restartable: breaking out and ranging
// again re-reads from the top.
func (e *Engine) TransactionHistory(ctx context.Context, principalID, accountID string) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		if _, err := e.GetAccount(ctx, principalID, accountID); err != nil {
			yield(domain.Transaction{}, err)
			return
		}
		cursor := ""
		for {
			page, next, err := e.log.ListByAccount(ctx, accountID, historyPageSize, cursor)
			if err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			for _, transaction := range page {
				if !yield(transaction, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// enqueueTransactionEvent stages a terminal-status event for the outbox
// poller. Delivery is at-least-once and best effort; a failed enqueue never
// fails the operation itself.
func (e *Engine) enqueueTransactionEvent(ctx context.Context, transaction *domain.Transaction) {
	evt := event.TransactionEvent{
		TransactionID: transaction.ID,
		AccountID:     transaction.AccountID,
		Type:          string(transaction.Type),
		Amount:        transaction.Amount,
		Currency:      transaction.Currency,
		Status:        string(transaction.Status),
		Reason:        transaction.FailureReason,
		CompletedAt:   transaction.CompletedAt,
		Timestamp:     time.Now(),
	}
	if transaction.CounterpartyAccountID != nil {
		evt.CounterpartyAccountID = *transaction.CounterpartyAccountID
	}
	if transaction.ReversalOf != nil {
		evt.ReversalOf = *transaction.ReversalOf
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error("Failed to marshal transaction event",
			zap.String("transaction_id", transaction.ID),
			zap.Error(err))
		return
	}
	msg := &domain.OutboxMessage{
		ID:            util.GenerateUUID(),
		AggregateID:   transaction.ID,
		AggregateType: "transaction",
		MessageType:   "transaction." + strings.ToLower(string(transaction.Status)),
		Topic:         e.cfg.EventsTopic,
		Key:           transaction.AccountID,
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     time.Now(),
	}
	if err := e.outbox.CreateMessage(ctx, msg); err != nil {
		e.logger.Error("Failed to enqueue transaction event",
			zap.String("transaction_id", transaction.ID),
			zap.Error(err))
	}
}

var _ Service = (*Engine)(nil)
