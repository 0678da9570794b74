package ledger

import (
	"context"
	"testing"
	"time"

	"ledger/internal/domain"
	accounts_memory "ledger/internal/repository/accounts_repo/memory"
	outbox_memory "ledger/internal/repository/outbox_repo/memory"
	transactions_memory "ledger/internal/repository/transactions_repo/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransfer(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 500)
	destination := f.seedAccount(t, "bob", "KES", 0)

	transaction, err := f.engine.Transfer(ctx, TransferRequest{
		IdempotencyKey:       "tr-1",
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               200,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, transaction.Status)
	assert.Equal(t, domain.TransactionTypeTransfer, transaction.Type)
	require.NotNil(t, transaction.CounterpartyAccountID)
	assert.Equal(t, destination.ID, *transaction.CounterpartyAccountID)

	assert.Equal(t, int64(300), f.balance(t, source.ID))
	assert.Equal(t, int64(200), f.balance(t, destination.ID))

	// One logical record, visible from both sides.
	forSource, _, err := f.log.ListByAccount(ctx, source.ID, 10, "")
	require.NoError(t, err)
	forDestination, _, err := f.log.ListByAccount(ctx, destination.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, forSource, 1)
	require.Len(t, forDestination, 1)
	assert.Equal(t, "tr-1", forSource[0].ID)
	assert.Equal(t, "tr-1", forDestination[0].ID)
	// The account currency is pinned on the recorded row itself.
	assert.Equal(t, "KES", forSource[0].Currency)
}

func TestTransferRejectsInvalidAmount(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 500)
	destination := f.seedAccount(t, "bob", "KES", 0)

	_, err := f.engine.Transfer(ctx, TransferRequest{
		IdempotencyKey:       "tr-zero",
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, int64(500), f.balance(t, source.ID))

	_, err = f.log.GetByID(ctx, "tr-zero")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestTransferIdempotentResubmission(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 500)
	destination := f.seedAccount(t, "bob", "KES", 0)
	req := TransferRequest{
		IdempotencyKey:       "tr-idem",
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               200,
	}

	first, err := f.engine.Transfer(ctx, req)
	require.NoError(t, err)
	second, err := f.engine.Transfer(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(300), f.balance(t, source.ID))
	assert.Equal(t, int64(200), f.balance(t, destination.ID))
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 500)

	_, err := f.engine.Transfer(ctx, TransferRequest{
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: source.ID,
		Amount:               100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
	assert.Equal(t, int64(500), f.balance(t, source.ID))
}

func TestTransferRejectsUnknownDestination(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 500)

	_, err := f.engine.Transfer(ctx, TransferRequest{
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: "missing",
		Amount:               100,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
	assert.Equal(t, int64(500), f.balance(t, source.ID))
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 100)
	destination := f.seedAccount(t, "bob", "KES", 0)

	transaction, err := f.engine.Transfer(ctx, TransferRequest{
		IdempotencyKey:       "tr-poor",
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               200,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.TransactionStatusFailed, transaction.Status)
	assert.Equal(t, int64(100), f.balance(t, source.ID))
	assert.Equal(t, int64(0), f.balance(t, destination.ID))

	// Nothing was ever written for the destination.
	credited, err := f.accounts.EffectExists(ctx, "tr-poor", destination.ID)
	require.NoError(t, err)
	assert.False(t, credited)
}

func TestTransferRejectsCurrencyMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "USD", 500)
	destination := f.seedAccount(t, "bob", "KES", 0)

	_, err := f.engine.Transfer(ctx, TransferRequest{
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               100,
	})
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
	assert.Equal(t, int64(500), f.balance(t, source.ID))
}

func TestTransferRejectsRetiredDestination(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	source := f.seedAccount(t, "alice", "KES", 500)
	destination := f.seedAccount(t, "bob", "KES", 0)
	require.NoError(t, f.accounts.Retire(ctx, destination.ID))

	_, err := f.engine.Transfer(ctx, TransferRequest{
		PrincipalID:          "alice",
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               100,
	})
	assert.ErrorIs(t, err, domain.ErrAccountRetired)
	assert.Equal(t, int64(500), f.balance(t, source.ID))
}

// brokenCreditAccounts refuses to apply deltas to one account, simulating a
// destination shard that stays down while the rest of the store works.
type brokenCreditAccounts struct {
	*accounts_memory.AccountRepository
	brokenAccountID string
}

func (r *brokenCreditAccounts) ApplyDelta(ctx context.Context, accountID string, expectedVersion, delta int64, transactionID string) (*domain.Account, error) {
	if accountID == r.brokenAccountID {
		return nil, domain.ErrStoreUnavailable
	}
	return r.AccountRepository.ApplyDelta(ctx, accountID, expectedVersion, delta, transactionID)
}

func TestTransferCompensatesFailedCredit(t *testing.T) {
	inner := accounts_memory.NewAccountRepository()
	log := transactions_memory.NewTransactionLog()
	outbox := outbox_memory.NewOutboxRepository()
	ctx := context.Background()

	now := time.Now()
	source := &domain.Account{ID: "src", OwnerID: "alice", Balance: 500, Currency: "KES", Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now}
	destination := &domain.Account{ID: "dst", OwnerID: "bob", Balance: 0, Currency: "KES", Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, inner.Create(ctx, source))
	require.NoError(t, inner.Create(ctx, destination))

	accounts := &brokenCreditAccounts{AccountRepository: inner, brokenAccountID: "dst"}
	engine := NewEngine(accounts, log, outbox, Config{MaxAttempts: 2, RetryBackoff: time.Microsecond, EventsTopic: "t"}, zap.NewNop())

	transaction, err := engine.Transfer(ctx, TransferRequest{
		IdempotencyKey:       "tr-comp",
		PrincipalID:          "alice",
		SourceAccountID:      "src",
		DestinationAccountID: "dst",
		Amount:               200,
	})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.NotNil(t, transaction)
	assert.Equal(t, domain.TransactionStatusFailed, transaction.Status)

	// The debit was compensated: the source balance is restored.
	got, err := inner.Get(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
	got, err = inner.Get(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)

	// The reversal is a visible, linked, completed transaction.
	reversal, err := log.GetByID(ctx, domain.ReversalID("tr-comp"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, reversal.Status)
	assert.Equal(t, domain.TransactionTypeDeposit, reversal.Type)
	require.NotNil(t, reversal.ReversalOf)
	assert.Equal(t, "tr-comp", *reversal.ReversalOf)

	// Terminal events for both the reversal and the failed transfer.
	types := make(map[string]bool)
	for _, msg := range outbox.Messages() {
		types[msg.MessageType+":"+msg.AggregateID] = true
	}
	assert.True(t, types["transaction.completed:"+domain.ReversalID("tr-comp")])
	assert.True(t, types["transaction.failed:tr-comp"])
}

func TestTransferLeftPendingWhenCompensationFails(t *testing.T) {
	inner := accounts_memory.NewAccountRepository()
	log := transactions_memory.NewTransactionLog()
	outbox := outbox_memory.NewOutboxRepository()
	ctx := context.Background()

	now := time.Now()
	source := &domain.Account{ID: "src", OwnerID: "alice", Balance: 500, Currency: "KES", Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now}
	destination := &domain.Account{ID: "dst", OwnerID: "bob", Balance: 0, Currency: "KES", Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, inner.Create(ctx, source))
	require.NoError(t, inner.Create(ctx, destination))

	failing := &conflictingAccounts{AccountRepository: inner, conflicts: 0}
	engine := NewEngine(failing, log, outbox, Config{MaxAttempts: 2, RetryBackoff: time.Microsecond, EventsTopic: "t"}, zap.NewNop())

	// Debit succeeds, then every subsequent apply (credit and reversal)
	// conflicts until the budget runs out.
	debited, err := failing.ApplyDelta(ctx, "src", 0, -200, "tr-stuck")
	require.NoError(t, err)
	require.Equal(t, int64(300), debited.Balance)
	failing.mu.Lock()
	failing.conflicts = -1
	failing.mu.Unlock()

	_, created, err := log.Record(ctx, &domain.Transaction{
		ID:                    "tr-stuck",
		AccountID:             "src",
		Type:                  domain.TransactionTypeTransfer,
		Amount:                200,
		Currency:              "KES",
		Status:                domain.TransactionStatusPending,
		CounterpartyAccountID: &destination.ID,
		CreatedAt:             time.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)

	stuck, err := log.GetByID(ctx, "tr-stuck")
	require.NoError(t, err)
	_, err = engine.compensate(ctx, stuck, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, domain.ErrInconsistent)

	// The transfer is still PENDING; the reconciler owns it now.
	stuck, err = log.GetByID(ctx, "tr-stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, stuck.Status)

	got, err := inner.Get(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Balance)
}
