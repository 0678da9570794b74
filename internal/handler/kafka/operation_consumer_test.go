package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	"ledger/internal/domain/event"
	accounts_memory "ledger/internal/repository/accounts_repo/memory"
	outbox_memory "ledger/internal/repository/outbox_repo/memory"
	transactions_memory "ledger/internal/repository/transactions_repo/memory"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHandlerFixture(t *testing.T) (ledger.Service, *accounts_memory.AccountRepository, string) {
	t.Helper()
	accounts := accounts_memory.NewAccountRepository()
	log := transactions_memory.NewTransactionLog()
	outbox := outbox_memory.NewOutboxRepository()
	engine := ledger.NewEngine(accounts, log, outbox, ledger.Config{EventsTopic: "t"}, zap.NewNop())

	now := time.Now()
	account := &domain.Account{
		ID:        "acc-1",
		OwnerID:   "alice",
		Balance:   500,
		Currency:  "KES",
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, accounts.Create(context.Background(), account))
	return engine, accounts, account.ID
}

func requestMessage(t *testing.T, evt event.OperationRequestedEvent) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(evt.AccountID), Value: payload}
}

func TestHandlerAppliesDeposit(t *testing.T) {
	service, accounts, accountID := newHandlerFixture(t)
	handler := OperationRequestHandler(service, zap.NewNop())

	msg := requestMessage(t, event.OperationRequestedEvent{
		EventID:   "evt-1",
		Kind:      string(domain.OperationDeposit),
		OwnerID:   "alice",
		AccountID: accountID,
		Amount:    250,
	})
	require.NoError(t, handler(context.Background(), msg))

	account, err := accounts.Get(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(750), account.Balance)
}

func TestHandlerRedeliveryAppliesOnce(t *testing.T) {
	service, accounts, accountID := newHandlerFixture(t)
	handler := OperationRequestHandler(service, zap.NewNop())

	msg := requestMessage(t, event.OperationRequestedEvent{
		EventID:   "evt-dup",
		Kind:      string(domain.OperationWithdrawal),
		OwnerID:   "alice",
		AccountID: accountID,
		Amount:    100,
	})
	require.NoError(t, handler(context.Background(), msg))
	require.NoError(t, handler(context.Background(), msg))

	account, err := accounts.Get(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), account.Balance)
}

func TestHandlerCommitsTerminalRejections(t *testing.T) {
	service, accounts, accountID := newHandlerFixture(t)
	handler := OperationRequestHandler(service, zap.NewNop())

	// An overdraft is a decision, not a delivery problem; redelivering the
	// message could not change it.
	msg := requestMessage(t, event.OperationRequestedEvent{
		EventID:   "evt-poor",
		Kind:      string(domain.OperationWithdrawal),
		OwnerID:   "alice",
		AccountID: accountID,
		Amount:    10000,
	})
	assert.NoError(t, handler(context.Background(), msg))

	account, err := accounts.Get(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Balance)
}

func TestHandlerDropsMalformedPayloads(t *testing.T) {
	service, _, _ := newHandlerFixture(t)
	handler := OperationRequestHandler(service, zap.NewNop())

	assert.NoError(t, handler(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, handler(context.Background(), kafkago.Message{Value: []byte("{}")}))
}

func TestHandlerDropsUnknownKind(t *testing.T) {
	service, _, accountID := newHandlerFixture(t)
	handler := OperationRequestHandler(service, zap.NewNop())

	msg := requestMessage(t, event.OperationRequestedEvent{
		EventID:   "evt-odd",
		Kind:      "MINT",
		OwnerID:   "alice",
		AccountID: accountID,
		Amount:    1,
	})
	assert.NoError(t, handler(context.Background(), msg))
}

// downDestinationAccounts refuses deltas against one account, so a transfer's
// credit leg fails and the engine compensates.
type downDestinationAccounts struct {
	*accounts_memory.AccountRepository
	downAccountID string
}

func (r *downDestinationAccounts) ApplyDelta(ctx context.Context, accountID string, expectedVersion, delta int64, transactionID string) (*domain.Account, error) {
	if accountID == r.downAccountID {
		return nil, domain.ErrStoreUnavailable
	}
	return r.AccountRepository.ApplyDelta(ctx, accountID, expectedVersion, delta, transactionID)
}

func TestHandlerCommitsCompensatedTransfer(t *testing.T) {
	accounts := accounts_memory.NewAccountRepository()
	log := transactions_memory.NewTransactionLog()
	outbox := outbox_memory.NewOutboxRepository()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, accounts.Create(ctx, &domain.Account{
		ID: "src", OwnerID: "alice", Balance: 500, Currency: "KES",
		Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, accounts.Create(ctx, &domain.Account{
		ID: "dst", OwnerID: "bob", Currency: "KES",
		Status: domain.AccountStatusActive, CreatedAt: now, UpdatedAt: now,
	}))

	store := &downDestinationAccounts{AccountRepository: accounts, downAccountID: "dst"}
	engine := ledger.NewEngine(store, log, outbox, ledger.Config{
		MaxAttempts:  2,
		RetryBackoff: time.Microsecond,
		EventsTopic:  "t",
	}, zap.NewNop())
	handler := OperationRequestHandler(engine, zap.NewNop())

	msg := requestMessage(t, event.OperationRequestedEvent{
		EventID:     "evt-comp",
		Kind:        string(domain.OperationTransfer),
		OwnerID:     "alice",
		AccountID:   "src",
		ToAccountID: "dst",
		Amount:      200,
	})

	// The transfer fails terminally through compensation; the message is
	// committed even though the underlying cause was a store outage.
	require.NoError(t, handler(context.Background(), msg))

	transaction, err := log.GetByID(ctx, "evt-comp")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, transaction.Status)
	source, err := accounts.Get(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(500), source.Balance)

	// A redelivery replays the recorded decision and is committed too.
	require.NoError(t, handler(context.Background(), msg))
	source, err = accounts.Get(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(500), source.Balance)
}

func TestHandlerDispatchesTransfer(t *testing.T) {
	service, accounts, accountID := newHandlerFixture(t)
	handler := OperationRequestHandler(service, zap.NewNop())

	now := time.Now()
	require.NoError(t, accounts.Create(context.Background(), &domain.Account{
		ID:        "acc-2",
		OwnerID:   "bob",
		Currency:  "KES",
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	msg := requestMessage(t, event.OperationRequestedEvent{
		EventID:     "evt-tr",
		Kind:        string(domain.OperationTransfer),
		OwnerID:     "alice",
		AccountID:   accountID,
		ToAccountID: "acc-2",
		Amount:      200,
	})
	require.NoError(t, handler(context.Background(), msg))

	source, err := accounts.Get(context.Background(), accountID)
	require.NoError(t, err)
	destination, err := accounts.Get(context.Background(), "acc-2")
	require.NoError(t, err)
	assert.Equal(t, int64(300), source.Balance)
	assert.Equal(t, int64(200), destination.Balance)
}
