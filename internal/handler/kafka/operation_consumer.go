// Package kafka is the caller boundary: operation requests arrive as Kafka
// events and are dispatched to the ledger engine. The event id doubles as
// the idempotence key, so redelivered messages resolve to the transaction
// they already produced instead of applying twice.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	"ledger/internal/domain/event"
	kafka_infra "ledger/internal/infrastructure/kafka"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OperationRequestHandler returns the message handler for the
// operation-requests topic. A message is committed whenever the engine made a
// terminal decision about it, including every validation reject; only
// transient outcomes (retryable errors, undetermined state) leave the message
// for redelivery.
func OperationRequestHandler(service ledger.Service, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafkago.Message) error {
		var evt event.OperationRequestedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			// A malformed payload never becomes parseable; drop it.
			logger.Error("Discarding malformed operation request",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}
		if evt.EventID == "" {
			logger.Error("Discarding operation request without event id",
				zap.Int64("offset", msg.Offset))
			return nil
		}

		logger.Info("Processing operation request",
			zap.String("event_id", evt.EventID),
			zap.String("kind", evt.Kind),
			zap.String("account_id", evt.AccountID))

		transaction, err := dispatch(ctx, service, evt)
		if err != nil {
			// A FAILED transaction is a decision the engine already recorded
			// (including compensated transfers, whose cause may look
			// transient); redelivery could not change it.
			if transaction != nil && transaction.Status == domain.TransactionStatusFailed {
				logger.Info("Operation request failed terminally",
					zap.String("event_id", evt.EventID),
					zap.String("transaction_id", transaction.ID),
					zap.String("reason", err.Error()))
				return nil
			}
			if isTerminal(err) {
				logger.Info("Operation request rejected",
					zap.String("event_id", evt.EventID),
					zap.String("reason", err.Error()))
				return nil
			}
			return fmt.Errorf("operation %s not yet resolved: %w", evt.EventID, err)
		}

		logger.Info("Operation request resolved",
			zap.String("event_id", evt.EventID),
			zap.String("transaction_id", transaction.ID),
			zap.String("status", string(transaction.Status)))
		return nil
	}
}

// dispatch selects the single code path for the requested operation kind.
func dispatch(ctx context.Context, service ledger.Service, evt event.OperationRequestedEvent) (*domain.Transaction, error) {
	switch domain.OperationKind(evt.Kind) {
	case domain.OperationDeposit:
		return service.Deposit(ctx, ledger.OperationRequest{
			IdempotencyKey: evt.EventID,
			PrincipalID:    evt.OwnerID,
			AccountID:      evt.AccountID,
			Amount:         evt.Amount,
			Currency:       evt.Currency,
		})
	case domain.OperationWithdrawal:
		return service.Withdraw(ctx, ledger.OperationRequest{
			IdempotencyKey: evt.EventID,
			PrincipalID:    evt.OwnerID,
			AccountID:      evt.AccountID,
			Amount:         evt.Amount,
			Currency:       evt.Currency,
		})
	case domain.OperationTransfer:
		return service.Transfer(ctx, ledger.TransferRequest{
			IdempotencyKey:       evt.EventID,
			PrincipalID:          evt.OwnerID,
			SourceAccountID:      evt.AccountID,
			DestinationAccountID: evt.ToAccountID,
			Amount:               evt.Amount,
			Currency:             evt.Currency,
		})
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %q", errUnknownKind, evt.Kind)
	}
}

var errUnknownKind = errors.New("unknown operation kind")

// isTerminal reports whether the engine reached a final decision that a
// redelivery could not change.
func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrAccountNotFound) ||
		errors.Is(err, domain.ErrAccountRetired) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrInvalidTransfer) ||
		errors.Is(err, domain.ErrInvalidCurrency) ||
		errors.Is(err, domain.ErrCurrencyMismatch) ||
		errors.Is(err, errUnknownKind)
}
