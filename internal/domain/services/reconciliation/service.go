// Package reconciliation holds the logic shared by the polling worker and the
// webhook handler: mapping processor state to internal status and committing
// status transitions without ever overwriting a terminal state.
package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
	"github.com/coinpay-service/coinpay_service/internal/domain/repositories"
	"github.com/coinpay-service/coinpay_service/pkg/metrics"
	"github.com/coinpay-service/coinpay_service/pkg/security"
)

// ErrInvalidNotification indicates a notification missing its transaction
// reference or state; the boundary converts it to a client-error response.
var ErrInvalidNotification = errors.New("notification missing transaction id or state")

const replayProvider = "circle"

// Service applies processor-reported state to the ledger
type Service struct {
	transactions repositories.TransactionRepository
	replay       *security.WebhookReplayProtection
	logger       *zap.Logger
}

// NewService creates a reconciliation service
func NewService(
	transactions repositories.TransactionRepository,
	replay *security.WebhookReplayProtection,
	logger *zap.Logger,
) *Service {
	return &Service{
		transactions: transactions,
		replay:       replay,
		logger:       logger,
	}
}

// ApplyProcessorState maps the raw processor state and, when it yields a
// terminal status for a still-pending transaction, commits the transition
// through the storage layer's conditional update. Returns whether a
// transition was applied. Losing the race to the other path is a no-op.
func (s *Service) ApplyProcessorState(
	ctx context.Context,
	tx *entities.Transaction,
	rawState string,
	now time.Time,
	path string,
	update *repositories.TerminalUpdate,
) (bool, error) {
	mapped := MapProcessorState(rawState)
	if tx.Status != entities.TransactionStatusPending || mapped == tx.Status {
		return false, nil
	}

	applied, err := s.transactions.TransitionFromPending(ctx, tx.ID, mapped, now, update)
	if err != nil {
		return false, err
	}
	if !applied {
		s.logger.Debug("Transaction already terminal, transition skipped",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("path", path))
		return false, nil
	}

	previous := tx.Status
	tx.Status = mapped
	tx.CompletedAt = &now
	if update != nil {
		if update.TxHash != nil {
			tx.TxHash = update.TxHash
		}
		if update.Amount != nil {
			tx.Amount = *update.Amount
		}
	}

	metrics.TransactionTransitionsTotal.WithLabelValues(string(mapped), path).Inc()
	s.logger.Info("Transaction status updated",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("external_transaction_id", tx.ExternalTransactionID),
		zap.String("old_status", string(previous)),
		zap.String("new_status", string(mapped)),
		zap.String("path", path))
	return true, nil
}

// FailPending moves a pending transaction directly to failed, used for
// transactions that can never be resolved by polling (no external id, or
// aged out). Same conditional commit as every other transition.
func (s *Service) FailPending(ctx context.Context, tx *entities.Transaction, now time.Time, path string) (bool, error) {
	if tx.Status != entities.TransactionStatusPending {
		return false, nil
	}
	applied, err := s.transactions.TransitionFromPending(ctx, tx.ID, entities.TransactionStatusFailed, now, nil)
	if err != nil {
		return false, err
	}
	if applied {
		tx.Status = entities.TransactionStatusFailed
		tx.CompletedAt = &now
		metrics.TransactionTransitionsTotal.WithLabelValues(string(entities.TransactionStatusFailed), path).Inc()
	}
	return applied, nil
}

// ProcessNotification applies a single webhook notification. Delivery is
// at-least-once, so reprocessing an already-terminal transaction is a no-op.
func (s *Service) ProcessNotification(ctx context.Context, n *WebhookNotification) (NotificationOutcome, error) {
	log := s.logger.With(zap.String("notification_id", n.NotificationID))

	if n.NotificationType != NotificationTypeTransactionsUpdated {
		log.Debug("Ignoring notification type", zap.String("notification_type", n.NotificationType))
		metrics.WebhookNotificationsTotal.WithLabelValues(string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}

	if n.Notification == nil || n.Notification.ID == "" || n.Notification.State == "" {
		metrics.WebhookNotificationsTotal.WithLabelValues("invalid").Inc()
		return "", ErrInvalidNotification
	}

	if s.replay != nil {
		first, err := s.replay.FirstDelivery(ctx, replayProvider, n.NotificationID)
		if err != nil {
			return "", err
		}
		if !first {
			metrics.WebhookNotificationsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
			return OutcomeDuplicate, nil
		}
	}

	tx, err := s.transactions.GetByExternalID(ctx, n.Notification.ID)
	if err != nil {
		s.releaseNotification(ctx, n.NotificationID)
		return "", err
	}
	if tx == nil {
		log.Warn("Notification references unknown transaction",
			zap.String("external_transaction_id", n.Notification.ID))
		metrics.WebhookNotificationsTotal.WithLabelValues(string(OutcomeUnknownTransaction)).Inc()
		return OutcomeUnknownTransaction, nil
	}

	applied, err := s.ApplyProcessorState(ctx, tx, n.Notification.State, time.Now().UTC(), metrics.PathWebhook, terminalUpdateFromNotification(n.Notification))
	if err != nil {
		s.releaseNotification(ctx, n.NotificationID)
		return "", err
	}
	if !applied {
		metrics.WebhookNotificationsTotal.WithLabelValues(string(OutcomeNoop)).Inc()
		return OutcomeNoop, nil
	}

	metrics.WebhookNotificationsTotal.WithLabelValues(string(OutcomeApplied)).Inc()
	return OutcomeApplied, nil
}

// releaseNotification frees the claimed dedup key when processing fails. The
// boundary answers the failure with 500 so the processor redelivers; the
// redelivery must be processed, not flagged as a replay.
func (s *Service) releaseNotification(ctx context.Context, notificationID string) {
	if s.replay != nil {
		s.replay.Forget(ctx, replayProvider, notificationID)
	}
}

// terminalUpdateFromNotification collects processor-reported fields worth
// recording on the first terminal transition.
func terminalUpdateFromNotification(data *WebhookTransactionData) *repositories.TerminalUpdate {
	update := &repositories.TerminalUpdate{TxHash: data.TxHash}
	if len(data.Amounts) > 0 {
		if amount, err := decimal.NewFromString(data.Amounts[0]); err == nil {
			update.Amount = &amount
		}
	}
	if update.TxHash == nil && update.Amount == nil {
		return nil
	}
	return update
}
