// Package transaction_monitor runs the scheduled reconciliation sweep that
// resolves pending ledger transactions against the payment processor.
package transaction_monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
	"github.com/coinpay-service/coinpay_service/internal/domain/repositories"
	"github.com/coinpay-service/coinpay_service/internal/domain/services/reconciliation"
	"github.com/coinpay-service/coinpay_service/internal/infrastructure/adapters/circle"
	"github.com/coinpay-service/coinpay_service/pkg/metrics"
)

// ProcessorClient is the subset of the Circle client the worker consumes
type ProcessorClient interface {
	GetWalletTransactions(ctx context.Context, externalWalletID string) ([]circle.TransactionRecord, error)
}

// Config controls the sweep behavior
type Config struct {
	// Currencies limits the sweep to transactions in these currencies
	Currencies []string

	// MaxTransactionAge marks pending transactions older than this as failed
	MaxTransactionAge time.Duration
}

// CycleResult summarizes a single reconciliation cycle
type CycleResult struct {
	Scanned int
	Updated int
	Failed  int
	Skipped int
	Errors  int
}

// Worker reconciles pending transactions against the processor. A cycle
// fetches each wallet's processor transaction list at most once.
type Worker struct {
	transactions repositories.TransactionRepository
	wallets      repositories.WalletRepository
	processor    ProcessorClient
	service      *reconciliation.Service
	cfg          Config
	logger       *zap.Logger
}

// NewWorker creates a reconciliation worker
func NewWorker(
	transactions repositories.TransactionRepository,
	wallets repositories.WalletRepository,
	processor ProcessorClient,
	service *reconciliation.Service,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxTransactionAge <= 0 {
		cfg.MaxTransactionAge = 24 * time.Hour
	}
	return &Worker{
		transactions: transactions,
		wallets:      wallets,
		processor:    processor,
		service:      service,
		cfg:          cfg,
		logger:       logger,
	}
}

// walletListing caches one wallet's processor transactions for the cycle
type walletListing struct {
	records map[string]circle.TransactionRecord
	err     error
}

// RunCycle performs one reconciliation sweep. Errors on individual
// transactions are counted and logged but never abort the cycle; the
// returned error covers only the initial pending-transaction query.
func (w *Worker) RunCycle(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	var result CycleResult

	pending, err := w.transactions.ListPendingByCurrencies(ctx, w.cfg.Currencies)
	if err != nil {
		metrics.ReconciliationCyclesTotal.WithLabelValues("error").Inc()
		return result, err
	}
	result.Scanned = len(pending)

	listings := make(map[string]*walletListing)
	now := time.Now().UTC()

	cancelled := false
	for _, tx := range pending {
		if ctx.Err() != nil {
			w.logger.Info("Reconciliation cycle cancelled",
				zap.Int("remaining", result.Scanned-result.Updated-result.Failed-result.Skipped-result.Errors))
			cancelled = true
			break
		}
		w.reconcileOne(ctx, tx, now, listings, &result)
	}

	cycleResult := "success"
	if cancelled {
		cycleResult = "cancelled"
	}
	metrics.ReconciliationCyclesTotal.WithLabelValues(cycleResult).Inc()
	metrics.ReconciliationCycleDuration.Observe(time.Since(started).Seconds())
	w.logger.Info("Reconciliation cycle finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", time.Since(started)))
	return result, nil
}

func (w *Worker) reconcileOne(
	ctx context.Context,
	tx *entities.Transaction,
	now time.Time,
	listings map[string]*walletListing,
	result *CycleResult,
) {
	log := w.logger.With(
		zap.String("transaction_id", tx.ID.String()),
		zap.String("external_transaction_id", tx.ExternalTransactionID))

	if tx.Age(now) > w.cfg.MaxTransactionAge {
		applied, err := w.service.FailPending(ctx, tx, now, metrics.PathPoll)
		if err != nil {
			log.Error("Failed to expire aged transaction", zap.Error(err))
			result.Errors++
			return
		}
		if applied {
			log.Warn("Transaction exceeded max age, marked failed",
				zap.Duration("age", tx.Age(now)))
			result.Failed++
		}
		return
	}

	if !tx.HasExternalID() {
		applied, err := w.service.FailPending(ctx, tx, now, metrics.PathPoll)
		if err != nil {
			log.Error("Failed to mark transaction without external id", zap.Error(err))
			result.Errors++
			return
		}
		if applied {
			log.Warn("Transaction has no external id, marked failed")
			result.Failed++
		}
		return
	}

	wallet, err := w.wallets.GetByUserID(ctx, tx.UserID)
	if err != nil {
		log.Error("Wallet lookup failed", zap.Error(err))
		result.Errors++
		return
	}
	if !wallet.Reconcilable() {
		log.Warn("No reconcilable wallet for transaction, skipping",
			zap.String("user_id", tx.UserID.String()))
		metrics.TransactionsSkippedTotal.WithLabelValues("wallet_unresolvable").Inc()
		result.Skipped++
		return
	}

	listing := w.listingFor(ctx, wallet.ExternalWalletID, listings)
	if listing.err != nil {
		log.Error("Wallet transaction listing failed",
			zap.String("external_wallet_id", wallet.ExternalWalletID),
			zap.Error(listing.err))
		result.Errors++
		return
	}

	record, ok := listing.records[tx.ExternalTransactionID]
	if !ok {
		log.Debug("Transaction not yet visible at processor, skipping")
		metrics.TransactionsSkippedTotal.WithLabelValues("not_indexed").Inc()
		result.Skipped++
		return
	}

	applied, err := w.service.ApplyProcessorState(ctx, tx, record.State, now, metrics.PathPoll, terminalUpdateFromRecord(record))
	if err != nil {
		log.Error("Failed to apply processor state",
			zap.String("processor_state", record.State),
			zap.Error(err))
		result.Errors++
		return
	}
	if applied {
		result.Updated++
	}
}

// listingFor fetches and indexes a wallet's processor transactions once per
// cycle. Fetch errors are cached too so a failing wallet costs one call.
func (w *Worker) listingFor(ctx context.Context, externalWalletID string, listings map[string]*walletListing) *walletListing {
	if cached, ok := listings[externalWalletID]; ok {
		return cached
	}

	listing := &walletListing{}
	records, err := w.processor.GetWalletTransactions(ctx, externalWalletID)
	if err != nil {
		listing.err = err
	} else {
		listing.records = make(map[string]circle.TransactionRecord, len(records))
		for _, record := range records {
			listing.records[record.TransactionID] = record
		}
	}
	listings[externalWalletID] = listing
	return listing
}

func terminalUpdateFromRecord(record circle.TransactionRecord) *repositories.TerminalUpdate {
	update := &repositories.TerminalUpdate{TxHash: record.TxHash}
	if record.Amount != "" {
		if amount, err := decimal.NewFromString(record.Amount); err == nil {
			update.Amount = &amount
		}
	}
	if update.TxHash == nil && update.Amount == nil {
		return nil
	}
	return update
}
