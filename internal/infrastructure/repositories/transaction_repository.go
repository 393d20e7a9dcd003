package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
	"github.com/coinpay-service/coinpay_service/internal/domain/repositories"
)

// TransactionRepository handles ledger transaction persistence
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, user_id, external_transaction_id, status, currency, amount, tx_hash, created_at, completed_at`

// Create inserts a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *entities.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, external_transaction_id, status, currency, amount, tx_hash, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.ExternalTransactionID, tx.Status, tx.Currency, tx.Amount, tx.TxHash, tx.CreatedAt, tx.CompletedAt)
	return err
}

// GetByID returns a transaction by its ledger id, nil when not found
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)
	return r.getOne(ctx, query, id)
}

// GetByExternalID returns the transaction carrying the processor-side id,
// nil when no transaction matches
func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*entities.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE external_transaction_id = $1`, transactionColumns)
	return r.getOne(ctx, query, externalID)
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.Transaction, error) {
	tx := &entities.Transaction{}
	err := r.db.GetContext(ctx, tx, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !tx.Status.IsValid() {
		return nil, fmt.Errorf("transaction %s has invalid status %q", tx.ID, tx.Status)
	}
	return tx, nil
}

// ListPendingByCurrencies returns all pending transactions in the monitored
// currency set, oldest first
func (r *TransactionRepository) ListPendingByCurrencies(ctx context.Context, currencies []string) ([]*entities.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE status = $1 AND currency = ANY($2)
		ORDER BY created_at ASC`, transactionColumns)

	var txs []*entities.Transaction
	err := r.db.SelectContext(ctx, &txs, query, entities.TransactionStatusPending, pq.Array(currencies))
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// TransitionFromPending atomically moves a transaction out of pending. The
// WHERE clause is the only guard against the poll and webhook paths racing;
// losing the race reports false without error.
func (r *TransactionRepository) TransitionFromPending(ctx context.Context, id uuid.UUID, newStatus entities.TransactionStatus, completedAt time.Time, update *repositories.TerminalUpdate) (bool, error) {
	if err := entities.TransactionStatusPending.ValidateTransition(newStatus); err != nil {
		return false, err
	}

	query := `
		UPDATE transactions
		SET status = $1,
		    completed_at = $2,
		    tx_hash = COALESCE($3, tx_hash),
		    amount = COALESCE($4, amount)
		WHERE id = $5 AND status = $6`

	var txHash *string
	var amount interface{}
	if update != nil {
		txHash = update.TxHash
		if update.Amount != nil {
			amount = *update.Amount
		}
	}

	result, err := r.db.ExecContext(ctx, query,
		newStatus, completedAt, txHash, amount, id, entities.TransactionStatusPending)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Update persists mutable transaction fields
func (r *TransactionRepository) Update(ctx context.Context, tx *entities.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, amount = $2, tx_hash = $3, completed_at = $4
		WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, tx.Status, tx.Amount, tx.TxHash, tx.CompletedAt, tx.ID)
	return err
}
