package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
)

// WalletRepository handles custodial wallet persistence
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `id, user_id, external_wallet_id, address, blockchain, created_at`

// Create inserts a new wallet record
func (r *WalletRepository) Create(ctx context.Context, wallet *entities.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, external_wallet_id, address, blockchain, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query,
		wallet.ID, wallet.UserID, wallet.ExternalWalletID, wallet.Address, wallet.Blockchain, wallet.CreatedAt)
	return err
}

// GetByUserID returns the wallet owned by a user, nil when the user has none
func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return r.getOne(ctx, query, userID)
}

// GetByExternalWalletID returns the wallet matching the processor-side id,
// nil when no wallet matches
func (r *WalletRepository) GetByExternalWalletID(ctx context.Context, externalWalletID string) (*entities.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE external_wallet_id = $1`
	return r.getOne(ctx, query, externalWalletID)
}

func (r *WalletRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.Wallet, error) {
	wallet := &entities.Wallet{}
	err := r.db.GetContext(ctx, wallet, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return wallet, nil
}
