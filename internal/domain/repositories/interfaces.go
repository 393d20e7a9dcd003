// Package repositories defines the persistence gateways the reconciliation
// engine consumes. Implementations live in internal/infrastructure/repositories.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
)

// TerminalUpdate carries the optional processor-reported fields recorded when
// a transaction first reaches a terminal status.
type TerminalUpdate struct {
	TxHash *string
	Amount *decimal.Decimal
}

// TransactionRepository defines the interface for ledger transaction access
type TransactionRepository interface {
	Create(ctx context.Context, tx *entities.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)

	// GetByExternalID returns nil without error when no transaction matches
	GetByExternalID(ctx context.Context, externalID string) (*entities.Transaction, error)

	// ListPendingByCurrencies returns all pending transactions in the
	// monitored currency set, regardless of external id state.
	ListPendingByCurrencies(ctx context.Context, currencies []string) ([]*entities.Transaction, error)

	// TransitionFromPending atomically moves a transaction from pending to
	// newStatus, setting completed_at and any terminal fields. It reports
	// false when the transaction was no longer pending; losing this race is
	// expected and not an error.
	TransitionFromPending(ctx context.Context, id uuid.UUID, newStatus entities.TransactionStatus, completedAt time.Time, update *TerminalUpdate) (bool, error)

	Update(ctx context.Context, tx *entities.Transaction) error
}

// WalletRepository defines the interface for custodial wallet access
type WalletRepository interface {
	Create(ctx context.Context, wallet *entities.Wallet) error

	// GetByUserID returns nil without error when the user has no wallet
	GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error)

	GetByExternalWalletID(ctx context.Context, externalWalletID string) (*entities.Wallet, error)
}
