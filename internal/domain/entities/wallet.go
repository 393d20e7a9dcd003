package entities

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's custodial wallet at the external processor
type Wallet struct {
	ID     uuid.UUID `json:"id" db:"id"`
	UserID uuid.UUID `json:"user_id" db:"user_id"`

	// ExternalWalletID is the processor-side wallet identifier used to
	// enumerate the wallet's transactions. Empty means provisioning has not
	// finished; transactions for this wallet cannot be reconciled yet.
	ExternalWalletID string `json:"external_wallet_id" db:"external_wallet_id"`

	Address    string    `json:"address" db:"address"`
	Blockchain string    `json:"blockchain" db:"blockchain"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Reconcilable reports whether the wallet can be queried at the processor
func (w *Wallet) Reconcilable() bool {
	return w != nil && w.ExternalWalletID != ""
}
