package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is a money-movement record in the internal ledger, reconciled
// against the custodial processor's authoritative state.
type Transaction struct {
	ID uuid.UUID `json:"id" db:"id"`

	// UserID is the owning user, stored on the transaction at creation time
	// so reconciliation can resolve the wallet without a side lookup.
	UserID uuid.UUID `json:"user_id" db:"user_id"`

	// ExternalTransactionID is the processor's opaque id. Empty means the
	// upstream creation call never succeeded; such a transaction can never
	// be resolved by polling.
	ExternalTransactionID string `json:"external_transaction_id" db:"external_transaction_id"`

	Status   TransactionStatus `json:"status" db:"status"`
	Currency string            `json:"currency" db:"currency"`
	Amount   decimal.Decimal   `json:"amount" db:"amount"`

	// TxHash is the on-chain hash, recorded once the processor reports it
	TxHash *string `json:"tx_hash,omitempty" db:"tx_hash"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// CompletedAt is set exactly once, when status first leaves pending
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// HasExternalID reports whether the processor ever acknowledged this transaction
func (t *Transaction) HasExternalID() bool {
	return t.ExternalTransactionID != ""
}

// Age returns how long the transaction has been in the ledger
func (t *Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
