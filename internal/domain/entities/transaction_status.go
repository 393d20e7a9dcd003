package entities

import "fmt"

// TransactionStatus represents the ledger status of a custodial transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"   // Awaiting processor confirmation
	TransactionStatusCompleted TransactionStatus = "completed" // Terminal: confirmed by processor
	TransactionStatusFailed    TransactionStatus = "failed"    // Terminal: failed, cancelled, or never created upstream
)

// ValidTransactionStatuses contains all valid transaction statuses
var ValidTransactionStatuses = map[TransactionStatus]bool{
	TransactionStatusPending:   true,
	TransactionStatusCompleted: true,
	TransactionStatusFailed:    true,
}

// ValidTransactionTransitions defines allowed status transitions.
// Terminal statuses have no outgoing edges; they must never be overwritten.
var ValidTransactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted: {},
	TransactionStatusFailed:    {},
}

// IsValid checks if the status is a valid transaction status
func (s TransactionStatus) IsValid() bool {
	return ValidTransactionStatuses[s]
}

// IsTerminal returns true if this is a terminal state
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// CanTransitionTo checks if transition to new status is allowed
func (s TransactionStatus) CanTransitionTo(newStatus TransactionStatus) bool {
	allowed, exists := ValidTransactionTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// ValidateTransition validates and returns error if transition is invalid
func (s TransactionStatus) ValidateTransition(newStatus TransactionStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid transaction status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// ParseTransactionStatus validates a raw stored value at the persistence boundary
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	status := TransactionStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown transaction status: %q", raw)
	}
	return status, nil
}
