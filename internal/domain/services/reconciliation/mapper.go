package reconciliation

import (
	"strings"

	"github.com/coinpay-service/coinpay_service/internal/domain/entities"
)

// MapProcessorState maps a raw Circle transaction state to the internal
// status. Case-insensitive and side-effect free; the poll and push paths
// both go through this one function.
//
// Unrecognized states (including future processor states) map to pending:
// never guess a terminal state for an unknown input.
func MapProcessorState(raw string) entities.TransactionStatus {
	switch strings.ToUpper(raw) {
	case "CONFIRMED", "COMPLETE":
		return entities.TransactionStatusCompleted
	case "FAILED", "CANCELLED":
		return entities.TransactionStatusFailed
	default:
		return entities.TransactionStatusPending
	}
}
