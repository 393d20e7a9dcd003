package reconciliation

import "time"

// NotificationTypeTransactionsUpdated is the only Circle notification type
// this service acts on.
const NotificationTypeTransactionsUpdated = "transactions.updated"

// WebhookNotification is the payload Circle pushes on transaction state changes
type WebhookNotification struct {
	NotificationID   string                  `json:"notificationId"`
	SubscriptionID   string                  `json:"subscriptionId"`
	NotificationType string                  `json:"notificationType"`
	Timestamp        time.Time               `json:"timestamp"`
	Notification     *WebhookTransactionData `json:"notification"`
}

// WebhookTransactionData is the embedded transaction reference
type WebhookTransactionData struct {
	ID                 string     `json:"id"`
	State              string     `json:"state"`
	Blockchain         *string    `json:"blockchain"`
	TxHash             *string    `json:"txHash"`
	SourceAddress      *string    `json:"sourceAddress"`
	DestinationAddress *string    `json:"destinationAddress"`
	Amounts            []string   `json:"amounts"`
	TokenID            *string    `json:"tokenId"`
	ErrorCode          *string    `json:"errorCode"`
	ErrorMessage       *string    `json:"errorMessage"`
	WalletID           *string    `json:"walletId"`
	UserID             *string    `json:"userId"`
	CreateDate         *time.Time `json:"createDate"`
	UpdateDate         *time.Time `json:"updateDate"`
}

// NotificationOutcome describes how a webhook notification was handled.
// Most non-applied outcomes are expected, frequent conditions rather than
// faults, so they are values consumed by branching, not errors.
type NotificationOutcome string

const (
	// OutcomeApplied means a status transition was committed
	OutcomeApplied NotificationOutcome = "applied"
	// OutcomeNoop means the transaction was already terminal or unchanged
	OutcomeNoop NotificationOutcome = "noop"
	// OutcomeIgnored means the notification type is not handled
	OutcomeIgnored NotificationOutcome = "ignored"
	// OutcomeDuplicate means this notification id was already processed
	OutcomeDuplicate NotificationOutcome = "duplicate"
	// OutcomeUnknownTransaction means no ledger record matches the reference
	OutcomeUnknownTransaction NotificationOutcome = "unknown_transaction"
)
