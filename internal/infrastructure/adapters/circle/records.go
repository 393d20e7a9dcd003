package circle

import (
	"encoding/json"
	"time"
)

// TransactionRecord is the adapter's view of a transaction reported by the
// Circle API. It is built fresh from each response envelope and discarded
// after mapping; nothing here is persisted.
//
// State carries the processor's raw state string. Semantic mapping to the
// internal status happens in the reconciliation service, not here.
type TransactionRecord struct {
	TransactionID string
	State         string
	TxHash        *string
	Blockchain    string
	From          string
	To            string
	TokenAddress  *string
	Amount        string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
}

// envelope is the wrapper Circle puts around every payload
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// transactionPayload mirrors Circle's wire field names
type transactionPayload struct {
	ID                 string   `json:"id"`
	State              string   `json:"state"`
	TxHash             *string  `json:"txHash"`
	Blockchain         string   `json:"blockchain"`
	SourceAddress      string   `json:"sourceAddress"`
	DestinationAddress string   `json:"destinationAddress"`
	TokenID            *string  `json:"tokenId"`
	Amounts            []string `json:"amounts"`
	CreateDate         string   `json:"createDate"`
	UpdateDate         string   `json:"updateDate"`
}

// transactionListPayload is the data shape of the wallet transactions listing
type transactionListPayload struct {
	Transactions []transactionPayload `json:"transactions"`
}

// toRecord maps Circle's field names onto the adapter record.
// Absent optional fields stay unset; unparsable dates are dropped, not errors.
func (p *transactionPayload) toRecord() TransactionRecord {
	rec := TransactionRecord{
		TransactionID: p.ID,
		State:         p.State,
		TxHash:        p.TxHash,
		Blockchain:    p.Blockchain,
		From:          p.SourceAddress,
		To:            p.DestinationAddress,
		TokenAddress:  p.TokenID,
	}
	if len(p.Amounts) > 0 {
		rec.Amount = p.Amounts[0]
	}
	rec.CreatedAt = parseAPITime(p.CreateDate)
	rec.UpdatedAt = parseAPITime(p.UpdateDate)
	return rec
}

func parseAPITime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}
