package models

import "time"

// RefundLink annotates that RefundTxID compensates OriginalTxID. A nil
// original means the refunded purchase is not tracked in the ledger.
type RefundLink struct {
	ID           int64     `json:"id" db:"id"`
	OriginalTxID *int64    `json:"originalTxId" db:"original_tx_id"`
	RefundTxID   int64     `json:"refundTxId" db:"refund_tx_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
