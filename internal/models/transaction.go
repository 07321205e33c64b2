package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/civil"
)

// Transaction is a single ledger row. Amount is in the account currency,
// RefAmount in the owner's reference currency. Both are positive minor
// units; TransactionType carries the sign.
type Transaction struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"userId" db:"user_id"`
	AccountID       int64           `json:"accountId" db:"account_id"`
	Amount          int64           `json:"amount" db:"amount"`
	RefAmount       int64           `json:"refAmount" db:"ref_amount"`
	CurrencyCode    string          `json:"currencyCode" db:"currency_code"`
	RefCurrencyCode string          `json:"refCurrencyCode" db:"ref_currency_code"`
	Time            time.Time       `json:"time" db:"time"`
	TransactionType TransactionType `json:"transactionType" db:"transaction_type"`
	TransferNature  TransferNature  `json:"transferNature" db:"transfer_nature"`
	TransferID      *string         `json:"transferId" db:"transfer_id"`
	AccountType     AccountType     `json:"accountType" db:"account_type"`
	CategoryID      *int64          `json:"categoryId" db:"category_id"`
	Note            string          `json:"note" db:"note"`
	ExternalData    ExternalData    `json:"externalData,omitempty" db:"external_data"`
	RefundLinked    bool            `json:"refundLinked" db:"refund_linked"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

var (
	ErrTransferWithoutID  = errors.New("common transfer requires a transfer id")
	ErrTransferIDOnSingle = errors.New("transfer id set on a non-transfer transaction")
	ErrTransferAndRefund  = errors.New("transaction cannot be both a transfer and refund-linked")
	ErrInvalidTxType      = errors.New("invalid transaction type")
	ErrInvalidNature      = errors.New("invalid transfer nature")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrNonPositiveAmount  = errors.New("amount must be positive")
)

// Validate enforces the combinations the enum fields may take together.
func (t *Transaction) Validate() error {
	if !t.TransactionType.Valid() {
		return ErrInvalidTxType
	}
	if !t.TransferNature.Valid() {
		return ErrInvalidNature
	}
	if !t.AccountType.Valid() {
		return ErrInvalidAccountType
	}
	if t.Amount <= 0 || t.RefAmount <= 0 {
		return ErrNonPositiveAmount
	}
	if t.TransferNature.IsLinked() && t.TransferID == nil {
		return ErrTransferWithoutID
	}
	if !t.TransferNature.IsLinked() && t.TransferID != nil {
		return ErrTransferIDOnSingle
	}
	if t.TransferNature.IsLinked() && t.RefundLinked {
		return ErrTransferAndRefund
	}
	return nil
}

// Day is the calendar day whose balance snapshot the transaction affects.
func (t *Transaction) Day() civil.Date {
	return civil.DateOf(t.Time.UTC())
}

// SignedRefAmount is the contribution to the account's reference balance.
func (t *Transaction) SignedRefAmount() int64 {
	return t.TransactionType.Sign() * t.RefAmount
}

// SignedAmount is the contribution to the account-currency balance.
func (t *Transaction) SignedAmount() int64 {
	return t.TransactionType.Sign() * t.Amount
}

func (t *Transaction) IsExternal() bool {
	return t.AccountType.IsExternal()
}

func (t *Transaction) IsTransfer() bool {
	return t.TransferNature.IsLinked()
}

// ExternalData is the opaque provider payload stored as jsonb.
type ExternalData map[string]any

// Value implements driver.Valuer for ExternalData
func (m ExternalData) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for ExternalData
func (m *ExternalData) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}

// ReportedBalance returns the provider's running balance, in account
// currency minor units, when the payload carries one.
func (m ExternalData) ReportedBalance() (int64, bool) {
	raw, ok := m["balance"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}
