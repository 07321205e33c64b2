package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// Account holds denormalized balances. CurrentBalance is in the account
// currency, the Ref* fields are in the owner's reference currency.
type Account struct {
	ID                int64       `json:"id" db:"id"`
	UserID            int64       `json:"userId" db:"user_id"`
	Name              string      `json:"name" db:"name"`
	CurrencyCode      string      `json:"currencyCode" db:"currency_code"`
	Type              AccountType `json:"type" db:"type"`
	InitialBalance    int64       `json:"initialBalance" db:"initial_balance"`
	RefInitialBalance int64       `json:"refInitialBalance" db:"ref_initial_balance"`
	CurrentBalance    int64       `json:"currentBalance" db:"current_balance"`
	RefCurrentBalance int64       `json:"refCurrentBalance" db:"ref_current_balance"`
	CreatedAt         time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time   `json:"updatedAt" db:"updated_at"`
}

// CreationDate is the day the first balance snapshot is recorded for.
func (a *Account) CreationDate() civil.Date {
	return civil.DateOf(a.CreatedAt.UTC())
}
