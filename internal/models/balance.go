package models

import "cloud.google.com/go/civil"

// Balance is the closing reference-currency balance of an account for Date
// and every following day up to the next snapshot.
type Balance struct {
	AccountID int64      `json:"accountId"`
	Date      civil.Date `json:"date"`
	Amount    int64      `json:"amount"`
}
