package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate converts one unit of BaseCode into Rate units of QuoteCode.
type ExchangeRate struct {
	BaseCode  string          `json:"baseCode" db:"base_code"`
	QuoteCode string          `json:"quoteCode" db:"quote_code"`
	Rate      decimal.Decimal `json:"rate" db:"rate"`
	Date      time.Time       `json:"date" db:"date"`
}
