package repository

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/jmoiron/sqlx"

	"github.com/ruralpay/ledger/internal/models"
)

type currencyRepository struct{}

func NewCurrencyRepository() CurrencyRepository {
	return &currencyRepository{}
}

func (r *currencyRepository) GetUserBaseCurrency(ctx context.Context, q Querier, userID int64) (string, error) {
	var code string
	err := sqlx.GetContext(ctx, q, &code,
		`SELECT base_currency_code FROM users WHERE id = $1`, userID)
	if err != nil {
		return "", mapError(err)
	}
	return code, nil
}

func (r *currencyRepository) GetRate(ctx context.Context, q Querier, base, quote string, date civil.Date) (*models.ExchangeRate, error) {
	rate := &models.ExchangeRate{}
	err := sqlx.GetContext(ctx, q, rate,
		`SELECT base_code, quote_code, rate, date FROM exchange_rates
		 WHERE base_code = $1 AND quote_code = $2 AND date <= $3
		 ORDER BY date DESC LIMIT 1`,
		base, quote, dateArg(date))
	if err != nil {
		return nil, mapError(err)
	}
	return rate, nil
}
