package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jmoiron/sqlx"

	"github.com/ruralpay/ledger/internal/models"
)

// balanceRow carries the DATE column as time.Time, which is what lib/pq
// hands back; civil.Date has no Scanner.
type balanceRow struct {
	AccountID int64     `db:"account_id"`
	Date      time.Time `db:"date"`
	Amount    int64     `db:"amount"`
}

func (b balanceRow) model() models.Balance {
	return models.Balance{
		AccountID: b.AccountID,
		Date:      civil.DateOf(b.Date.UTC()),
		Amount:    b.Amount,
	}
}

func toBalances(rows []balanceRow) []models.Balance {
	out := make([]models.Balance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}

type balanceRepository struct{}

func NewBalanceRepository() BalanceRepository {
	return &balanceRepository{}
}

func (r *balanceRepository) getOne(ctx context.Context, q Querier, query string, args ...any) (*models.Balance, error) {
	var row balanceRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		return nil, mapError(err)
	}
	b := row.model()
	return &b, nil
}

func (r *balanceRepository) GetForUpdate(ctx context.Context, q Querier, accountID int64, date civil.Date) (*models.Balance, error) {
	return r.getOne(ctx, q,
		`SELECT account_id, date, amount FROM balances WHERE account_id = $1 AND date = $2 FOR UPDATE`,
		accountID, dateArg(date))
}

func (r *balanceRepository) GetLatestBefore(ctx context.Context, q Querier, accountID int64, date civil.Date) (*models.Balance, error) {
	return r.getOne(ctx, q,
		`SELECT account_id, date, amount FROM balances WHERE account_id = $1 AND date < $2 ORDER BY date DESC LIMIT 1`,
		accountID, dateArg(date))
}

func (r *balanceRepository) GetLatestOnOrBefore(ctx context.Context, q Querier, accountID int64, date civil.Date) (*models.Balance, error) {
	return r.getOne(ctx, q,
		`SELECT account_id, date, amount FROM balances WHERE account_id = $1 AND date <= $2 ORDER BY date DESC LIMIT 1`,
		accountID, dateArg(date))
}

func (r *balanceRepository) GetLatest(ctx context.Context, q Querier, accountID int64) (*models.Balance, error) {
	return r.getOne(ctx, q,
		`SELECT account_id, date, amount FROM balances WHERE account_id = $1 ORDER BY date DESC LIMIT 1`,
		accountID)
}

func (r *balanceRepository) Insert(ctx context.Context, q Querier, b models.Balance) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO balances (account_id, date, amount) VALUES ($1, $2, $3)`,
		b.AccountID, dateArg(b.Date), b.Amount)
	return mapError(err)
}

func (r *balanceRepository) SetAmount(ctx context.Context, q Querier, accountID int64, date civil.Date, amount int64) error {
	return execOne(ctx, q,
		`UPDATE balances SET amount = $1 WHERE account_id = $2 AND date = $3`,
		amount, accountID, dateArg(date))
}

func (r *balanceRepository) AddAfter(ctx context.Context, q Querier, accountID int64, date civil.Date, delta int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE balances SET amount = amount + $1 WHERE account_id = $2 AND date > $3`,
		delta, accountID, dateArg(date))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *balanceRepository) AddAll(ctx context.Context, q Querier, accountID int64, delta int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE balances SET amount = amount + $1 WHERE account_id = $2`, delta, accountID)
	return err
}

func (r *balanceRepository) List(ctx context.Context, q Querier, userID int64, accountID *int64, from, to *civil.Date) ([]models.Balance, error) {
	conds := []string{"a.user_id = $1"}
	args := []any{userID}

	if accountID != nil {
		args = append(args, *accountID)
		conds = append(conds, fmt.Sprintf("b.account_id = $%d", len(args)))
	}
	if from != nil {
		args = append(args, dateArg(*from))
		conds = append(conds, fmt.Sprintf("b.date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, dateArg(*to))
		conds = append(conds, fmt.Sprintf("b.date <= $%d", len(args)))
	}

	query := `SELECT b.account_id, b.date, b.amount FROM balances b
		JOIN accounts a ON a.id = b.account_id
		WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY b.date, b.account_id`

	var rows []balanceRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	return toBalances(rows), nil
}

func (r *balanceRepository) LatestBefore(ctx context.Context, q Querier, userID int64, accountID *int64, date civil.Date) ([]models.Balance, error) {
	args := []any{userID, dateArg(date)}
	accountCond := ""
	if accountID != nil {
		args = append(args, *accountID)
		accountCond = " AND b.account_id = $3"
	}

	var rows []balanceRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT DISTINCT ON (b.account_id) b.account_id, b.date, b.amount FROM balances b
		 JOIN accounts a ON a.id = b.account_id
		 WHERE a.user_id = $1 AND b.date < $2`+accountCond+`
		 ORDER BY b.account_id, b.date DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	return toBalances(rows), nil
}
