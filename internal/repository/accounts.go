package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ruralpay/ledger/internal/models"
)

const accountColumns = `id, user_id, name, currency_code, type, initial_balance, ref_initial_balance,
	current_balance, ref_current_balance, created_at, updated_at`

type accountRepository struct{}

func NewAccountRepository() AccountRepository {
	return &accountRepository{}
}

func (r *accountRepository) Create(ctx context.Context, q Querier, a *models.Account) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO accounts (user_id, name, currency_code, type, initial_balance, ref_initial_balance,
			current_balance, ref_current_balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, updated_at`,
		a.UserID, a.Name, a.CurrencyCode, a.Type, a.InitialBalance, a.RefInitialBalance,
		a.CurrentBalance, a.RefCurrentBalance, a.CreatedAt,
	)
	return mapError(row.Scan(&a.ID, &a.UpdatedAt))
}

func (r *accountRepository) Get(ctx context.Context, q Querier, userID, id int64) (*models.Account, error) {
	a := &models.Account{}
	err := sqlx.GetContext(ctx, q, a,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *accountRepository) GetByID(ctx context.Context, q Querier, id int64) (*models.Account, error) {
	a := &models.Account{}
	err := sqlx.GetContext(ctx, q, a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *accountRepository) GetForUpdate(ctx context.Context, q Querier, userID, id int64) (*models.Account, error) {
	a := &models.Account{}
	err := sqlx.GetContext(ctx, q, a,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *accountRepository) List(ctx context.Context, q Querier, userID int64) ([]models.Account, error) {
	var accounts []models.Account
	err := sqlx.SelectContext(ctx, q, &accounts,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) UpdateName(ctx context.Context, q Querier, id int64, name string) error {
	return execOne(ctx, q,
		`UPDATE accounts SET name = $1, updated_at = NOW() WHERE id = $2`, name, id)
}

func (r *accountRepository) ApplyBalanceEdit(ctx context.Context, q Querier, id, diff, refDiff int64) error {
	return execOne(ctx, q,
		`UPDATE accounts
		 SET initial_balance = initial_balance + $1, current_balance = current_balance + $1,
			ref_initial_balance = ref_initial_balance + $2, updated_at = NOW()
		 WHERE id = $3`,
		diff, refDiff, id)
}

func (r *accountRepository) SetRefCurrentBalance(ctx context.Context, q Querier, id, amount int64) error {
	return execOne(ctx, q,
		`UPDATE accounts SET ref_current_balance = $1, updated_at = NOW() WHERE id = $2`, amount, id)
}

func (r *accountRepository) AdjustCurrentBalance(ctx context.Context, q Querier, id, delta int64) error {
	return execOne(ctx, q,
		`UPDATE accounts SET current_balance = current_balance + $1, updated_at = NOW() WHERE id = $2`, delta, id)
}

func (r *accountRepository) SetCurrentBalance(ctx context.Context, q Querier, id, amount int64) error {
	return execOne(ctx, q,
		`UPDATE accounts SET current_balance = $1, updated_at = NOW() WHERE id = $2`, amount, id)
}

func (r *accountRepository) Delete(ctx context.Context, q Querier, userID, id int64) error {
	return execOne(ctx, q, `DELETE FROM accounts WHERE id = $1 AND user_id = $2`, id, userID)
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, q Querier, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
