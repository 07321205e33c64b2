package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ruralpay/ledger/internal/models"
)

const transactionColumns = `id, user_id, account_id, amount, ref_amount, currency_code, ref_currency_code,
	time, transaction_type, transfer_nature, transfer_id, account_type, category_id, note,
	external_data, refund_linked, created_at, updated_at`

type transactionRepository struct{}

func NewTransactionRepository() TransactionRepository {
	return &transactionRepository{}
}

func (r *transactionRepository) Create(ctx context.Context, q Querier, tx *models.Transaction) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO transactions (user_id, account_id, amount, ref_amount, currency_code, ref_currency_code,
			time, transaction_type, transfer_nature, transfer_id, account_type, category_id, note, external_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, refund_linked, created_at, updated_at`,
		tx.UserID, tx.AccountID, tx.Amount, tx.RefAmount, tx.CurrencyCode, tx.RefCurrencyCode,
		tx.Time, tx.TransactionType, tx.TransferNature, tx.TransferID, tx.AccountType, tx.CategoryID,
		tx.Note, tx.ExternalData,
	)
	return mapError(row.Scan(&tx.ID, &tx.RefundLinked, &tx.CreatedAt, &tx.UpdatedAt))
}

func (r *transactionRepository) Get(ctx context.Context, q Querier, userID, id int64) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := sqlx.GetContext(ctx, q, tx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return tx, nil
}

func (r *transactionRepository) GetForUpdate(ctx context.Context, q Querier, userID, id int64) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := sqlx.GetContext(ctx, q, tx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return tx, nil
}

func (r *transactionRepository) GetTransferSibling(ctx context.Context, q Querier, tx *models.Transaction) (*models.Transaction, error) {
	if tx.TransferID == nil {
		return nil, ErrNotFound
	}
	sibling := &models.Transaction{}
	err := sqlx.GetContext(ctx, q, sibling,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE transfer_id = $1 AND id <> $2 AND user_id = $3
		 LIMIT 1 FOR UPDATE`,
		*tx.TransferID, tx.ID, tx.UserID)
	if err != nil {
		return nil, mapError(err)
	}
	return sibling, nil
}

func (r *transactionRepository) Update(ctx context.Context, q Querier, tx *models.Transaction) error {
	row := q.QueryRowxContext(ctx,
		`UPDATE transactions
		 SET account_id = $1, amount = $2, ref_amount = $3, currency_code = $4, ref_currency_code = $5,
			time = $6, transaction_type = $7, transfer_nature = $8, transfer_id = $9, account_type = $10,
			category_id = $11, note = $12, external_data = $13, updated_at = NOW()
		 WHERE id = $14
		 RETURNING updated_at`,
		tx.AccountID, tx.Amount, tx.RefAmount, tx.CurrencyCode, tx.RefCurrencyCode,
		tx.Time, tx.TransactionType, tx.TransferNature, tx.TransferID, tx.AccountType,
		tx.CategoryID, tx.Note, tx.ExternalData, tx.ID,
	)
	return mapError(row.Scan(&tx.UpdatedAt))
}

func (r *transactionRepository) Delete(ctx context.Context, q Querier, id int64) error {
	return execOne(ctx, q, `DELETE FROM transactions WHERE id = $1`, id)
}

func (r *transactionRepository) List(ctx context.Context, q Querier, userID int64, f TransactionFilter) ([]models.Transaction, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}

	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("time >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("time <= $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	query := fmt.Sprintf(
		`SELECT %s FROM transactions WHERE %s ORDER BY time DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	var txs []models.Transaction
	if err := sqlx.SelectContext(ctx, q, &txs, query, args...); err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *transactionRepository) RefreshRefundLinked(ctx context.Context, q Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`UPDATE transactions t
		 SET refund_linked = EXISTS (
			SELECT 1 FROM refund_links rl WHERE rl.original_tx_id = t.id OR rl.refund_tx_id = t.id
		 )
		 WHERE t.id = ANY($1)`,
		pq.Array(ids))
	return err
}

func (r *transactionRepository) ExpenseTotalsByCategory(ctx context.Context, q Querier, userID int64, from, to time.Time) ([]CategoryAmount, error) {
	var rows []CategoryAmount
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT category_id, COALESCE(SUM(ref_amount), 0) AS amount
		 FROM transactions
		 WHERE user_id = $1 AND transaction_type = $2 AND transfer_nature = $3
			AND time >= $4 AND time < $5
		 GROUP BY category_id`,
		userID, models.TransactionTypeExpense, models.TransferNatureNone, from, to)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *transactionRepository) RefundTotalsByCategory(ctx context.Context, q Querier, userID int64, from, to time.Time) ([]CategoryAmount, error) {
	var rows []CategoryAmount
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT COALESCE(o.category_id, r.category_id) AS category_id, COALESCE(SUM(r.ref_amount), 0) AS amount
		 FROM refund_links rl
		 JOIN transactions r ON r.id = rl.refund_tx_id
		 LEFT JOIN transactions o ON o.id = rl.original_tx_id
		 WHERE r.user_id = $1 AND r.transaction_type = $2
			AND r.time >= $3 AND r.time < $4
		 GROUP BY COALESCE(o.category_id, r.category_id)`,
		userID, models.TransactionTypeIncome, from, to)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
