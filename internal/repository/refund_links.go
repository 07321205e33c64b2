package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/ruralpay/ledger/internal/models"
)

type refundLinkRepository struct{}

func NewRefundLinkRepository() RefundLinkRepository {
	return &refundLinkRepository{}
}

func (r *refundLinkRepository) Create(ctx context.Context, q Querier, link *models.RefundLink) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO refund_links (original_tx_id, refund_tx_id)
		 VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		link.OriginalTxID, link.RefundTxID)
	return mapError(row.Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt))
}

func (r *refundLinkRepository) GetByRefund(ctx context.Context, q Querier, refundTxID int64) (*models.RefundLink, error) {
	link := &models.RefundLink{}
	err := sqlx.GetContext(ctx, q, link,
		`SELECT id, original_tx_id, refund_tx_id, created_at, updated_at FROM refund_links WHERE refund_tx_id = $1`,
		refundTxID)
	if err != nil {
		return nil, mapError(err)
	}
	return link, nil
}

func (r *refundLinkRepository) ListByOriginal(ctx context.Context, q Querier, originalTxID int64) ([]models.RefundLink, error) {
	var links []models.RefundLink
	err := sqlx.SelectContext(ctx, q, &links,
		`SELECT id, original_tx_id, refund_tx_id, created_at, updated_at FROM refund_links WHERE original_tx_id = $1 ORDER BY id`,
		originalTxID)
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *refundLinkRepository) SumRefunded(ctx context.Context, q Querier, originalTxID int64) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, q, &total,
		`SELECT COALESCE(SUM(t.ref_amount), 0) FROM refund_links rl
		 JOIN transactions t ON t.id = rl.refund_tx_id
		 WHERE rl.original_tx_id = $1`,
		originalTxID)
	return total, err
}

func (r *refundLinkRepository) DeleteByRefund(ctx context.Context, q Querier, refundTxID int64) error {
	return execOne(ctx, q, `DELETE FROM refund_links WHERE refund_tx_id = $1`, refundTxID)
}

func (r *refundLinkRepository) DeleteForTransaction(ctx context.Context, q Querier, txID int64) ([]int64, error) {
	rows, err := q.QueryxContext(ctx,
		`DELETE FROM refund_links WHERE original_tx_id = $1 OR refund_tx_id = $1
		 RETURNING original_tx_id, refund_tx_id`,
		txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[int64]bool{}
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for rows.Next() {
		var original sql.NullInt64
		var refund int64
		if err := rows.Scan(&original, &refund); err != nil {
			return nil, err
		}
		if original.Valid {
			add(original.Int64)
		}
		add(refund)
	}
	return ids, rows.Err()
}
