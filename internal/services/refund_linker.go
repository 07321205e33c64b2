package services

import (
	"context"
	"errors"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// RefundLinker maintains refund links. A link annotates two transactions
// that the ledger has already accounted for, so it never moves balances.
type RefundLinker struct {
	txs   repository.TransactionRepository
	links repository.RefundLinkRepository
}

func NewRefundLinker(txs repository.TransactionRepository, links repository.RefundLinkRepository) *RefundLinker {
	return &RefundLinker{txs: txs, links: links}
}

// Link records that refundTxID refunds originalTxID. A nil original marks a
// refund whose purchase is not tracked.
func (l *RefundLinker) Link(ctx context.Context, q repository.Querier, userID int64, originalTxID *int64, refundTxID int64) (*models.RefundLink, error) {
	refund, err := l.txs.GetForUpdate(ctx, q, userID, refundTxID)
	if err != nil {
		return nil, classify("load refund transaction", "transaction", refundTxID, err)
	}
	if refund.IsTransfer() {
		return nil, validationErrorf("transfer transactions cannot be refunds")
	}

	if _, err := l.links.GetByRefund(ctx, q, refundTxID); err == nil {
		return nil, validationErrorf("transaction %d is already linked as a refund", refundTxID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, unexpected("load refund link", err)
	}

	ids := []int64{refund.ID}
	if originalTxID != nil {
		original, err := l.txs.GetForUpdate(ctx, q, userID, *originalTxID)
		if err != nil {
			return nil, classify("load original transaction", "transaction", *originalTxID, err)
		}
		if err := checkRefundPair(original, refund); err != nil {
			return nil, err
		}

		refunded, err := l.links.SumRefunded(ctx, q, original.ID)
		if err != nil {
			return nil, unexpected("sum refunds", err)
		}
		if refunded+refund.RefAmount > original.RefAmount {
			return nil, validationErrorf("refund amount exceeds the original transaction")
		}
		ids = append(ids, original.ID)
	}

	link := &models.RefundLink{OriginalTxID: originalTxID, RefundTxID: refundTxID}
	if err := l.links.Create(ctx, q, link); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, validationErrorf("transaction %d is already linked as a refund", refundTxID)
		}
		return nil, unexpected("create refund link", err)
	}
	if err := l.txs.RefreshRefundLinked(ctx, q, ids); err != nil {
		return nil, unexpected("refresh refund flags", err)
	}
	return link, nil
}

// Unlink removes the link whose refund side is refundTxID.
func (l *RefundLinker) Unlink(ctx context.Context, q repository.Querier, userID, refundTxID int64) (*models.RefundLink, error) {
	if _, err := l.txs.Get(ctx, q, userID, refundTxID); err != nil {
		return nil, classify("load refund transaction", "transaction", refundTxID, err)
	}
	link, err := l.links.GetByRefund(ctx, q, refundTxID)
	if err != nil {
		return nil, classify("load refund link", "refund link", refundTxID, err)
	}
	if err := l.links.DeleteByRefund(ctx, q, refundTxID); err != nil {
		return nil, classify("delete refund link", "refund link", refundTxID, err)
	}

	ids := []int64{refundTxID}
	if link.OriginalTxID != nil {
		ids = append(ids, *link.OriginalTxID)
	}
	if err := l.txs.RefreshRefundLinked(ctx, q, ids); err != nil {
		return nil, unexpected("refresh refund flags", err)
	}
	return link, nil
}

// RemoveForTransaction drops every link that txID takes part in, on either
// side, and clears the flag on counterparts left without links.
func (l *RefundLinker) RemoveForTransaction(ctx context.Context, q repository.Querier, txID int64) error {
	ids, err := l.links.DeleteForTransaction(ctx, q, txID)
	if err != nil {
		return unexpected("delete refund links", err)
	}

	others := ids[:0]
	for _, id := range ids {
		if id != txID {
			others = append(others, id)
		}
	}
	if err := l.txs.RefreshRefundLinked(ctx, q, others); err != nil {
		return unexpected("refresh refund flags", err)
	}
	return nil
}

// CheckAmounts re-validates the refund totals around tx after its
// ref_amount changed from prevRefAmount.
func (l *RefundLinker) CheckAmounts(ctx context.Context, q repository.Querier, tx *models.Transaction, prevRefAmount int64) error {
	refunded, err := l.links.SumRefunded(ctx, q, tx.ID)
	if err != nil {
		return unexpected("sum refunds", err)
	}
	if refunded > tx.RefAmount {
		return validationErrorf("transaction amount is below what was already refunded")
	}

	link, err := l.links.GetByRefund(ctx, q, tx.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return unexpected("load refund link", err)
	}
	if link.OriginalTxID == nil {
		return nil
	}

	original, err := l.txs.Get(ctx, q, tx.UserID, *link.OriginalTxID)
	if err != nil {
		return classify("load original transaction", "transaction", *link.OriginalTxID, err)
	}
	total, err := l.links.SumRefunded(ctx, q, original.ID)
	if err != nil {
		return unexpected("sum refunds", err)
	}
	if total-prevRefAmount+tx.RefAmount > original.RefAmount {
		return validationErrorf("refund amount exceeds the original transaction")
	}
	return nil
}

func checkRefundPair(original, refund *models.Transaction) error {
	switch {
	case original.ID == refund.ID:
		return validationErrorf("a transaction cannot refund itself")
	case original.IsTransfer():
		return validationErrorf("transfer transactions cannot be refunded")
	case original.TransactionType == refund.TransactionType:
		return validationErrorf("refund must have the opposite type of the original")
	}
	return nil
}
