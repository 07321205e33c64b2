package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// TransferLinker pairs two existing transactions under one transfer id.
// Linking never changes amounts, so it never touches the ledger.
type TransferLinker struct {
	txs   repository.TransactionRepository
	newID func() string
}

func NewTransferLinker(txs repository.TransactionRepository) *TransferLinker {
	return &TransferLinker{txs: txs, newID: uuid.NewString}
}

// NewTransferID returns a fresh identifier shared by both legs of a pair.
func (l *TransferLinker) NewTransferID() *string {
	id := l.newID()
	return &id
}

// Link stamps base and the destination transaction as one transfer. base
// must already be persisted. The updated destination is returned.
func (l *TransferLinker) Link(ctx context.Context, q repository.Querier, userID int64, base *models.Transaction, destinationTxID int64) (*models.Transaction, error) {
	dest, err := l.txs.GetForUpdate(ctx, q, userID, destinationTxID)
	if err != nil {
		return nil, classify("load destination transaction", "transaction", destinationTxID, err)
	}

	switch {
	case dest.ID == base.ID:
		return nil, validationErrorf("a transaction cannot be linked to itself")
	case dest.TransactionType == base.TransactionType:
		return nil, validationErrorf("linked transactions must have opposite types")
	case dest.AccountID == base.AccountID:
		return nil, validationErrorf("linked transactions must belong to different accounts")
	case dest.IsTransfer():
		return nil, validationErrorf("transaction %d is already part of a transfer", dest.ID)
	case dest.RefundLinked || base.RefundLinked:
		return nil, validationErrorf("refund-linked transactions cannot be part of a transfer")
	}

	transferID := l.NewTransferID()
	for _, tx := range []*models.Transaction{base, dest} {
		tx.TransferNature = models.TransferNatureCommon
		tx.TransferID = transferID
		if err := l.txs.Update(ctx, q, tx); err != nil {
			return nil, classify("link transfer", "transaction", tx.ID, err)
		}
	}
	return dest, nil
}

// Unlink turns a transfer leg back into a standalone transaction.
func (l *TransferLinker) Unlink(ctx context.Context, q repository.Querier, tx *models.Transaction) error {
	tx.TransferNature = models.TransferNatureNone
	tx.TransferID = nil
	if err := l.txs.Update(ctx, q, tx); err != nil {
		return classify("unlink transfer", "transaction", tx.ID, err)
	}
	return nil
}
