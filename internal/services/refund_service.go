package services

import (
	"context"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

type RefundService struct {
	uow     repository.UnitOfWork
	txs     repository.TransactionRepository
	links   repository.RefundLinkRepository
	refunds *RefundLinker
	audit   Auditor
}

func NewRefundService(uow repository.UnitOfWork, txs repository.TransactionRepository, links repository.RefundLinkRepository, refunds *RefundLinker, auditor Auditor) *RefundService {
	return &RefundService{uow: uow, txs: txs, links: links, refunds: refunds, audit: auditor}
}

type RefundLinkParams struct {
	OriginalTxID *int64 `json:"originalTxId" validate:"omitempty,gt=0"`
	RefundTxID   int64  `json:"refundTxId" validate:"required,gt=0"`
}

func (s *RefundService) CreateLink(ctx context.Context, userID int64, p RefundLinkParams) (*models.RefundLink, error) {
	var link *models.RefundLink
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		link, err = s.refunds.Link(ctx, q, userID, p.OriginalTxID, p.RefundTxID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogRefund(audit.EventRefundLinked, userID, link.OriginalTxID, link.RefundTxID)
	return link, nil
}

func (s *RefundService) RemoveLink(ctx context.Context, userID, refundTxID int64) error {
	var link *models.RefundLink
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		link, err = s.refunds.Unlink(ctx, q, userID, refundTxID)
		return err
	})
	if err != nil {
		return err
	}
	s.audit.LogRefund(audit.EventRefundUnlinked, userID, link.OriginalTxID, link.RefundTxID)
	return nil
}

// ListRefunds returns the links whose original is originalTxID.
func (s *RefundService) ListRefunds(ctx context.Context, userID, originalTxID int64) ([]models.RefundLink, error) {
	q := s.uow.Reader()
	if _, err := s.txs.Get(ctx, q, userID, originalTxID); err != nil {
		return nil, classify("load transaction", "transaction", originalTxID, err)
	}
	links, err := s.links.ListByOriginal(ctx, q, originalTxID)
	if err != nil {
		return nil, unexpected("list refund links", err)
	}
	return links, nil
}
