package services

import (
	"context"
	"sort"
	"time"

	"github.com/ruralpay/ledger/internal/repository"
)

type CategorySpending struct {
	CategoryID *int64 `json:"categoryId"`
	Amount     int64  `json:"amount"`
}

type StatsService struct {
	uow repository.UnitOfWork
	txs repository.TransactionRepository
}

func NewStatsService(uow repository.UnitOfWork, txs repository.TransactionRepository) *StatsService {
	return &StatsService{uow: uow, txs: txs}
}

// SpendingsByCategory totals expenses in [from, to) per category in the
// reference currency. Linked refunds are subtracted from the category of
// the purchase they refund.
func (s *StatsService) SpendingsByCategory(ctx context.Context, userID int64, from, to time.Time) ([]CategorySpending, error) {
	if !from.Before(to) {
		return nil, validationErrorf("from must be before to")
	}

	q := s.uow.Reader()
	expenses, err := s.txs.ExpenseTotalsByCategory(ctx, q, userID, from, to)
	if err != nil {
		return nil, unexpected("sum expenses", err)
	}
	refunds, err := s.txs.RefundTotalsByCategory(ctx, q, userID, from, to)
	if err != nil {
		return nil, unexpected("sum refunds", err)
	}

	const uncategorized = int64(-1)
	key := func(id *int64) int64 {
		if id == nil {
			return uncategorized
		}
		return *id
	}

	totals := map[int64]*CategorySpending{}
	for _, e := range expenses {
		totals[key(e.CategoryID)] = &CategorySpending{CategoryID: e.CategoryID, Amount: e.Amount}
	}
	for _, r := range refunds {
		if t, ok := totals[key(r.CategoryID)]; ok {
			t.Amount -= r.Amount
		}
	}

	out := make([]CategorySpending, 0, len(totals))
	for _, t := range totals {
		if t.Amount > 0 {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return key(out[i].CategoryID) < key(out[j].CategoryID)
	})
	return out, nil
}
