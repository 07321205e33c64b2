package services

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// BalanceService answers read queries over the balance history.
type BalanceService struct {
	uow      repository.UnitOfWork
	accounts repository.AccountRepository
	balances repository.BalanceRepository
}

func NewBalanceService(uow repository.UnitOfWork, accounts repository.AccountRepository, balances repository.BalanceRepository) *BalanceService {
	return &BalanceService{uow: uow, accounts: accounts, balances: balances}
}

type BalanceHistoryParams struct {
	AccountID *int64
	From      *civil.Date
	To        *civil.Date
}

// GetBalanceHistory returns the snapshots inside the window. When From is
// set, accounts with no snapshot inside it are represented by their latest
// earlier snapshot dated at From.
func (s *BalanceService) GetBalanceHistory(ctx context.Context, userID int64, p BalanceHistoryParams) ([]models.Balance, error) {
	if p.From != nil && p.To != nil && p.From.After(*p.To) {
		return nil, validationErrorf("from must not be after to")
	}

	q := s.uow.Reader()
	if p.AccountID != nil {
		if _, err := s.accounts.Get(ctx, q, userID, *p.AccountID); err != nil {
			return nil, classify("load account", "account", *p.AccountID, err)
		}
	}

	history, err := s.balances.List(ctx, q, userID, p.AccountID, p.From, p.To)
	if err != nil {
		return nil, unexpected("list balances", err)
	}
	if p.From == nil {
		return history, nil
	}

	present := make(map[int64]bool, len(history))
	for _, b := range history {
		present[b.AccountID] = true
	}

	prior, err := s.balances.LatestBefore(ctx, q, userID, p.AccountID, *p.From)
	if err != nil {
		return nil, unexpected("list prior balances", err)
	}
	for _, b := range prior {
		if present[b.AccountID] {
			continue
		}
		history = append(history, models.Balance{AccountID: b.AccountID, Date: *p.From, Amount: b.Amount})
	}

	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Date != history[j].Date {
			return history[i].Date.Before(history[j].Date)
		}
		return history[i].AccountID < history[j].AccountID
	})
	return history, nil
}

// GetBalanceOnDate returns the account's reference balance at the close of
// date. Days before the history starts report the opening balance.
func (s *BalanceService) GetBalanceOnDate(ctx context.Context, userID, accountID int64, date civil.Date) (int64, error) {
	q := s.uow.Reader()
	account, err := s.accounts.Get(ctx, q, userID, accountID)
	if err != nil {
		return 0, classify("load account", "account", accountID, err)
	}
	return s.balanceOn(ctx, q, account, date)
}

// GetTotalBalance sums every account's reference balance on date.
func (s *BalanceService) GetTotalBalance(ctx context.Context, userID int64, date civil.Date) (int64, error) {
	q := s.uow.Reader()
	accounts, err := s.accounts.List(ctx, q, userID)
	if err != nil {
		return 0, unexpected("list accounts", err)
	}

	var total int64
	for i := range accounts {
		amount, err := s.balanceOn(ctx, q, &accounts[i], date)
		if err != nil {
			return 0, err
		}
		total += amount
	}
	return total, nil
}

func (s *BalanceService) balanceOn(ctx context.Context, q repository.Querier, account *models.Account, date civil.Date) (int64, error) {
	b, err := s.balances.GetLatestOnOrBefore(ctx, q, account.ID, date)
	if errors.Is(err, repository.ErrNotFound) {
		return account.RefInitialBalance, nil
	}
	if err != nil {
		return 0, unexpected("load balance", err)
	}
	return b.Amount, nil
}
