package services

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/metrics"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// BalanceLedger maintains the sparse per-account history of daily closing
// balances. A snapshot holds for its date and every later day up to the
// next snapshot. All methods run inside the caller's unit of work.
type BalanceLedger struct {
	accounts repository.AccountRepository
	balances repository.BalanceRepository
	currency *CurrencyService
}

func NewBalanceLedger(accounts repository.AccountRepository, balances repository.BalanceRepository, currency *CurrencyService) *BalanceLedger {
	return &BalanceLedger{
		accounts: accounts,
		balances: balances,
		currency: currency,
	}
}

// TransactionChange describes one mutation of a transaction row. Previous
// is nil on create. On delete New is the row being removed.
type TransactionChange struct {
	New      *models.Transaction
	Previous *models.Transaction
	IsDelete bool
}

// InitAccount records the opening balance on the account's creation day.
func (l *BalanceLedger) InitAccount(ctx context.Context, q repository.Querier, account *models.Account) error {
	err := l.balances.Insert(ctx, q, models.Balance{
		AccountID: account.ID,
		Date:      account.CreationDate(),
		Amount:    account.RefInitialBalance,
	})
	if err != nil {
		return unexpected("insert opening balance", err)
	}
	metrics.RecordSnapshotWrite("insert")
	return nil
}

// ApplyDelta adds delta to the closing balance of date and every later
// snapshot of the account.
func (l *BalanceLedger) ApplyDelta(ctx context.Context, q repository.Querier, accountID int64, date civil.Date, delta int64) error {
	if delta == 0 {
		return nil
	}

	snap, err := l.balances.GetForUpdate(ctx, q, accountID, date)
	switch {
	case err == nil:
		if err := l.balances.SetAmount(ctx, q, accountID, date, snap.Amount+delta); err != nil {
			return unexpected("update balance", err)
		}
		metrics.RecordSnapshotWrite("update")
	case errors.Is(err, repository.ErrNotFound):
		if err := l.insertSnapshot(ctx, q, accountID, date, delta); err != nil {
			return err
		}
	default:
		return unexpected("lock balance", err)
	}

	n, err := l.balances.AddAfter(ctx, q, accountID, date, delta)
	if err != nil {
		return unexpected("propagate balance", err)
	}
	if n > 0 {
		metrics.RecordSnapshotWrite("propagate")
	}
	return nil
}

// insertSnapshot creates the missing snapshot at date from the closest
// earlier one. When date precedes the whole history, the opening balance is
// first pinned to the day before so it is not lost.
func (l *BalanceLedger) insertSnapshot(ctx context.Context, q repository.Querier, accountID int64, date civil.Date, delta int64) error {
	prev, err := l.balances.GetLatestBefore(ctx, q, accountID, date)
	if err == nil {
		if err := l.balances.Insert(ctx, q, models.Balance{AccountID: accountID, Date: date, Amount: prev.Amount + delta}); err != nil {
			return unexpected("insert balance", err)
		}
		metrics.RecordSnapshotWrite("insert")
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return unexpected("load previous balance", err)
	}

	account, err := l.accounts.GetByID(ctx, q, accountID)
	if err != nil {
		return classify("load account", "account", accountID, err)
	}

	baseline := models.Balance{AccountID: accountID, Date: date.AddDays(-1), Amount: account.RefInitialBalance}
	if err := l.balances.Insert(ctx, q, baseline); err != nil {
		return unexpected("insert baseline balance", err)
	}
	if err := l.balances.Insert(ctx, q, models.Balance{AccountID: accountID, Date: date, Amount: account.RefInitialBalance + delta}); err != nil {
		return unexpected("insert balance", err)
	}
	metrics.RecordSnapshotWrite("insert")
	metrics.RecordSnapshotWrite("insert")
	return nil
}

// ShiftAll moves every snapshot of the account by diff. Used when the
// opening balance is corrected without a transaction.
func (l *BalanceLedger) ShiftAll(ctx context.Context, q repository.Querier, accountID, diff int64) error {
	if diff != 0 {
		if err := l.balances.AddAll(ctx, q, accountID, diff); err != nil {
			return unexpected("shift balances", err)
		}
		metrics.RecordSnapshotWrite("propagate")
	}
	return l.refreshRefCurrent(ctx, q, accountID)
}

// HandleTransactionChange applies one transaction mutation to the history
// and then refreshes the cached balances of every account it touched.
func (l *BalanceLedger) HandleTransactionChange(ctx context.Context, q repository.Querier, c TransactionChange) error {
	amountDelta := map[int64]int64{}
	reported := map[int64]int64{}

	switch {
	case c.IsDelete:
		tx := c.New
		amountDelta[tx.AccountID] = 0
		if _, ok := externalBalance(tx); ok {
			break
		}
		if err := l.ApplyDelta(ctx, q, tx.AccountID, tx.Day(), -tx.SignedRefAmount()); err != nil {
			return err
		}
		amountDelta[tx.AccountID] -= tx.SignedAmount()

	case c.Previous == nil:
		tx := c.New
		amountDelta[tx.AccountID] = 0
		if balance, ok := externalBalance(tx); ok {
			latest, err := l.applyReported(ctx, q, tx, balance)
			if err != nil {
				return err
			}
			if latest {
				reported[tx.AccountID] = balance
			}
			break
		}
		if err := l.ApplyDelta(ctx, q, tx.AccountID, tx.Day(), tx.SignedRefAmount()); err != nil {
			return err
		}
		amountDelta[tx.AccountID] += tx.SignedAmount()

	default:
		prev, next := c.Previous, c.New
		unchanged := sameBalanceFootprint(prev, next)
		if balance, ok := externalBalance(next); ok {
			if unchanged {
				return nil
			}
			amountDelta[next.AccountID] = 0
			latest, err := l.applyReported(ctx, q, next, balance)
			if err != nil {
				return err
			}
			if latest {
				reported[next.AccountID] = balance
			}
			break
		}
		if unchanged && prev.Amount == next.Amount {
			return nil
		}
		if !unchanged {
			if err := l.ApplyDelta(ctx, q, prev.AccountID, prev.Day(), -prev.SignedRefAmount()); err != nil {
				return err
			}
			if err := l.ApplyDelta(ctx, q, next.AccountID, next.Day(), next.SignedRefAmount()); err != nil {
				return err
			}
		}
		amountDelta[prev.AccountID] -= prev.SignedAmount()
		amountDelta[next.AccountID] += next.SignedAmount()
	}

	ids := make([]int64, 0, len(amountDelta))
	for id := range amountDelta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := l.refreshRefCurrent(ctx, q, id); err != nil {
			return err
		}
		if balance, ok := reported[id]; ok {
			if err := l.accounts.SetCurrentBalance(ctx, q, id, balance); err != nil {
				return classify("set current balance", "account", id, err)
			}
			continue
		}
		if delta := amountDelta[id]; delta != 0 {
			if err := l.accounts.AdjustCurrentBalance(ctx, q, id, delta); err != nil {
				return classify("adjust current balance", "account", id, err)
			}
		}
	}
	return nil
}

// applyReported stores the provider's running balance for the row's day.
// The provider is authoritative, so later snapshots are left untouched. It
// reports whether the stored value is now the account's latest snapshot,
// which is the only case where the reported balance becomes current.
func (l *BalanceLedger) applyReported(ctx context.Context, q repository.Querier, tx *models.Transaction, balance int64) (bool, error) {
	refBalance, err := l.currency.ConvertBalance(ctx, balance, tx.CurrencyCode, tx.RefCurrencyCode, tx.Day())
	if err != nil {
		return false, err
	}

	snap, err := l.balances.GetForUpdate(ctx, q, tx.AccountID, tx.Day())
	switch {
	case err == nil:
		if refBalance <= snap.Amount {
			return false, nil
		}
		if err := l.balances.SetAmount(ctx, q, tx.AccountID, tx.Day(), refBalance); err != nil {
			return false, unexpected("update reported balance", err)
		}
		metrics.RecordSnapshotWrite("update")
	case errors.Is(err, repository.ErrNotFound):
		if err := l.balances.Insert(ctx, q, models.Balance{AccountID: tx.AccountID, Date: tx.Day(), Amount: refBalance}); err != nil {
			return false, unexpected("insert reported balance", err)
		}
		metrics.RecordSnapshotWrite("insert")
	default:
		return false, unexpected("lock balance", err)
	}

	latest, err := l.balances.GetLatest(ctx, q, tx.AccountID)
	if err != nil {
		return false, classify("load latest balance", "balance", tx.AccountID, err)
	}

	log := logger.FromContext(ctx)
	log.Debug().Int64("account_id", tx.AccountID).Int64("ref_balance", refBalance).Msg("[LEDGER] applied reported balance")
	return !tx.Day().Before(latest.Date), nil
}

func (l *BalanceLedger) refreshRefCurrent(ctx context.Context, q repository.Querier, accountID int64) error {
	latest, err := l.balances.GetLatest(ctx, q, accountID)
	if err != nil {
		return classify("load latest balance", "balance", accountID, err)
	}
	if err := l.accounts.SetRefCurrentBalance(ctx, q, accountID, latest.Amount); err != nil {
		return classify("set ref current balance", "account", accountID, err)
	}
	return nil
}

func externalBalance(tx *models.Transaction) (int64, bool) {
	if !tx.IsExternal() {
		return 0, false
	}
	return tx.ExternalData.ReportedBalance()
}

// sameBalanceFootprint reports whether two states of a row contribute the
// same amount to the same account snapshot.
func sameBalanceFootprint(a, b *models.Transaction) bool {
	return a.AccountID == b.AccountID &&
		a.Day() == b.Day() &&
		a.TransactionType == b.TransactionType &&
		a.RefAmount == b.RefAmount
}
