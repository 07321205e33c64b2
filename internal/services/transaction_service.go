package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/metrics"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// Auditor receives one event per committed ledger mutation.
type Auditor interface {
	LogTransaction(eventType string, userID, txID, accountID, refAmount int64)
	LogRefund(eventType string, userID int64, originalTxID *int64, refundTxID int64)
	LogBalanceEdit(userID, accountID, diff, refDiff int64)
	LogError(userID int64, operation string, err error)
}

type TransactionService struct {
	uow       repository.UnitOfWork
	accounts  repository.AccountRepository
	txs       repository.TransactionRepository
	ledger    *BalanceLedger
	transfers *TransferLinker
	refunds   *RefundLinker
	currency  *CurrencyService
	audit     Auditor
}

func NewTransactionService(
	uow repository.UnitOfWork,
	accounts repository.AccountRepository,
	txs repository.TransactionRepository,
	ledger *BalanceLedger,
	transfers *TransferLinker,
	refunds *RefundLinker,
	currency *CurrencyService,
	auditor Auditor,
) *TransactionService {
	return &TransactionService{
		uow:       uow,
		accounts:  accounts,
		txs:       txs,
		ledger:    ledger,
		transfers: transfers,
		refunds:   refunds,
		currency:  currency,
		audit:     auditor,
	}
}

type CreateTransactionParams struct {
	AccountID       int64                  `json:"accountId" validate:"required,gt=0"`
	Amount          int64                  `json:"amount" validate:"required,gt=0"`
	Time            time.Time              `json:"time" validate:"required"`
	TransactionType models.TransactionType `json:"transactionType" validate:"omitempty,oneof=income expense"`
	TransferNature  models.TransferNature  `json:"transferNature" validate:"omitempty,oneof=not_transfer common_transfer transfer_out_wallet"`
	CategoryID      *int64                 `json:"categoryId"`
	Note            string                 `json:"note" validate:"max=2000"`
	ExternalData    models.ExternalData    `json:"externalData,omitempty"`
	// A common transfer names either a destination account and amount, or
	// an existing transaction to pair with.
	DestinationAccountID     *int64 `json:"destinationAccountId" validate:"omitempty,gt=0"`
	DestinationAmount        *int64 `json:"destinationAmount" validate:"omitempty,gt=0"`
	DestinationTransactionID *int64 `json:"destinationTransactionId" validate:"omitempty,gt=0"`
	// RefundsTxID links the new transaction as a refund of an existing one.
	RefundsTxID *int64 `json:"refundsTxId" validate:"omitempty,gt=0"`
}

type UpdateTransactionParams struct {
	AccountID                *int64                  `json:"accountId" validate:"omitempty,gt=0"`
	Amount                   *int64                  `json:"amount" validate:"omitempty,gt=0"`
	Time                     *time.Time              `json:"time"`
	TransactionType          *models.TransactionType `json:"transactionType" validate:"omitempty,oneof=income expense"`
	TransferNature           *models.TransferNature  `json:"transferNature" validate:"omitempty,oneof=not_transfer common_transfer transfer_out_wallet"`
	CategoryID               *int64                  `json:"categoryId"`
	Note                     *string                 `json:"note" validate:"omitempty,max=2000"`
	DestinationAccountID     *int64                  `json:"destinationAccountId" validate:"omitempty,gt=0"`
	DestinationAmount        *int64                  `json:"destinationAmount" validate:"omitempty,gt=0"`
	DestinationTransactionID *int64                  `json:"destinationTransactionId" validate:"omitempty,gt=0"`
}

type ListTransactionsParams struct {
	AccountID *int64
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (s *TransactionService) GetTransaction(ctx context.Context, userID, txID int64) (*models.Transaction, error) {
	tx, err := s.txs.Get(ctx, s.uow.Reader(), userID, txID)
	if err != nil {
		return nil, classify("load transaction", "transaction", txID, err)
	}
	return tx, nil
}

func (s *TransactionService) ListTransactions(ctx context.Context, userID int64, p ListTransactionsParams) ([]models.Transaction, error) {
	if p.From != nil && p.To != nil && p.From.After(*p.To) {
		return nil, validationErrorf("from must not be after to")
	}
	txs, err := s.txs.List(ctx, s.uow.Reader(), userID, repository.TransactionFilter{
		AccountID: p.AccountID,
		From:      p.From,
		To:        p.To,
		Limit:     p.Limit,
		Offset:    p.Offset,
	})
	if err != nil {
		return nil, unexpected("list transactions", err)
	}
	return txs, nil
}

// CreateTransaction posts a transaction and, for transfers, its opposite
// leg. The first returned row is the one described by p.
func (s *TransactionService) CreateTransaction(ctx context.Context, userID int64, p CreateTransactionParams) ([]models.Transaction, error) {
	if err := checkCreateParams(p); err != nil {
		s.record(ctx, userID, "create", err)
		return nil, err
	}

	var created []models.Transaction
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		created, err = s.create(ctx, q, userID, p)
		return err
	})
	s.record(ctx, userID, "create", err)
	if err != nil {
		return nil, err
	}

	for _, tx := range created {
		s.audit.LogTransaction(audit.EventTransactionCreated, userID, tx.ID, tx.AccountID, tx.RefAmount)
	}
	return created, nil
}

func checkCreateParams(p CreateTransactionParams) error {
	if p.AccountID <= 0 {
		return validationErrorf("accountId is required")
	}
	if p.Amount <= 0 {
		return validationErrorf("amount must be positive")
	}
	if p.Time.IsZero() {
		return validationErrorf("time is required")
	}

	nature := p.TransferNature
	if nature == "" {
		nature = models.TransferNatureNone
	}
	if !nature.Valid() {
		return validationErrorf("unknown transfer nature %q", p.TransferNature)
	}

	if !nature.IsLinked() {
		if !p.TransactionType.Valid() {
			return validationErrorf("transactionType must be income or expense")
		}
		if p.DestinationAccountID != nil || p.DestinationAmount != nil || p.DestinationTransactionID != nil {
			return validationErrorf("destination fields are only allowed on common transfers")
		}
		return nil
	}

	if p.RefundsTxID != nil {
		return validationErrorf("a transfer cannot be refund-linked")
	}
	if p.DestinationTransactionID == nil && (p.DestinationAccountID == nil || p.DestinationAmount == nil) {
		return validationErrorf("transfer requires destinationAccountId and destinationAmount, or destinationTransactionId")
	}
	if p.DestinationAmount != nil && *p.DestinationAmount <= 0 {
		return validationErrorf("destinationAmount must be positive")
	}
	return nil
}

func (s *TransactionService) create(ctx context.Context, q repository.Querier, userID int64, p CreateTransactionParams) ([]models.Transaction, error) {
	refCode, err := s.currency.RefCurrency(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	lockIDs := []int64{p.AccountID}
	if p.DestinationAccountID != nil {
		lockIDs = append(lockIDs, *p.DestinationAccountID)
	}
	accounts, err := s.lockAccounts(ctx, q, userID, lockIDs...)
	if err != nil {
		return nil, err
	}

	src := accounts[p.AccountID]
	base := &models.Transaction{
		UserID:          userID,
		AccountID:       src.ID,
		Amount:          p.Amount,
		CurrencyCode:    src.CurrencyCode,
		RefCurrencyCode: refCode,
		Time:            p.Time.UTC(),
		TransactionType: p.TransactionType,
		TransferNature:  models.TransferNatureNone,
		AccountType:     src.Type,
		CategoryID:      p.CategoryID,
		Note:            p.Note,
		ExternalData:    p.ExternalData,
	}
	if p.TransferNature == models.TransferNatureOutOfWallet {
		base.TransferNature = models.TransferNatureOutOfWallet
	}
	if base.RefAmount, err = s.currency.ToRefAmount(ctx, base.Amount, base.CurrencyCode, refCode, base.Day()); err != nil {
		return nil, err
	}

	var leg *models.Transaction
	if p.TransferNature.IsLinked() {
		base.TransactionType = models.TransactionTypeExpense
		if p.DestinationTransactionID == nil {
			dest := accounts[*p.DestinationAccountID]
			if dest.ID == src.ID {
				return nil, validationErrorf("transfer source and destination accounts must differ")
			}
			base.TransferNature = models.TransferNatureCommon
			base.TransferID = s.transfers.NewTransferID()
			leg = oppositeLeg(base, dest, *p.DestinationAmount)
		}
	}

	if err := s.insert(ctx, q, base); err != nil {
		return nil, err
	}

	if leg != nil {
		if err := s.insert(ctx, q, leg); err != nil {
			return nil, err
		}
	} else if p.DestinationTransactionID != nil {
		if leg, err = s.transfers.Link(ctx, q, userID, base, *p.DestinationTransactionID); err != nil {
			return nil, err
		}
	}

	if p.RefundsTxID != nil {
		if _, err := s.refunds.Link(ctx, q, userID, p.RefundsTxID, base.ID); err != nil {
			return nil, err
		}
		base.RefundLinked = true
	}

	out := []models.Transaction{*base}
	if leg != nil {
		out = append(out, *leg)
	}
	return out, nil
}

// oppositeLeg builds the income side of a transfer. Its ref amount is
// copied from the source so both legs agree in the reference currency.
func oppositeLeg(src *models.Transaction, dest *models.Account, amount int64) *models.Transaction {
	return &models.Transaction{
		UserID:          src.UserID,
		AccountID:       dest.ID,
		Amount:          amount,
		RefAmount:       src.RefAmount,
		CurrencyCode:    dest.CurrencyCode,
		RefCurrencyCode: src.RefCurrencyCode,
		Time:            src.Time,
		TransactionType: src.TransactionType.Opposite(),
		TransferNature:  models.TransferNatureCommon,
		TransferID:      src.TransferID,
		AccountType:     dest.Type,
		CategoryID:      src.CategoryID,
		Note:            src.Note,
	}
}

func (s *TransactionService) insert(ctx context.Context, q repository.Querier, tx *models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return validationErrorf("%v", err)
	}
	if err := s.txs.Create(ctx, q, tx); err != nil {
		return unexpected("insert transaction", err)
	}
	return s.ledger.HandleTransactionChange(ctx, q, TransactionChange{New: tx})
}

func (s *TransactionService) save(ctx context.Context, q repository.Querier, prev, next *models.Transaction) error {
	if err := next.Validate(); err != nil {
		return validationErrorf("%v", err)
	}
	if err := s.txs.Update(ctx, q, next); err != nil {
		return classify("update transaction", "transaction", next.ID, err)
	}
	return s.ledger.HandleTransactionChange(ctx, q, TransactionChange{New: next, Previous: prev})
}

func (s *TransactionService) remove(ctx context.Context, q repository.Querier, tx *models.Transaction) error {
	if err := s.refunds.RemoveForTransaction(ctx, q, tx.ID); err != nil {
		return err
	}
	if err := s.ledger.HandleTransactionChange(ctx, q, TransactionChange{New: tx, IsDelete: true}); err != nil {
		return err
	}
	if err := s.txs.Delete(ctx, q, tx.ID); err != nil {
		return classify("delete transaction", "transaction", tx.ID, err)
	}
	return nil
}

// UpdateTransaction edits a transaction. When the row is the expense leg of
// a transfer the opposite leg is kept in step and returned second.
func (s *TransactionService) UpdateTransaction(ctx context.Context, userID, txID int64, p UpdateTransactionParams) ([]models.Transaction, error) {
	var updated []models.Transaction
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		var err error
		updated, err = s.update(ctx, q, userID, txID, p)
		return err
	})
	s.record(ctx, userID, "update", err)
	if err != nil {
		return nil, err
	}

	for _, tx := range updated {
		s.audit.LogTransaction(audit.EventTransactionUpdated, userID, tx.ID, tx.AccountID, tx.RefAmount)
	}
	return updated, nil
}

func (s *TransactionService) update(ctx context.Context, q repository.Querier, userID, txID int64, p UpdateTransactionParams) ([]models.Transaction, error) {
	prev, err := s.txs.GetForUpdate(ctx, q, userID, txID)
	if err != nil {
		return nil, classify("load transaction", "transaction", txID, err)
	}
	if err := checkProtectedFields(prev, p); err != nil {
		return nil, err
	}
	if prev.IsTransfer() && prev.TransactionType == models.TransactionTypeIncome {
		return nil, validationErrorf("edit the expense leg of the transfer instead")
	}

	next := *prev
	if p.AccountID != nil {
		next.AccountID = *p.AccountID
	}
	if p.Amount != nil {
		next.Amount = *p.Amount
	}
	if p.Time != nil {
		next.Time = p.Time.UTC()
	}
	if p.TransactionType != nil {
		next.TransactionType = *p.TransactionType
	}
	if p.CategoryID != nil {
		next.CategoryID = p.CategoryID
	}
	if p.Note != nil {
		next.Note = *p.Note
	}

	target := prev.TransferNature
	if p.TransferNature != nil {
		target = *p.TransferNature
	}
	if !target.Valid() {
		return nil, validationErrorf("unknown transfer nature %q", target)
	}

	if target.IsLinked() {
		if prev.RefundLinked {
			return nil, validationErrorf("a refund-linked transaction cannot become a transfer")
		}
		next.TransactionType = models.TransactionTypeExpense
		if !prev.IsTransfer() && p.DestinationTransactionID == nil && (p.DestinationAccountID == nil || p.DestinationAmount == nil) {
			return nil, validationErrorf("transfer requires destinationAccountId and destinationAmount, or destinationTransactionId")
		}
	} else if p.DestinationAccountID != nil || p.DestinationAmount != nil || p.DestinationTransactionID != nil {
		return nil, validationErrorf("destination fields are only allowed on common transfers")
	}
	if prev.IsExternal() && next.TransactionType != prev.TransactionType {
		return nil, validationErrorf("an external income cannot be the expense leg of a transfer")
	}
	if prev.RefundLinked && next.TransactionType != prev.TransactionType {
		return nil, validationErrorf("the type of a refund-linked transaction cannot change")
	}

	var sibling *models.Transaction
	if prev.IsTransfer() {
		sibling, err = s.txs.GetTransferSibling(ctx, q, prev)
		if errors.Is(err, repository.ErrNotFound) {
			sibling = nil
		} else if err != nil {
			return nil, unexpected("load transfer sibling", err)
		}
	}

	lockIDs := []int64{prev.AccountID, next.AccountID}
	if sibling != nil {
		lockIDs = append(lockIDs, sibling.AccountID)
	}
	if p.DestinationAccountID != nil {
		lockIDs = append(lockIDs, *p.DestinationAccountID)
	}
	accounts, err := s.lockAccounts(ctx, q, userID, lockIDs...)
	if err != nil {
		return nil, err
	}

	if next.AccountID != prev.AccountID || next.Amount != prev.Amount {
		acc := accounts[next.AccountID]
		next.CurrencyCode = acc.CurrencyCode
		if next.RefAmount, err = s.currency.ToRefAmount(ctx, next.Amount, next.CurrencyCode, next.RefCurrencyCode, next.Day()); err != nil {
			return nil, err
		}
	}
	if prev.RefundLinked && next.RefAmount != prev.RefAmount {
		if err := s.refunds.CheckAmounts(ctx, q, &next, prev.RefAmount); err != nil {
			return nil, err
		}
	}

	switch {
	case !prev.IsTransfer() && !target.IsLinked():
		next.TransferNature = target
		if err := s.save(ctx, q, prev, &next); err != nil {
			return nil, err
		}
		return []models.Transaction{next}, nil

	case !prev.IsTransfer():
		return s.makeTransfer(ctx, q, userID, prev, &next, accounts, p)

	case target.IsLinked():
		return s.updateTransfer(ctx, q, prev, &next, sibling, accounts, p)

	default:
		next.TransferNature = target
		next.TransferID = nil
		if sibling != nil {
			if err := s.dropSibling(ctx, q, sibling); err != nil {
				return nil, err
			}
		}
		if err := s.save(ctx, q, prev, &next); err != nil {
			return nil, err
		}
		return []models.Transaction{next}, nil
	}
}

func checkProtectedFields(prev *models.Transaction, p UpdateTransactionParams) error {
	if !prev.IsExternal() {
		return nil
	}
	if (p.AccountID != nil && *p.AccountID != prev.AccountID) ||
		(p.Amount != nil && *p.Amount != prev.Amount) ||
		(p.Time != nil && !p.Time.Equal(prev.Time)) ||
		(p.TransactionType != nil && *p.TransactionType != prev.TransactionType) {
		return validationErrorf("amount, time, account and type of an external transaction cannot be edited")
	}
	return nil
}

// makeTransfer turns a standalone transaction into the expense leg of a
// new transfer, either by creating the income leg or by pairing with an
// existing transaction.
func (s *TransactionService) makeTransfer(ctx context.Context, q repository.Querier, userID int64, prev, next *models.Transaction, accounts map[int64]*models.Account, p UpdateTransactionParams) ([]models.Transaction, error) {
	if p.DestinationTransactionID != nil {
		if err := s.save(ctx, q, prev, next); err != nil {
			return nil, err
		}
		dest, err := s.transfers.Link(ctx, q, userID, next, *p.DestinationTransactionID)
		if err != nil {
			return nil, err
		}
		return []models.Transaction{*next, *dest}, nil
	}

	dest := accounts[*p.DestinationAccountID]
	if dest.ID == next.AccountID {
		return nil, validationErrorf("transfer source and destination accounts must differ")
	}
	next.TransferNature = models.TransferNatureCommon
	next.TransferID = s.transfers.NewTransferID()
	if err := s.save(ctx, q, prev, next); err != nil {
		return nil, err
	}

	leg := oppositeLeg(next, dest, *p.DestinationAmount)
	if err := s.insert(ctx, q, leg); err != nil {
		return nil, err
	}
	return []models.Transaction{*next, *leg}, nil
}

// updateTransfer edits an existing pair through its expense leg. A system
// income leg follows the expense leg's time and ref amount.
func (s *TransactionService) updateTransfer(ctx context.Context, q repository.Querier, prev, next, sibling *models.Transaction, accounts map[int64]*models.Account, p UpdateTransactionParams) ([]models.Transaction, error) {
	if p.DestinationTransactionID != nil {
		return nil, validationErrorf("transaction is already part of a transfer")
	}
	next.TransferNature = models.TransferNatureCommon

	if sibling == nil {
		if err := s.save(ctx, q, prev, next); err != nil {
			return nil, err
		}
		return []models.Transaction{*next}, nil
	}

	if sibling.IsExternal() {
		if p.DestinationAccountID != nil || p.DestinationAmount != nil {
			return nil, validationErrorf("the external side of a transfer cannot be edited")
		}
		if sibling.AccountID == next.AccountID {
			return nil, validationErrorf("transfer source and destination accounts must differ")
		}
		if err := s.save(ctx, q, prev, next); err != nil {
			return nil, err
		}
		return []models.Transaction{*next, *sibling}, nil
	}

	prevSibling := *sibling
	leg := *sibling
	if p.DestinationAccountID != nil {
		dest := accounts[*p.DestinationAccountID]
		leg.AccountID = dest.ID
		leg.CurrencyCode = dest.CurrencyCode
		leg.AccountType = dest.Type
	}
	if p.DestinationAmount != nil {
		leg.Amount = *p.DestinationAmount
	}
	if leg.AccountID == next.AccountID {
		return nil, validationErrorf("transfer source and destination accounts must differ")
	}
	leg.RefAmount = next.RefAmount
	leg.Time = next.Time

	if err := s.save(ctx, q, prev, next); err != nil {
		return nil, err
	}
	if err := s.save(ctx, q, &prevSibling, &leg); err != nil {
		return nil, err
	}
	return []models.Transaction{*next, leg}, nil
}

// dropSibling dissolves the other leg of a transfer. Provider rows are
// unlinked and kept; rows created here are reversed and deleted.
func (s *TransactionService) dropSibling(ctx context.Context, q repository.Querier, sibling *models.Transaction) error {
	if sibling.IsExternal() {
		return s.transfers.Unlink(ctx, q, sibling)
	}
	return s.remove(ctx, q, sibling)
}

// DeleteTransaction removes a transaction and, for transfers, its
// opposite leg, reversing their effect on the balance history.
func (s *TransactionService) DeleteTransaction(ctx context.Context, userID, txID int64) error {
	var deleted []models.Transaction
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		tx, err := s.txs.GetForUpdate(ctx, q, userID, txID)
		if err != nil {
			return classify("load transaction", "transaction", txID, err)
		}
		if tx.IsExternal() {
			return validationErrorf("external transactions cannot be deleted")
		}

		var sibling *models.Transaction
		if tx.IsTransfer() {
			sibling, err = s.txs.GetTransferSibling(ctx, q, tx)
			if errors.Is(err, repository.ErrNotFound) {
				sibling = nil
			} else if err != nil {
				return unexpected("load transfer sibling", err)
			}
		}

		lockIDs := []int64{tx.AccountID}
		if sibling != nil {
			lockIDs = append(lockIDs, sibling.AccountID)
		}
		if _, err := s.lockAccounts(ctx, q, userID, lockIDs...); err != nil {
			return err
		}

		if sibling != nil {
			if err := s.dropSibling(ctx, q, sibling); err != nil {
				return err
			}
			if !sibling.IsExternal() {
				deleted = append(deleted, *sibling)
			}
		}
		if err := s.remove(ctx, q, tx); err != nil {
			return err
		}
		deleted = append(deleted, *tx)
		return nil
	})
	s.record(ctx, userID, "delete", err)
	if err != nil {
		return err
	}

	for _, tx := range deleted {
		s.audit.LogTransaction(audit.EventTransactionDeleted, userID, tx.ID, tx.AccountID, tx.RefAmount)
	}
	return nil
}

// lockAccounts takes row locks in ascending id order so concurrent
// mutations touching the same accounts cannot deadlock.
func (s *TransactionService) lockAccounts(ctx context.Context, q repository.Querier, userID int64, ids ...int64) (map[int64]*models.Account, error) {
	return lockAccounts(ctx, q, s.accounts, userID, ids...)
}

func lockAccounts(ctx context.Context, q repository.Querier, repo repository.AccountRepository, userID int64, ids ...int64) (map[int64]*models.Account, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	locked := make(map[int64]*models.Account, len(sorted))
	for _, id := range sorted {
		if _, ok := locked[id]; ok {
			continue
		}
		acc, err := repo.GetForUpdate(ctx, q, userID, id)
		if err != nil {
			return nil, classify("lock account", "account", id, err)
		}
		locked[id] = acc
	}
	return locked, nil
}

func (s *TransactionService) record(ctx context.Context, userID int64, op string, err error) {
	metrics.RecordMutation(op, err)
	if err == nil {
		return
	}

	log := logger.FromContext(ctx)
	if errors.Is(err, ErrUnexpected) {
		log.Error().Err(err).Int64("user_id", userID).Str("operation", op).Msg("[TRANSACTION] mutation failed")
		s.audit.LogError(userID, op+"_transaction", err)
		return
	}
	log.Info().Err(err).Int64("user_id", userID).Str("operation", op).Msg("[TRANSACTION] mutation rejected")
}
