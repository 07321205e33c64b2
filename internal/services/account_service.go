package services

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

type AccountService struct {
	uow      repository.UnitOfWork
	accounts repository.AccountRepository
	ledger   *BalanceLedger
	currency *CurrencyService
	audit    Auditor
	now      func() time.Time
}

func NewAccountService(uow repository.UnitOfWork, accounts repository.AccountRepository, ledger *BalanceLedger, currency *CurrencyService, auditor Auditor) *AccountService {
	return &AccountService{
		uow:      uow,
		accounts: accounts,
		ledger:   ledger,
		currency: currency,
		audit:    auditor,
		now:      time.Now,
	}
}

type CreateAccountParams struct {
	Name           string             `json:"name" validate:"required,max=100"`
	CurrencyCode   string             `json:"currencyCode" validate:"required,len=3"`
	Type           models.AccountType `json:"type" validate:"omitempty,oneof=system external"`
	InitialBalance int64              `json:"initialBalance"`
}

type UpdateAccountParams struct {
	Name *string `json:"name" validate:"omitempty,max=100"`
	// CurrentBalance corrects the balance without posting a transaction.
	CurrentBalance *int64 `json:"currentBalance"`
}

func (s *AccountService) CreateAccount(ctx context.Context, userID int64, p CreateAccountParams) (*models.Account, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, validationErrorf("name is required")
	}
	if len(p.CurrencyCode) != 3 {
		return nil, validationErrorf("currencyCode must be a three-letter code")
	}
	accountType := p.Type
	if accountType == "" {
		accountType = models.AccountTypeSystem
	}
	if !accountType.Valid() {
		return nil, validationErrorf("unknown account type %q", p.Type)
	}

	account := &models.Account{
		UserID:         userID,
		Name:           p.Name,
		CurrencyCode:   strings.ToUpper(p.CurrencyCode),
		Type:           accountType,
		InitialBalance: p.InitialBalance,
		CurrentBalance: p.InitialBalance,
		CreatedAt:      s.now().UTC(),
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		refCode, err := s.currency.RefCurrency(ctx, q, userID)
		if err != nil {
			return err
		}
		ref, err := s.currency.ConvertBalance(ctx, p.InitialBalance, account.CurrencyCode, refCode, account.CreationDate())
		if err != nil {
			return err
		}
		account.RefInitialBalance = ref
		account.RefCurrentBalance = ref

		if err := s.accounts.Create(ctx, q, account); err != nil {
			return unexpected("create account", err)
		}
		return s.ledger.InitAccount(ctx, q, account)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().Int64("user_id", userID).Int64("account_id", account.ID).Str("currency", account.CurrencyCode).Msg("[ACCOUNT] created")
	return account, nil
}

// UpdateAccount renames an account and applies direct balance corrections.
// A correction moves the opening balance and every snapshot by the same
// reference amount, computed once, so the cached reference balance cannot
// drift from the history.
func (s *AccountService) UpdateAccount(ctx context.Context, userID, accountID int64, p UpdateAccountParams) (*models.Account, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, validationErrorf("name cannot be empty")
	}

	var diff, refDiff int64
	var updated *models.Account
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		account, err := s.accounts.GetForUpdate(ctx, q, userID, accountID)
		if err != nil {
			return classify("lock account", "account", accountID, err)
		}

		if p.Name != nil && *p.Name != account.Name {
			if err := s.accounts.UpdateName(ctx, q, account.ID, *p.Name); err != nil {
				return unexpected("rename account", err)
			}
		}

		if p.CurrentBalance != nil && *p.CurrentBalance != account.CurrentBalance {
			diff = *p.CurrentBalance - account.CurrentBalance
			refCode, err := s.currency.RefCurrency(ctx, q, userID)
			if err != nil {
				return err
			}
			if refDiff, err = s.currency.ConvertBalance(ctx, diff, account.CurrencyCode, refCode, civil.DateOf(s.now().UTC())); err != nil {
				return err
			}
			if err := s.accounts.ApplyBalanceEdit(ctx, q, account.ID, diff, refDiff); err != nil {
				return unexpected("edit account balance", err)
			}
			if err := s.ledger.ShiftAll(ctx, q, account.ID, refDiff); err != nil {
				return err
			}
		}

		updated, err = s.accounts.Get(ctx, q, userID, accountID)
		return classify("reload account", "account", accountID, err)
	})
	if err != nil {
		return nil, err
	}

	if diff != 0 {
		s.audit.LogBalanceEdit(userID, accountID, diff, refDiff)
	}
	return updated, nil
}

// DeleteAccount removes the account. Its snapshots and transactions go with
// it through foreign key cascades.
func (s *AccountService) DeleteAccount(ctx context.Context, userID, accountID int64) error {
	err := s.uow.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		return classify("delete account", "account", accountID, s.accounts.Delete(ctx, q, userID, accountID))
	})
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().Int64("user_id", userID).Int64("account_id", accountID).Msg("[ACCOUNT] deleted")
	return nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID, accountID int64) (*models.Account, error) {
	account, err := s.accounts.Get(ctx, s.uow.Reader(), userID, accountID)
	if err != nil {
		return nil, classify("load account", "account", accountID, err)
	}
	return account, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	accounts, err := s.accounts.List(ctx, s.uow.Reader(), userID)
	if err != nil {
		return nil, unexpected("list accounts", err)
	}
	return accounts, nil
}
