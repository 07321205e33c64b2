package repository

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jmoiron/sqlx"

	"github.com/ruralpay/ledger/internal/models"
)

// Querier is satisfied by *sqlx.DB and *sqlx.Tx. Every repository method
// takes one so callers decide which unit of work it runs in.
type Querier interface {
	sqlx.ExtContext
}

type UnitOfWork interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	// Reader is a non-transactional handle for read paths.
	Reader() Querier
}

type AccountRepository interface {
	Create(ctx context.Context, q Querier, a *models.Account) error
	Get(ctx context.Context, q Querier, userID, id int64) (*models.Account, error)
	// GetByID skips the owner check; callers must already hold the row.
	GetByID(ctx context.Context, q Querier, id int64) (*models.Account, error)
	GetForUpdate(ctx context.Context, q Querier, userID, id int64) (*models.Account, error)
	List(ctx context.Context, q Querier, userID int64) ([]models.Account, error)
	UpdateName(ctx context.Context, q Querier, id int64, name string) error
	ApplyBalanceEdit(ctx context.Context, q Querier, id, diff, refDiff int64) error
	SetRefCurrentBalance(ctx context.Context, q Querier, id, amount int64) error
	AdjustCurrentBalance(ctx context.Context, q Querier, id, delta int64) error
	SetCurrentBalance(ctx context.Context, q Querier, id, amount int64) error
	Delete(ctx context.Context, q Querier, userID, id int64) error
}

type TransactionFilter struct {
	AccountID *int64
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type CategoryAmount struct {
	CategoryID *int64 `db:"category_id"`
	Amount     int64  `db:"amount"`
}

type TransactionRepository interface {
	Create(ctx context.Context, q Querier, tx *models.Transaction) error
	Get(ctx context.Context, q Querier, userID, id int64) (*models.Transaction, error)
	GetForUpdate(ctx context.Context, q Querier, userID, id int64) (*models.Transaction, error)
	// GetTransferSibling returns the other leg sharing tx's transfer id.
	GetTransferSibling(ctx context.Context, q Querier, tx *models.Transaction) (*models.Transaction, error)
	Update(ctx context.Context, q Querier, tx *models.Transaction) error
	Delete(ctx context.Context, q Querier, id int64) error
	List(ctx context.Context, q Querier, userID int64, f TransactionFilter) ([]models.Transaction, error)
	RefreshRefundLinked(ctx context.Context, q Querier, ids []int64) error
	ExpenseTotalsByCategory(ctx context.Context, q Querier, userID int64, from, to time.Time) ([]CategoryAmount, error)
	RefundTotalsByCategory(ctx context.Context, q Querier, userID int64, from, to time.Time) ([]CategoryAmount, error)
}

type BalanceRepository interface {
	GetForUpdate(ctx context.Context, q Querier, accountID int64, date civil.Date) (*models.Balance, error)
	GetLatestBefore(ctx context.Context, q Querier, accountID int64, date civil.Date) (*models.Balance, error)
	GetLatestOnOrBefore(ctx context.Context, q Querier, accountID int64, date civil.Date) (*models.Balance, error)
	GetLatest(ctx context.Context, q Querier, accountID int64) (*models.Balance, error)
	Insert(ctx context.Context, q Querier, b models.Balance) error
	SetAmount(ctx context.Context, q Querier, accountID int64, date civil.Date, amount int64) error
	// AddAfter adds delta to every snapshot strictly after date.
	AddAfter(ctx context.Context, q Querier, accountID int64, date civil.Date, delta int64) (int64, error)
	AddAll(ctx context.Context, q Querier, accountID int64, delta int64) error
	List(ctx context.Context, q Querier, userID int64, accountID *int64, from, to *civil.Date) ([]models.Balance, error)
	// LatestBefore returns, per account, the newest snapshot strictly before date.
	LatestBefore(ctx context.Context, q Querier, userID int64, accountID *int64, date civil.Date) ([]models.Balance, error)
}

type RefundLinkRepository interface {
	Create(ctx context.Context, q Querier, link *models.RefundLink) error
	GetByRefund(ctx context.Context, q Querier, refundTxID int64) (*models.RefundLink, error)
	ListByOriginal(ctx context.Context, q Querier, originalTxID int64) ([]models.RefundLink, error)
	// SumRefunded totals ref_amount over the refunds already linked to originalTxID.
	SumRefunded(ctx context.Context, q Querier, originalTxID int64) (int64, error)
	DeleteByRefund(ctx context.Context, q Querier, refundTxID int64) error
	// DeleteForTransaction removes links on either side of txID and returns
	// the ids of every transaction that was part of a removed link.
	DeleteForTransaction(ctx context.Context, q Querier, txID int64) ([]int64, error)
}

type CurrencyRepository interface {
	GetUserBaseCurrency(ctx context.Context, q Querier, userID int64) (string, error)
	// GetRate returns the newest rate published on or before date.
	GetRate(ctx context.Context, q Querier, base, quote string, date civil.Date) (*models.ExchangeRate, error)
}
