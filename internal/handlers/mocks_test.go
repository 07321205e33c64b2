package handlers

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/lease"
	"github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) CreateTransaction(ctx context.Context, userID int64, p services.CreateTransactionParams) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTransactionManager) UpdateTransaction(ctx context.Context, userID, txID int64, p services.UpdateTransactionParams) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, txID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTransactionManager) DeleteTransaction(ctx context.Context, userID, txID int64) error {
	args := m.Called(ctx, userID, txID)
	return args.Error(0)
}

func (m *MockTransactionManager) GetTransaction(ctx context.Context, userID, txID int64) (*models.Transaction, error) {
	args := m.Called(ctx, userID, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionManager) ListTransactions(ctx context.Context, userID int64, p services.ListTransactionsParams) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

type MockAccountManager struct {
	mock.Mock
}

func (m *MockAccountManager) CreateAccount(ctx context.Context, userID int64, p services.CreateAccountParams) (*models.Account, error) {
	args := m.Called(ctx, userID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountManager) UpdateAccount(ctx context.Context, userID, accountID int64, p services.UpdateAccountParams) (*models.Account, error) {
	args := m.Called(ctx, userID, accountID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountManager) DeleteAccount(ctx context.Context, userID, accountID int64) error {
	args := m.Called(ctx, userID, accountID)
	return args.Error(0)
}

func (m *MockAccountManager) GetAccount(ctx context.Context, userID, accountID int64) (*models.Account, error) {
	args := m.Called(ctx, userID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountManager) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Account), args.Error(1)
}

type MockBalanceReader struct {
	mock.Mock
}

func (m *MockBalanceReader) GetBalanceHistory(ctx context.Context, userID int64, p services.BalanceHistoryParams) ([]models.Balance, error) {
	args := m.Called(ctx, userID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Balance), args.Error(1)
}

func (m *MockBalanceReader) GetBalanceOnDate(ctx context.Context, userID, accountID int64, date civil.Date) (int64, error) {
	args := m.Called(ctx, userID, accountID, date)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBalanceReader) GetTotalBalance(ctx context.Context, userID int64, date civil.Date) (int64, error) {
	args := m.Called(ctx, userID, date)
	return args.Get(0).(int64), args.Error(1)
}

type MockRefundManager struct {
	mock.Mock
}

func (m *MockRefundManager) CreateLink(ctx context.Context, userID int64, p services.RefundLinkParams) (*models.RefundLink, error) {
	args := m.Called(ctx, userID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefundLink), args.Error(1)
}

func (m *MockRefundManager) RemoveLink(ctx context.Context, userID, refundTxID int64) error {
	args := m.Called(ctx, userID, refundTxID)
	return args.Error(0)
}

func (m *MockRefundManager) ListRefunds(ctx context.Context, userID, originalTxID int64) ([]models.RefundLink, error) {
	args := m.Called(ctx, userID, originalTxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RefundLink), args.Error(1)
}

type MockSpendingStats struct {
	mock.Mock
}

func (m *MockSpendingStats) SpendingsByCategory(ctx context.Context, userID int64, from, to time.Time) ([]services.CategorySpending, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.CategorySpending), args.Error(1)
}

const testUserID = int64(11)

var testToday = civil.Date{Year: 2024, Month: time.March, Day: 10}

type testAPI struct {
	transactions *MockTransactionManager
	accounts     *MockAccountManager
	balances     *MockBalanceReader
	refunds      *MockRefundManager
	stats        *MockSpendingStats
	lease        *lease.MemoryLease
	api          *API
	router       http.Handler
}

func newTestAPI() *testAPI {
	t := &testAPI{
		transactions: new(MockTransactionManager),
		accounts:     new(MockAccountManager),
		balances:     new(MockBalanceReader),
		refunds:      new(MockRefundManager),
		stats:        new(MockSpendingStats),
		lease:        lease.NewMemoryLease(),
	}

	cfg := &config.LedgerConfig{
		IngestLeaseTTL:      30 * time.Second,
		IngestRatePerSecond: 100,
		IngestBurst:         100,
		MaxIngestBatch:      3,
	}

	balances := NewBalanceHandler(t.balances, 30*24*time.Hour)
	balances.now = func() time.Time { return testToday.In(time.UTC).Add(15 * time.Hour) }

	t.api = &API{
		Transactions: NewTransactionHandler(t.transactions),
		Accounts:     NewAccountHandler(t.accounts),
		Balances:     balances,
		Refunds:      NewRefundHandler(t.refunds),
		Stats:        NewStatsHandler(t.stats),
		Ingest:       NewIngestHandler(t.transactions, t.accounts, t.lease, cfg),
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Anonymous") == "" {
				r = r.WithContext(middleware.WithUserID(r.Context(), testUserID))
			}
			next.ServeHTTP(w, r)
		})
	})
	t.api.Mount(r)
	t.router = r
	return t
}
