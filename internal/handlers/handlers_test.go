package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

func (a *testAPI) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", &services.ValidationError{Reason: "amount must be positive"}, http.StatusBadRequest, "amount must be positive"},
		{"not found", &services.NotFoundError{Entity: "account", ID: 4}, http.StatusNotFound, "account 4 not found"},
		{"unexpected", &services.UnexpectedError{Op: "create", Err: errors.New("connection reset")}, http.StatusInternalServerError, "Internal server error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			WriteServiceError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
		})
	}
}

func TestCreateTransaction(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("created", func(t *testing.T) {
		api := newTestAPI()
		api.transactions.On("CreateTransaction", mock.Anything, testUserID, mock.MatchedBy(func(p services.CreateTransactionParams) bool {
			return p.AccountID == 3 && p.Amount == 500 && p.TransactionType == models.TransactionTypeExpense && p.Time.Equal(at)
		})).Return([]models.Transaction{{ID: 9, AccountID: 3, Amount: 500}}, nil).Once()

		rec := api.do(http.MethodPost, "/transactions", map[string]any{
			"accountId":       3,
			"amount":          500,
			"time":            at,
			"transactionType": "expense",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp struct {
			Transactions []models.Transaction `json:"transactions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Transactions, 1)
		assert.Equal(t, int64(9), resp.Transactions[0].ID)
		api.transactions.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodPost, "/transactions", `{"accountId":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decodeError(t, rec).Error)
		api.transactions.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown field", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodPost, "/transactions", `{"accountId":1,"amount":5,"time":"2024-03-10T12:00:00Z","bogus":true}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation details", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodPost, "/transactions", map[string]any{"accountId": 1, "amount": 0, "time": at})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "Validation failed", resp.Error)
		assert.Contains(t, resp.Details, "amount")
	})

	t.Run("service validation", func(t *testing.T) {
		api := newTestAPI()
		api.transactions.On("CreateTransaction", mock.Anything, testUserID, mock.Anything).
			Return(nil, &services.ValidationError{Reason: "transfer requires a destination"}).Once()

		rec := api.do(http.MethodPost, "/transactions", map[string]any{
			"accountId": 1, "amount": 10, "time": at, "transferNature": "common_transfer",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "transfer requires a destination", decodeError(t, rec).Error)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		api := newTestAPI()
		req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewBufferString(`{}`))
		req.Header.Set("X-Anonymous", "1")
		rec := httptest.NewRecorder()

		api.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTransactionRoutes(t *testing.T) {
	t.Run("get not found", func(t *testing.T) {
		api := newTestAPI()
		api.transactions.On("GetTransaction", mock.Anything, testUserID, int64(42)).
			Return(nil, &services.NotFoundError{Entity: "transaction", ID: 42}).Once()

		rec := api.do(http.MethodGet, "/transactions/42", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodGet, "/transactions/abc", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		api := newTestAPI()
		api.transactions.On("DeleteTransaction", mock.Anything, testUserID, int64(7)).Return(nil).Once()

		rec := api.do(http.MethodDelete, "/transactions/7", nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		api.transactions.AssertExpectations(t)
	})

	t.Run("list filters", func(t *testing.T) {
		api := newTestAPI()
		api.transactions.On("ListTransactions", mock.Anything, testUserID, mock.MatchedBy(func(p services.ListTransactionsParams) bool {
			return p.AccountID != nil && *p.AccountID == 3 &&
				p.From != nil && p.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		})).Return([]models.Transaction{}, nil).Once()

		rec := api.do(http.MethodGet, "/transactions?accountId=3&from=2024-03-01", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.transactions.AssertExpectations(t)
	})

	t.Run("list bad time", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodGet, "/transactions?from=yesterday", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBalanceRoutes(t *testing.T) {
	t.Run("history defaults to window ending today", func(t *testing.T) {
		api := newTestAPI()
		api.balances.On("GetBalanceHistory", mock.Anything, testUserID, mock.MatchedBy(func(p services.BalanceHistoryParams) bool {
			return p.AccountID == nil && p.To == nil &&
				p.From != nil && *p.From == testToday.AddDays(-30)
		})).Return([]models.Balance{}, nil).Once()

		rec := api.do(http.MethodGet, "/balances", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.balances.AssertExpectations(t)
	})

	t.Run("history window ends at to", func(t *testing.T) {
		api := newTestAPI()
		to := civil.Date{Year: 2024, Month: time.February, Day: 1}
		api.balances.On("GetBalanceHistory", mock.Anything, testUserID, mock.MatchedBy(func(p services.BalanceHistoryParams) bool {
			return p.To != nil && *p.To == to && p.From != nil && *p.From == to.AddDays(-30)
		})).Return([]models.Balance{}, nil).Once()

		rec := api.do(http.MethodGet, "/balances?to=2024-02-01", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.balances.AssertExpectations(t)
	})

	t.Run("history bad date", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodGet, "/balances?from=03/01/2024", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("account balance on date", func(t *testing.T) {
		api := newTestAPI()
		date := civil.Date{Year: 2024, Month: time.March, Day: 5}
		api.balances.On("GetBalanceOnDate", mock.Anything, testUserID, int64(3), date).Return(int64(1250), nil).Once()

		rec := api.do(http.MethodGet, "/accounts/3/balance?date=2024-03-05", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			AccountID int64      `json:"accountId"`
			Date      civil.Date `json:"date"`
			Amount    int64      `json:"amount"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.AccountID)
		assert.Equal(t, date, resp.Date)
		assert.Equal(t, int64(1250), resp.Amount)
	})

	t.Run("total defaults to today", func(t *testing.T) {
		api := newTestAPI()
		api.balances.On("GetTotalBalance", mock.Anything, testUserID, testToday).Return(int64(-40), nil).Once()

		rec := api.do(http.MethodGet, "/balances/total", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.balances.AssertExpectations(t)
	})
}

func TestAccountRoutes(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("CreateAccount", mock.Anything, testUserID, mock.MatchedBy(func(p services.CreateAccountParams) bool {
			return p.Name == "Wallet"
		})).Return(&models.Account{ID: 5, Name: "Wallet"}, nil).Once()

		rec := api.do(http.MethodPost, "/accounts", map[string]any{"name": "Wallet", "currencyCode": "USD"})

		assert.Equal(t, http.StatusCreated, rec.Code)
		api.accounts.AssertExpectations(t)
	})

	t.Run("list", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("ListAccounts", mock.Anything, testUserID).
			Return([]models.Account{{ID: 1}, {ID: 2}}, nil).Once()

		rec := api.do(http.MethodGet, "/accounts", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Accounts []models.Account `json:"accounts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Accounts, 2)
	})

	t.Run("delete storage failure", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("DeleteAccount", mock.Anything, testUserID, int64(5)).
			Return(&services.UnexpectedError{Op: "delete_account", Err: errors.New("timeout")}).Once()

		rec := api.do(http.MethodDelete, "/accounts/5", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "timeout")
	})
}

func TestRefundRoutes(t *testing.T) {
	t.Run("create link", func(t *testing.T) {
		api := newTestAPI()
		api.refunds.On("CreateLink", mock.Anything, testUserID, mock.MatchedBy(func(p services.RefundLinkParams) bool {
			return p.RefundTxID == 8 && p.OriginalTxID != nil && *p.OriginalTxID == 4
		})).Return(&models.RefundLink{ID: 1, RefundTxID: 8}, nil).Once()

		rec := api.do(http.MethodPost, "/refund-links", map[string]any{"refundTxId": 8, "originalTxId": 4})

		assert.Equal(t, http.StatusCreated, rec.Code)
		api.refunds.AssertExpectations(t)
	})

	t.Run("remove requires refundTxId", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodDelete, "/refund-links", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "refundTxId is required", decodeError(t, rec).Error)
	})

	t.Run("remove", func(t *testing.T) {
		api := newTestAPI()
		api.refunds.On("RemoveLink", mock.Anything, testUserID, int64(8)).Return(nil).Once()

		rec := api.do(http.MethodDelete, "/refund-links?refundTxId=8", nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("list refunds", func(t *testing.T) {
		api := newTestAPI()
		api.refunds.On("ListRefunds", mock.Anything, testUserID, int64(4)).
			Return([]models.RefundLink{{ID: 1, RefundTxID: 8}}, nil).Once()

		rec := api.do(http.MethodGet, "/transactions/4/refunds", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		api.refunds.AssertExpectations(t)
	})
}

func TestSpendingsByCategory(t *testing.T) {
	t.Run("requires window", func(t *testing.T) {
		api := newTestAPI()

		rec := api.do(http.MethodGet, "/stats/spendings-by-category?from=2024-03-01", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "from and to are required", decodeError(t, rec).Error)
	})

	t.Run("window", func(t *testing.T) {
		api := newTestAPI()
		from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		groceries := int64(2)
		api.stats.On("SpendingsByCategory", mock.Anything, testUserID, from, to).
			Return([]services.CategorySpending{{CategoryID: &groceries, Amount: 70}}, nil).Once()

		rec := api.do(http.MethodGet, "/stats/spendings-by-category?from=2024-03-01&to=2024-04-01T00:00:00Z", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Categories []services.CategorySpending `json:"categories"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Categories, 1)
		assert.Equal(t, int64(70), resp.Categories[0].Amount)
	})
}

func TestIngestTransactions(t *testing.T) {
	external := &models.Account{ID: 6, Type: models.AccountTypeExternal, CurrencyCode: "USD"}
	early := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	batch := map[string]any{
		"accountId": 6,
		"transactions": []map[string]any{
			{"amount": 200, "time": late, "transactionType": "expense", "externalData": map[string]any{"balance": 800}},
			{"amount": 1000, "time": early, "transactionType": "income", "externalData": map[string]any{"balance": 1000}},
		},
	}

	t.Run("imports oldest first", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("GetAccount", mock.Anything, testUserID, int64(6)).Return(external, nil).Once()

		var order []int64
		api.transactions.On("CreateTransaction", mock.Anything, testUserID, mock.Anything).
			Run(func(args mock.Arguments) {
				order = append(order, args.Get(2).(services.CreateTransactionParams).Amount)
			}).
			Return([]models.Transaction{{ID: 1}}, nil).Twice()

		rec := api.do(http.MethodPost, "/external/transactions", batch)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, []int64{1000, 200}, order)

		// the lease is released once the batch finishes
		_, acquired, err := api.lease.Acquire(t.Context(), "account:6", time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("system account rejected", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("GetAccount", mock.Anything, testUserID, int64(6)).
			Return(&models.Account{ID: 6, Type: models.AccountTypeSystem}, nil).Once()

		rec := api.do(http.MethodPost, "/external/transactions", batch)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		api.transactions.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent import rejected", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("GetAccount", mock.Anything, testUserID, int64(6)).Return(external, nil).Once()
		_, acquired, err := api.lease.Acquire(t.Context(), "account:6", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		rec := api.do(http.MethodPost, "/external/transactions", batch)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		api.transactions.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("batch too large", func(t *testing.T) {
		api := newTestAPI()
		rows := make([]map[string]any, 4)
		for i := range rows {
			rows[i] = map[string]any{"amount": 1, "time": early, "transactionType": "income"}
		}

		rec := api.do(http.MethodPost, "/external/transactions", map[string]any{"accountId": 6, "transactions": rows})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("failing row stops the import", func(t *testing.T) {
		api := newTestAPI()
		api.accounts.On("GetAccount", mock.Anything, testUserID, int64(6)).Return(external, nil).Once()
		api.transactions.On("CreateTransaction", mock.Anything, testUserID, mock.Anything).
			Return(nil, &services.ValidationError{Reason: "category does not exist"}).Once()

		rec := api.do(http.MethodPost, "/external/transactions", batch)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		api.transactions.AssertNumberOfCalls(t, "CreateTransaction", 1)
	})
}
