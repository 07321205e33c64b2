package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

type TransactionManager interface {
	CreateTransaction(ctx context.Context, userID int64, p services.CreateTransactionParams) ([]models.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, txID int64, p services.UpdateTransactionParams) ([]models.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, txID int64) error
	GetTransaction(ctx context.Context, userID, txID int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, p services.ListTransactionsParams) ([]models.Transaction, error)
}

type AccountManager interface {
	CreateAccount(ctx context.Context, userID int64, p services.CreateAccountParams) (*models.Account, error)
	UpdateAccount(ctx context.Context, userID, accountID int64, p services.UpdateAccountParams) (*models.Account, error)
	DeleteAccount(ctx context.Context, userID, accountID int64) error
	GetAccount(ctx context.Context, userID, accountID int64) (*models.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]models.Account, error)
}

type BalanceReader interface {
	GetBalanceHistory(ctx context.Context, userID int64, p services.BalanceHistoryParams) ([]models.Balance, error)
	GetBalanceOnDate(ctx context.Context, userID, accountID int64, date civil.Date) (int64, error)
	GetTotalBalance(ctx context.Context, userID int64, date civil.Date) (int64, error)
}

type RefundManager interface {
	CreateLink(ctx context.Context, userID int64, p services.RefundLinkParams) (*models.RefundLink, error)
	RemoveLink(ctx context.Context, userID, refundTxID int64) error
	ListRefunds(ctx context.Context, userID, originalTxID int64) ([]models.RefundLink, error)
}

type SpendingStats interface {
	SpendingsByCategory(ctx context.Context, userID int64, from, to time.Time) ([]services.CategorySpending, error)
}

// WriteServiceError maps service errors to status codes. Unexpected errors
// are logged with their cause and answered with a generic message.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		services.SendErrorResponse(w, ve.Reason, http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("[HTTP] request failed")
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok || userID <= 0 {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return 0, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, fmt.Sprintf("Invalid %s", name), http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

// queryInt64 parses an optional positive integer query parameter.
func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("invalid %s", name)
	}
	return &v, nil
}

func queryDate(r *http.Request, name string) (*civil.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected YYYY-MM-DD", name)
	}
	return &d, nil
}

// queryTime accepts RFC 3339 timestamps or plain dates, which mean
// midnight UTC.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC 3339 time or YYYY-MM-DD", name)
	}
	t := d.In(time.UTC)
	return &t, nil
}
