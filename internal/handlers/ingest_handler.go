package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/lease"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/metrics"
	"github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

// IngestTransaction is one row pushed by a bank adapter. A "balance" key in
// ExternalData carries the provider's running balance after the row.
type IngestTransaction struct {
	Amount          int64                  `json:"amount" validate:"required,gt=0"`
	Time            time.Time              `json:"time" validate:"required"`
	TransactionType models.TransactionType `json:"transactionType" validate:"required,oneof=income expense"`
	CategoryID      *int64                 `json:"categoryId"`
	Note            string                 `json:"note" validate:"max=2000"`
	ExternalData    models.ExternalData    `json:"externalData"`
}

type IngestRequest struct {
	AccountID    int64               `json:"accountId" validate:"required,gt=0"`
	Transactions []IngestTransaction `json:"transactions" validate:"required,min=1,dive"`
}

// IngestHandler imports provider transactions into external accounts. One
// import per account runs at a time, guarded by a TTL lease.
type IngestHandler struct {
	transactions TransactionManager
	accounts     AccountManager
	lease        lease.Lease
	limiter      *middleware.RateLimiter
	leaseTTL     time.Duration
	maxBatch     int
	validator    *services.ValidationHelper
}

func NewIngestHandler(transactions TransactionManager, accounts AccountManager, l lease.Lease, cfg *config.LedgerConfig) *IngestHandler {
	return &IngestHandler{
		transactions: transactions,
		accounts:     accounts,
		lease:        l,
		limiter:      middleware.NewRateLimiter(cfg.IngestRatePerSecond, cfg.IngestBurst, 10*time.Minute),
		leaseTTL:     cfg.IngestLeaseTTL,
		maxBatch:     cfg.MaxIngestBatch,
		validator:    services.NewValidationHelper(),
	}
}

// Limiter exposes the per-account throttle so the server can evict idle keys.
func (h *IngestHandler) Limiter() *middleware.RateLimiter {
	return h.limiter
}

// IngestTransactions
// @Summary Import provider transactions
// @Description Rows are applied oldest first, each in its own unit of work. Concurrent imports for the same account are rejected with 429.
// @Tags External
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body IngestRequest true "Batch"
// @Success 201 {object} object{transactions=[]models.Transaction}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /external/transactions [post]
func (h *IngestHandler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req IngestRequest
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}
	if len(req.Transactions) > h.maxBatch {
		services.SendErrorResponse(w, fmt.Sprintf("at most %d transactions per request", h.maxBatch), http.StatusBadRequest, nil)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), userID, req.AccountID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if !account.Type.IsExternal() {
		services.SendErrorResponse(w, "Only external accounts accept provider imports", http.StatusBadRequest, nil)
		return
	}

	key := fmt.Sprintf("account:%d", account.ID)
	if !h.limiter.Allow(key) {
		metrics.RecordIngestThrottled()
		services.SendErrorResponse(w, "Too many imports for this account", http.StatusTooManyRequests, nil)
		return
	}

	log := logger.FromContext(r.Context())
	token, acquired, err := h.lease.Acquire(r.Context(), key, h.leaseTTL)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("[INGEST] lease unavailable")
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}
	if !acquired {
		metrics.RecordIngestThrottled()
		services.SendErrorResponse(w, "An import for this account is already running", http.StatusTooManyRequests, nil)
		return
	}
	defer func() {
		if err := h.lease.Release(r.Context(), key, token); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("[INGEST] lease release failed")
		}
	}()

	rows := append([]IngestTransaction(nil), req.Transactions...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })

	imported := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		created, err := h.transactions.CreateTransaction(r.Context(), userID, services.CreateTransactionParams{
			AccountID:       account.ID,
			Amount:          row.Amount,
			Time:            row.Time,
			TransactionType: row.TransactionType,
			CategoryID:      row.CategoryID,
			Note:            row.Note,
			ExternalData:    row.ExternalData,
		})
		if err != nil {
			log.Warn().Err(err).Int64("account_id", account.ID).Int("row", i).Int("imported", len(imported)).Msg("[INGEST] import stopped")
			WriteServiceError(w, r, err)
			return
		}
		imported = append(imported, created...)
	}

	log.Info().Int64("account_id", account.ID).Int("imported", len(imported)).Msg("[INGEST] batch imported")
	writeJSON(w, http.StatusCreated, map[string]any{"transactions": imported})
}
