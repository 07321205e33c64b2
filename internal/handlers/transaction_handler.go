package handlers

import (
	"net/http"

	"github.com/ruralpay/ledger/internal/services"
)

type TransactionHandler struct {
	service   TransactionManager
	validator *services.ValidationHelper
}

func NewTransactionHandler(service TransactionManager) *TransactionHandler {
	return &TransactionHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateTransaction posts a transaction
// @Summary Create transaction
// @Description Post an income or expense, or a transfer between two accounts
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateTransactionParams true "Transaction"
// @Success 201 {object} object{transactions=[]models.Transaction}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions [post]
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req services.CreateTransactionParams
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	created, err := h.service.CreateTransaction(r.Context(), userID, req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transactions": created})
}

// ListTransactions lists transactions newest first
// @Summary List transactions
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param accountId query int false "Account filter"
// @Param from query string false "Start time (RFC 3339 or YYYY-MM-DD)"
// @Param to query string false "End time (RFC 3339 or YYYY-MM-DD)"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.Transaction}
// @Failure 400 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var p services.ListTransactionsParams
	var err error
	if p.AccountID, err = queryInt64(r, "accountId"); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if p.From, err = queryTime(r, "from"); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if p.To, err = queryTime(r, "to"); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil || (limit != nil && *limit > 500) {
		services.SendErrorResponse(w, "limit must be between 0 and 500", http.StatusBadRequest, nil)
		return
	}
	if limit != nil {
		p.Limit = int(*limit)
	}
	offset, err := queryInt64(r, "offset")
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if offset != nil {
		p.Offset = int(*offset)
	}

	txs, err := h.service.ListTransactions(r.Context(), userID, p)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// GetTransaction returns one transaction
// @Summary Get transaction
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param txId path int true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [get]
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), userID, txID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// UpdateTransaction edits a transaction
// @Summary Update transaction
// @Description Omitted fields keep their value. Transfers are edited through their expense leg.
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param txId path int true "Transaction ID"
// @Param request body services.UpdateTransactionParams true "Changes"
// @Success 200 {object} object{transactions=[]models.Transaction}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [put]
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	var req services.UpdateTransactionParams
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.service.UpdateTransaction(r.Context(), userID, txID, req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": updated})
}

// DeleteTransaction removes a transaction and its transfer sibling
// @Summary Delete transaction
// @Tags Transactions
// @Security BearerAuth
// @Param txId path int true "Transaction ID"
// @Success 204
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [delete]
func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	if err := h.service.DeleteTransaction(r.Context(), userID, txID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
