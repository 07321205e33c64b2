package handlers

import (
	"net/http"

	"github.com/ruralpay/ledger/internal/services"
)

type RefundHandler struct {
	service   RefundManager
	validator *services.ValidationHelper
}

func NewRefundHandler(service RefundManager) *RefundHandler {
	return &RefundHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateLink
// @Summary Link a refund
// @Description Marks refundTxId as a refund of originalTxId. Omit originalTxId when the purchase is not tracked.
// @Tags Refunds
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.RefundLinkParams true "Link"
// @Success 201 {object} models.RefundLink
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /refund-links [post]
func (h *RefundHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req services.RefundLinkParams
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	link, err := h.service.CreateLink(r.Context(), userID, req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

// RemoveLink
// @Summary Unlink a refund
// @Tags Refunds
// @Security BearerAuth
// @Param refundTxId query int true "Refund transaction ID"
// @Success 204
// @Failure 404 {object} services.ErrorResponse
// @Router /refund-links [delete]
func (h *RefundHandler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	refundTxID, err := queryInt64(r, "refundTxId")
	if err != nil || refundTxID == nil || *refundTxID == 0 {
		services.SendErrorResponse(w, "refundTxId is required", http.StatusBadRequest, nil)
		return
	}

	if err := h.service.RemoveLink(r.Context(), userID, *refundTxID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRefunds
// @Summary Refunds of a transaction
// @Tags Refunds
// @Produce json
// @Security BearerAuth
// @Param txId path int true "Original transaction ID"
// @Success 200 {object} object{refunds=[]models.RefundLink}
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId}/refunds [get]
func (h *RefundHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	links, err := h.service.ListRefunds(r.Context(), userID, txID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": links})
}
