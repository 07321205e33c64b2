package handlers

import (
	"net/http"

	"github.com/ruralpay/ledger/internal/services"
)

type StatsHandler struct {
	service SpendingStats
}

func NewStatsHandler(service SpendingStats) *StatsHandler {
	return &StatsHandler{service: service}
}

// SpendingsByCategory
// @Summary Spending per category
// @Description Expense totals in the reference currency over [from, to), net of linked refunds.
// @Tags Stats
// @Produce json
// @Security BearerAuth
// @Param from query string true "Start (RFC 3339 or YYYY-MM-DD)"
// @Param to query string true "End, exclusive (RFC 3339 or YYYY-MM-DD)"
// @Success 200 {object} object{categories=[]services.CategorySpending}
// @Failure 400 {object} services.ErrorResponse
// @Router /stats/spendings-by-category [get]
func (h *StatsHandler) SpendingsByCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	from, err := queryTime(r, "from")
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if from == nil || to == nil {
		services.SendErrorResponse(w, "from and to are required", http.StatusBadRequest, nil)
		return
	}

	spending, err := h.service.SpendingsByCategory(r.Context(), userID, *from, *to)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": spending})
}
