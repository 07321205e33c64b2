package handlers

import (
	"net/http"
	"time"

	"cloud.google.com/go/civil"

	"github.com/ruralpay/ledger/internal/services"
)

type BalanceHandler struct {
	service       BalanceReader
	defaultWindow time.Duration
	now           func() time.Time
}

// NewBalanceHandler serves balance queries. History requests without a
// from date start defaultWindow before today.
func NewBalanceHandler(service BalanceReader, defaultWindow time.Duration) *BalanceHandler {
	return &BalanceHandler{service: service, defaultWindow: defaultWindow, now: time.Now}
}

func (h *BalanceHandler) today() civil.Date {
	return civil.DateOf(h.now().UTC())
}

// GetBalanceHistory
// @Summary Balance history
// @Description Daily closing balances in the reference currency. Accounts without a snapshot inside the window report their latest earlier balance on the from date.
// @Tags Balances
// @Produce json
// @Security BearerAuth
// @Param accountId query int false "Account filter"
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day (YYYY-MM-DD)"
// @Success 200 {object} object{balances=[]models.Balance}
// @Failure 400 {object} services.ErrorResponse
// @Router /balances [get]
func (h *BalanceHandler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var p services.BalanceHistoryParams
	var err error
	if p.AccountID, err = queryInt64(r, "accountId"); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if p.From, err = queryDate(r, "from"); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if p.To, err = queryDate(r, "to"); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if p.From == nil && h.defaultWindow > 0 {
		end := h.today()
		if p.To != nil {
			end = *p.To
		}
		from := end.AddDays(-int(h.defaultWindow / (24 * time.Hour)))
		p.From = &from
	}

	history, err := h.service.GetBalanceHistory(r.Context(), userID, p)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": history})
}

// GetAccountBalance
// @Summary Account balance on a day
// @Tags Balances
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} object{accountId=int64,date=string,amount=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (h *BalanceHandler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	date, ok := h.dateOrToday(w, r)
	if !ok {
		return
	}

	amount, err := h.service.GetBalanceOnDate(r.Context(), userID, accountID, date)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "date": date, "amount": amount})
}

// GetTotalBalance
// @Summary Total balance on a day
// @Tags Balances
// @Produce json
// @Security BearerAuth
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} object{date=string,amount=int64}
// @Router /balances/total [get]
func (h *BalanceHandler) GetTotalBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	date, ok := h.dateOrToday(w, r)
	if !ok {
		return
	}

	amount, err := h.service.GetTotalBalance(r.Context(), userID, date)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "amount": amount})
}

func (h *BalanceHandler) dateOrToday(w http.ResponseWriter, r *http.Request) (civil.Date, bool) {
	date, err := queryDate(r, "date")
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return civil.Date{}, false
	}
	if date == nil {
		return h.today(), true
	}
	return *date, true
}
