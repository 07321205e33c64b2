package handlers

import "github.com/go-chi/chi/v5"

// API groups the ledger handlers mounted under /api/v1.
type API struct {
	Transactions *TransactionHandler
	Accounts     *AccountHandler
	Balances     *BalanceHandler
	Refunds      *RefundHandler
	Stats        *StatsHandler
	Ingest       *IngestHandler
}

// Mount registers every ledger route on r. Authentication is applied by
// the caller.
func (a *API) Mount(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Post("/", a.Transactions.CreateTransaction)
		r.Get("/", a.Transactions.ListTransactions)
		r.Get("/{txId}", a.Transactions.GetTransaction)
		r.Put("/{txId}", a.Transactions.UpdateTransaction)
		r.Delete("/{txId}", a.Transactions.DeleteTransaction)
		r.Get("/{txId}/refunds", a.Refunds.ListRefunds)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", a.Accounts.CreateAccount)
		r.Get("/", a.Accounts.ListAccounts)
		r.Get("/{accountId}", a.Accounts.GetAccount)
		r.Put("/{accountId}", a.Accounts.UpdateAccount)
		r.Delete("/{accountId}", a.Accounts.DeleteAccount)
		r.Get("/{accountId}/balance", a.Balances.GetAccountBalance)
	})

	r.Get("/balances", a.Balances.GetBalanceHistory)
	r.Get("/balances/total", a.Balances.GetTotalBalance)

	r.Post("/refund-links", a.Refunds.CreateLink)
	r.Delete("/refund-links", a.Refunds.RemoveLink)

	r.Get("/stats/spendings-by-category", a.Stats.SpendingsByCategory)

	r.Post("/external/transactions", a.Ingest.IngestTransactions)
}
