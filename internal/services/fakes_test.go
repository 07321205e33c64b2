package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// fakeStore is an in-memory database. WithinTx snapshots the whole state
// and restores it when the closure fails, like a rolled back transaction.
type fakeStore struct {
	nextID   int64
	users    map[int64]string
	accounts map[int64]models.Account
	txs      map[int64]models.Transaction
	balances map[int64]map[civil.Date]int64
	links    map[int64]models.RefundLink
	rates    map[string][]models.ExchangeRate
	failOn   map[string]error
	now      time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[int64]string{},
		accounts: map[int64]models.Account{},
		txs:      map[int64]models.Transaction{},
		balances: map[int64]map[civil.Date]int64{},
		links:    map[int64]models.RefundLink{},
		rates:    map[string][]models.ExchangeRate{},
		failOn:   map[string]error{},
		now:      time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) fail(op string) error {
	return s.failOn[op]
}

type fakeSnapshot struct {
	nextID   int64
	accounts map[int64]models.Account
	txs      map[int64]models.Transaction
	balances map[int64]map[civil.Date]int64
	links    map[int64]models.RefundLink
}

func (s *fakeStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		nextID:   s.nextID,
		accounts: make(map[int64]models.Account, len(s.accounts)),
		txs:      make(map[int64]models.Transaction, len(s.txs)),
		balances: make(map[int64]map[civil.Date]int64, len(s.balances)),
		links:    make(map[int64]models.RefundLink, len(s.links)),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.txs {
		snap.txs[k] = v
	}
	for k, days := range s.balances {
		cp := make(map[civil.Date]int64, len(days))
		for d, a := range days {
			cp[d] = a
		}
		snap.balances[k] = cp
	}
	for k, v := range s.links {
		snap.links[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.nextID = snap.nextID
	s.accounts = snap.accounts
	s.txs = snap.txs
	s.balances = snap.balances
	s.links = snap.links
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	if err := s.fail("begin"); err != nil {
		return err
	}
	snap := s.snapshot()
	if err := fn(ctx, nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) Reader() repository.Querier {
	return nil
}

// history returns the snapshots of an account ordered by date.
func (s *fakeStore) history(accountID int64) []models.Balance {
	var out []models.Balance
	for d, a := range s.balances[accountID] {
		out = append(out, models.Balance{AccountID: accountID, Date: d, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

type fakeAccounts struct{ s *fakeStore }

func (r fakeAccounts) Create(_ context.Context, _ repository.Querier, a *models.Account) error {
	if err := r.s.fail("accounts.Create"); err != nil {
		return err
	}
	a.ID = r.s.id()
	a.UpdatedAt = a.CreatedAt
	r.s.accounts[a.ID] = *a
	return nil
}

func (r fakeAccounts) Get(_ context.Context, _ repository.Querier, userID, id int64) (*models.Account, error) {
	a, ok := r.s.accounts[id]
	if !ok || a.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r fakeAccounts) GetByID(_ context.Context, _ repository.Querier, id int64) (*models.Account, error) {
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r fakeAccounts) GetForUpdate(ctx context.Context, q repository.Querier, userID, id int64) (*models.Account, error) {
	if err := r.s.fail("accounts.GetForUpdate"); err != nil {
		return nil, err
	}
	return r.Get(ctx, q, userID, id)
}

func (r fakeAccounts) List(_ context.Context, _ repository.Querier, userID int64) ([]models.Account, error) {
	var out []models.Account
	for _, a := range r.s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeAccounts) update(id int64, fn func(a *models.Account)) error {
	a, ok := r.s.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&a)
	r.s.accounts[id] = a
	return nil
}

func (r fakeAccounts) UpdateName(_ context.Context, _ repository.Querier, id int64, name string) error {
	return r.update(id, func(a *models.Account) { a.Name = name })
}

func (r fakeAccounts) ApplyBalanceEdit(_ context.Context, _ repository.Querier, id, diff, refDiff int64) error {
	return r.update(id, func(a *models.Account) {
		a.InitialBalance += diff
		a.CurrentBalance += diff
		a.RefInitialBalance += refDiff
	})
}

func (r fakeAccounts) SetRefCurrentBalance(_ context.Context, _ repository.Querier, id, amount int64) error {
	return r.update(id, func(a *models.Account) { a.RefCurrentBalance = amount })
}

func (r fakeAccounts) AdjustCurrentBalance(_ context.Context, _ repository.Querier, id, delta int64) error {
	return r.update(id, func(a *models.Account) { a.CurrentBalance += delta })
}

func (r fakeAccounts) SetCurrentBalance(_ context.Context, _ repository.Querier, id, amount int64) error {
	return r.update(id, func(a *models.Account) { a.CurrentBalance = amount })
}

func (r fakeAccounts) Delete(_ context.Context, _ repository.Querier, userID, id int64) error {
	a, ok := r.s.accounts[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.s.accounts, id)
	delete(r.s.balances, id)
	for txID, tx := range r.s.txs {
		if tx.AccountID == id {
			delete(r.s.txs, txID)
		}
	}
	return nil
}

type fakeTxs struct{ s *fakeStore }

func (r fakeTxs) Create(_ context.Context, _ repository.Querier, tx *models.Transaction) error {
	if err := r.s.fail("txs.Create"); err != nil {
		return err
	}
	tx.ID = r.s.id()
	tx.CreatedAt = r.s.now
	tx.UpdatedAt = r.s.now
	r.s.txs[tx.ID] = *tx
	return nil
}

func (r fakeTxs) Get(_ context.Context, _ repository.Querier, userID, id int64) (*models.Transaction, error) {
	tx, ok := r.s.txs[id]
	if !ok || tx.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &tx, nil
}

func (r fakeTxs) GetForUpdate(ctx context.Context, q repository.Querier, userID, id int64) (*models.Transaction, error) {
	return r.Get(ctx, q, userID, id)
}

func (r fakeTxs) GetTransferSibling(_ context.Context, _ repository.Querier, tx *models.Transaction) (*models.Transaction, error) {
	if tx.TransferID == nil {
		return nil, repository.ErrNotFound
	}
	for _, other := range r.s.txs {
		if other.ID != tx.ID && other.UserID == tx.UserID && other.TransferID != nil && *other.TransferID == *tx.TransferID {
			return &other, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeTxs) Update(_ context.Context, _ repository.Querier, tx *models.Transaction) error {
	if err := r.s.fail("txs.Update"); err != nil {
		return err
	}
	stored, ok := r.s.txs[tx.ID]
	if !ok {
		return repository.ErrNotFound
	}
	tx.RefundLinked = stored.RefundLinked
	tx.UpdatedAt = r.s.now
	r.s.txs[tx.ID] = *tx
	return nil
}

func (r fakeTxs) Delete(_ context.Context, _ repository.Querier, id int64) error {
	if _, ok := r.s.txs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.txs, id)
	for linkID, l := range r.s.links {
		if l.RefundTxID == id || (l.OriginalTxID != nil && *l.OriginalTxID == id) {
			delete(r.s.links, linkID)
		}
	}
	return nil
}

func (r fakeTxs) List(_ context.Context, _ repository.Querier, userID int64, f repository.TransactionFilter) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tx := range r.s.txs {
		if tx.UserID != userID {
			continue
		}
		if f.AccountID != nil && tx.AccountID != *f.AccountID {
			continue
		}
		if f.From != nil && tx.Time.Before(*f.From) {
			continue
		}
		if f.To != nil && tx.Time.After(*f.To) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r fakeTxs) RefreshRefundLinked(_ context.Context, _ repository.Querier, ids []int64) error {
	for _, id := range ids {
		tx, ok := r.s.txs[id]
		if !ok {
			continue
		}
		tx.RefundLinked = false
		for _, l := range r.s.links {
			if l.RefundTxID == id || (l.OriginalTxID != nil && *l.OriginalTxID == id) {
				tx.RefundLinked = true
			}
		}
		r.s.txs[id] = tx
	}
	return nil
}

func (r fakeTxs) ExpenseTotalsByCategory(_ context.Context, _ repository.Querier, userID int64, from, to time.Time) ([]repository.CategoryAmount, error) {
	totals := map[string]*repository.CategoryAmount{}
	for _, tx := range r.s.txs {
		if tx.UserID != userID || tx.TransactionType != models.TransactionTypeExpense || tx.TransferNature != models.TransferNatureNone {
			continue
		}
		if tx.Time.Before(from) || !tx.Time.Before(to) {
			continue
		}
		addCategory(totals, tx.CategoryID, tx.RefAmount)
	}
	return categoryList(totals), nil
}

func (r fakeTxs) RefundTotalsByCategory(_ context.Context, _ repository.Querier, userID int64, from, to time.Time) ([]repository.CategoryAmount, error) {
	totals := map[string]*repository.CategoryAmount{}
	for _, l := range r.s.links {
		refund := r.s.txs[l.RefundTxID]
		if refund.UserID != userID || refund.TransactionType != models.TransactionTypeIncome {
			continue
		}
		if refund.Time.Before(from) || !refund.Time.Before(to) {
			continue
		}
		category := refund.CategoryID
		if l.OriginalTxID != nil {
			if original, ok := r.s.txs[*l.OriginalTxID]; ok && original.CategoryID != nil {
				category = original.CategoryID
			}
		}
		addCategory(totals, category, refund.RefAmount)
	}
	return categoryList(totals), nil
}

func addCategory(totals map[string]*repository.CategoryAmount, id *int64, amount int64) {
	key := "none"
	if id != nil {
		key = fmt.Sprint(*id)
	}
	if t, ok := totals[key]; ok {
		t.Amount += amount
		return
	}
	totals[key] = &repository.CategoryAmount{CategoryID: id, Amount: amount}
}

func categoryList(totals map[string]*repository.CategoryAmount) []repository.CategoryAmount {
	out := make([]repository.CategoryAmount, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	return out
}

type fakeBalances struct{ s *fakeStore }

func (r fakeBalances) get(accountID int64, date civil.Date) (*models.Balance, error) {
	amount, ok := r.s.balances[accountID][date]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &models.Balance{AccountID: accountID, Date: date, Amount: amount}, nil
}

func (r fakeBalances) GetForUpdate(_ context.Context, _ repository.Querier, accountID int64, date civil.Date) (*models.Balance, error) {
	if err := r.s.fail("balances.GetForUpdate"); err != nil {
		return nil, err
	}
	return r.get(accountID, date)
}

func (r fakeBalances) latest(accountID int64, keep func(civil.Date) bool) (*models.Balance, error) {
	var found *models.Balance
	for _, b := range r.s.history(accountID) {
		if keep(b.Date) {
			b := b
			found = &b
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r fakeBalances) GetLatestBefore(_ context.Context, _ repository.Querier, accountID int64, date civil.Date) (*models.Balance, error) {
	return r.latest(accountID, func(d civil.Date) bool { return d.Before(date) })
}

func (r fakeBalances) GetLatestOnOrBefore(_ context.Context, _ repository.Querier, accountID int64, date civil.Date) (*models.Balance, error) {
	return r.latest(accountID, func(d civil.Date) bool { return !d.After(date) })
}

func (r fakeBalances) GetLatest(_ context.Context, _ repository.Querier, accountID int64) (*models.Balance, error) {
	return r.latest(accountID, func(civil.Date) bool { return true })
}

func (r fakeBalances) Insert(_ context.Context, _ repository.Querier, b models.Balance) error {
	if err := r.s.fail("balances.Insert"); err != nil {
		return err
	}
	days, ok := r.s.balances[b.AccountID]
	if !ok {
		days = map[civil.Date]int64{}
		r.s.balances[b.AccountID] = days
	}
	if _, exists := days[b.Date]; exists {
		return repository.ErrConflict
	}
	days[b.Date] = b.Amount
	return nil
}

func (r fakeBalances) SetAmount(_ context.Context, _ repository.Querier, accountID int64, date civil.Date, amount int64) error {
	if _, ok := r.s.balances[accountID][date]; !ok {
		return repository.ErrNotFound
	}
	r.s.balances[accountID][date] = amount
	return nil
}

func (r fakeBalances) AddAfter(_ context.Context, _ repository.Querier, accountID int64, date civil.Date, delta int64) (int64, error) {
	if err := r.s.fail("balances.AddAfter"); err != nil {
		return 0, err
	}
	var n int64
	for d := range r.s.balances[accountID] {
		if d.After(date) {
			r.s.balances[accountID][d] += delta
			n++
		}
	}
	return n, nil
}

func (r fakeBalances) AddAll(_ context.Context, _ repository.Querier, accountID int64, delta int64) error {
	for d := range r.s.balances[accountID] {
		r.s.balances[accountID][d] += delta
	}
	return nil
}

func (r fakeBalances) List(_ context.Context, _ repository.Querier, userID int64, accountID *int64, from, to *civil.Date) ([]models.Balance, error) {
	var out []models.Balance
	for id, a := range r.s.accounts {
		if a.UserID != userID || (accountID != nil && id != *accountID) {
			continue
		}
		for _, b := range r.s.history(id) {
			if from != nil && b.Date.Before(*from) {
				continue
			}
			if to != nil && b.Date.After(*to) {
				continue
			}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (r fakeBalances) LatestBefore(ctx context.Context, q repository.Querier, userID int64, accountID *int64, date civil.Date) ([]models.Balance, error) {
	var out []models.Balance
	for id, a := range r.s.accounts {
		if a.UserID != userID || (accountID != nil && id != *accountID) {
			continue
		}
		if b, err := r.GetLatestBefore(ctx, q, id, date); err == nil {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

type fakeLinks struct{ s *fakeStore }

func (r fakeLinks) Create(_ context.Context, _ repository.Querier, link *models.RefundLink) error {
	for _, l := range r.s.links {
		if l.RefundTxID == link.RefundTxID {
			return repository.ErrConflict
		}
	}
	link.ID = r.s.id()
	link.CreatedAt = r.s.now
	link.UpdatedAt = r.s.now
	r.s.links[link.ID] = *link
	return nil
}

func (r fakeLinks) GetByRefund(_ context.Context, _ repository.Querier, refundTxID int64) (*models.RefundLink, error) {
	for _, l := range r.s.links {
		if l.RefundTxID == refundTxID {
			return &l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeLinks) ListByOriginal(_ context.Context, _ repository.Querier, originalTxID int64) ([]models.RefundLink, error) {
	var out []models.RefundLink
	for _, l := range r.s.links {
		if l.OriginalTxID != nil && *l.OriginalTxID == originalTxID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeLinks) SumRefunded(_ context.Context, _ repository.Querier, originalTxID int64) (int64, error) {
	var total int64
	for _, l := range r.s.links {
		if l.OriginalTxID != nil && *l.OriginalTxID == originalTxID {
			total += r.s.txs[l.RefundTxID].RefAmount
		}
	}
	return total, nil
}

func (r fakeLinks) DeleteByRefund(_ context.Context, _ repository.Querier, refundTxID int64) error {
	for id, l := range r.s.links {
		if l.RefundTxID == refundTxID {
			delete(r.s.links, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r fakeLinks) DeleteForTransaction(_ context.Context, _ repository.Querier, txID int64) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id, l := range r.s.links {
		if l.RefundTxID == txID || (l.OriginalTxID != nil && *l.OriginalTxID == txID) {
			if l.OriginalTxID != nil {
				add(*l.OriginalTxID)
			}
			add(l.RefundTxID)
			delete(r.s.links, id)
		}
	}
	return ids, nil
}

type fakeCurrencies struct{ s *fakeStore }

func (r fakeCurrencies) GetUserBaseCurrency(_ context.Context, _ repository.Querier, userID int64) (string, error) {
	code, ok := r.s.users[userID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return code, nil
}

func (r fakeCurrencies) GetRate(_ context.Context, _ repository.Querier, base, quote string, date civil.Date) (*models.ExchangeRate, error) {
	if err := r.s.fail("currencies.GetRate"); err != nil {
		return nil, err
	}
	var found *models.ExchangeRate
	for _, rate := range r.s.rates[base+"/"+quote] {
		if !civil.DateOf(rate.Date).After(date) && (found == nil || rate.Date.After(found.Date)) {
			rate := rate
			found = &rate
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (s *fakeStore) addRate(base, quote, rate string, date time.Time) {
	s.rates[base+"/"+quote] = append(s.rates[base+"/"+quote], models.ExchangeRate{
		BaseCode:  base,
		QuoteCode: quote,
		Rate:      decimal.RequireFromString(rate),
		Date:      date,
	})
}

var errStorage = errors.New("storage unavailable")

const testUser = int64(1)

// ledgerHarness wires every service over one fakeStore.
type ledgerHarness struct {
	store        *fakeStore
	audit        *MockAuditLogger
	currency     *CurrencyService
	ledger       *BalanceLedger
	transactions *TransactionService
	accounts     *AccountService
	balances     *BalanceService
	refunds      *RefundService
	stats        *StatsService
}

func newLedgerHarness() *ledgerHarness {
	store := newFakeStore()
	store.users[testUser] = "USD"

	accounts := fakeAccounts{store}
	txs := fakeTxs{store}
	balances := fakeBalances{store}
	links := fakeLinks{store}

	auditor := new(MockAuditLogger).allowAll()
	currency := NewCurrencyService(fakeCurrencies{store}, nil, nil, time.Hour, "USD")
	ledger := NewBalanceLedger(accounts, balances, currency)

	transfers := NewTransferLinker(txs)
	var seq int
	transfers.newID = func() string {
		seq++
		return fmt.Sprintf("transfer-%d", seq)
	}
	refunds := NewRefundLinker(txs, links)

	accountService := NewAccountService(store, accounts, ledger, currency, auditor)
	accountService.now = func() time.Time { return store.now }

	return &ledgerHarness{
		store:        store,
		audit:        auditor,
		currency:     currency,
		ledger:       ledger,
		transactions: NewTransactionService(store, accounts, txs, ledger, transfers, refunds, currency, auditor),
		accounts:     accountService,
		balances:     NewBalanceService(store, accounts, balances),
		refunds:      NewRefundService(store, txs, links, refunds, auditor),
		stats:        NewStatsService(store, txs),
	}
}

var day0 = civil.Date{Year: 2024, Month: time.March, Day: 10}

// at returns noon UTC of the day offset days from day0.
func at(offset int) time.Time {
	return day0.AddDays(offset).In(time.UTC).Add(12 * time.Hour)
}

func (h *ledgerHarness) account(name, currency string, initial int64) *models.Account {
	a, err := h.accounts.CreateAccount(context.Background(), testUser, CreateAccountParams{
		Name:           name,
		CurrencyCode:   currency,
		InitialBalance: initial,
	})
	if err != nil {
		panic(err)
	}
	return a
}

func (h *ledgerHarness) externalAccount(name string, initial int64) *models.Account {
	a, err := h.accounts.CreateAccount(context.Background(), testUser, CreateAccountParams{
		Name:           name,
		CurrencyCode:   "USD",
		Type:           models.AccountTypeExternal,
		InitialBalance: initial,
	})
	if err != nil {
		panic(err)
	}
	return a
}

func (h *ledgerHarness) post(accountID, amount int64, txType models.TransactionType, when time.Time) *models.Transaction {
	created, err := h.transactions.CreateTransaction(context.Background(), testUser, CreateTransactionParams{
		AccountID:       accountID,
		Amount:          amount,
		Time:            when,
		TransactionType: txType,
	})
	if err != nil {
		panic(err)
	}
	return &created[0]
}

// snapshots returns the account history as date offsets from day0 to amounts.
func (h *ledgerHarness) snapshots(accountID int64) map[int]int64 {
	out := map[int]int64{}
	for _, b := range h.store.history(accountID) {
		out[b.Date.DaysSince(day0)] = b.Amount
	}
	return out
}

func (h *ledgerHarness) acc(id int64) models.Account {
	return h.store.accounts[id]
}
