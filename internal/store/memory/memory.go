package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/xid"
)

// Store keeps everything in process. WithTx holds the write lock for the
// whole callback, which serializes writers the way row locks do in
// postgres, and restores a snapshot if the callback fails.
//
// Repository methods must not be called from inside a WithTx callback;
// use the Tx instead.
type Store struct {
	mu sync.RWMutex
	st state
}

type state struct {
	products     map[string]domain.Product
	vehicles     map[string]domain.Vehicle
	customers    map[string]domain.Customer
	vehicleStock map[string]map[string]int
	ledger       []domain.StockTransaction
	sales        map[string]domain.Sale
	salesByIdem  map[string]string
	returns      []domain.ReturnTransaction
	expenses     []domain.Expense
	sequences    map[string]int
	users        map[string]domain.UserAccount
}

func New() *Store {
	return &Store{st: state{
		products:     make(map[string]domain.Product),
		vehicles:     make(map[string]domain.Vehicle),
		customers:    make(map[string]domain.Customer),
		vehicleStock: make(map[string]map[string]int),
		sales:        make(map[string]domain.Sale),
		salesByIdem:  make(map[string]string),
		sequences:    make(map[string]int),
		users:        make(map[string]domain.UserAccount),
	}}
}

// seedUsers builds the dev accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_CASHIER_PASSWORD, falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Msg("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("user", u.username).Msg("memory store: hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewSeeded returns a store with dev master data: products, two vans
// (VAN-01 already loaded), customers and users.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: "P-MILK-1L", Name: "Fresh Milk 1L", Category: domain.CategoryDairy, RetailPrice: money("320"), WholesalePrice: decimal.NewNullDecimal(money("290")), Stock: 400, ReorderLevel: 80},
		{ID: "P-YOG-CUP", Name: "Set Yoghurt Cup", Category: domain.CategoryDairy, RetailPrice: money("70"), WholesalePrice: decimal.NewNullDecimal(money("60")), Stock: 600, ReorderLevel: 120},
		{ID: "P-CURD-500", Name: "Buffalo Curd 500g", Category: domain.CategoryDairy, RetailPrice: money("450"), Stock: 120, ReorderLevel: 30},
		{ID: "P-BREAD-SL", Name: "Sliced Bread", Category: domain.CategoryBakery, RetailPrice: money("210"), WholesalePrice: decimal.NewNullDecimal(money("190")), Stock: 200, ReorderLevel: 40},
		{ID: "P-BUN-6", Name: "Tea Buns (6)", Category: domain.CategoryBakery, RetailPrice: money("180"), Stock: 150, ReorderLevel: 30},
		{ID: "P-JUICE-OR", Name: "Orange Juice 500ml", Category: domain.CategoryBeverage, RetailPrice: money("260"), WholesalePrice: decimal.NewNullDecimal(money("235")), Stock: 240, ReorderLevel: 48},
		{ID: "P-ICE-VAN", Name: "Vanilla Ice Cream 1L", Category: domain.CategoryFrozen, RetailPrice: money("850"), Stock: 60, ReorderLevel: 12},
	} {
		s.st.products[p.ID] = p
	}
	for _, v := range []domain.Vehicle{
		{ID: "VAN-01", Number: "WP KA-4521", Driver: "driver-01"},
		{ID: "VAN-02", Number: "WP KB-1187", Driver: "driver-02"},
	} {
		s.st.vehicles[v.ID] = v
	}
	for _, c := range []domain.Customer{
		{ID: "C-001", Name: "Lakeside Grocery", CreditBalance: money("1500")},
		{ID: "C-002", Name: "Hilltop Bakery Cafe", CreditBalance: decimal.Zero},
		{ID: "C-003", Name: "Station Road Stores", CreditBalance: money("250")},
	} {
		s.st.customers[c.ID] = c
	}

	seededAt := time.Now().UTC().Add(-time.Hour)
	for _, load := range []struct {
		productID string
		qty       int
	}{
		{"P-MILK-1L", 60},
		{"P-YOG-CUP", 120},
		{"P-BREAD-SL", 30},
	} {
		product := s.st.products[load.productID]
		entry := domain.StockTransaction{
			ID:              xid.New("stk"),
			ProductID:       load.productID,
			Type:            domain.StockLoadToVehicle,
			Quantity:        load.qty,
			PreviousStock:   product.Stock,
			NewStock:        product.Stock - load.qty,
			TransactionDate: seededAt,
			VehicleID:       "VAN-01",
			Note:            "seed load",
			StaffID:         "system",
		}
		product.Stock -= load.qty
		s.st.products[load.productID] = product
		s.st.ledger = append(s.st.ledger, entry)
		if s.st.vehicleStock["VAN-01"] == nil {
			s.st.vehicleStock["VAN-01"] = make(map[string]int)
		}
		s.st.vehicleStock["VAN-01"][load.productID] += load.qty
	}

	s.st.users = seedUsers()
	return s
}

// PutProduct, PutVehicle and PutCustomer stand in for master-data CRUD in
// tests and dev tooling.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) PutVehicle(v domain.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.vehicles[v.ID] = v
}

func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx, &memTx{st: &s.st}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (st state) clone() state {
	out := state{
		products:     maps.Clone(st.products),
		vehicles:     maps.Clone(st.vehicles),
		customers:    maps.Clone(st.customers),
		vehicleStock: make(map[string]map[string]int, len(st.vehicleStock)),
		ledger:       slices.Clone(st.ledger),
		sales:        make(map[string]domain.Sale, len(st.sales)),
		salesByIdem:  maps.Clone(st.salesByIdem),
		returns:      slices.Clone(st.returns),
		expenses:     slices.Clone(st.expenses),
		sequences:    maps.Clone(st.sequences),
		users:        maps.Clone(st.users),
	}
	for vehicleID, balances := range st.vehicleStock {
		out.vehicleStock[vehicleID] = maps.Clone(balances)
	}
	for id, sale := range st.sales {
		out.sales[id] = cloneSale(sale)
	}
	return out
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.products))
	slices.SortFunc(out, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ListVehicles(_ context.Context) ([]domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.vehicles))
	slices.SortFunc(out, func(a, b domain.Vehicle) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetVehicle(_ context.Context, id string) (*domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.st.vehicles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.st.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetVehicleStock(_ context.Context, vehicleID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for productID, qty := range s.st.vehicleStock[vehicleID] {
		if qty != 0 {
			out[productID] = qty
		}
	}
	return out, nil
}

func (s *Store) ListStockTransactionsByVehicle(_ context.Context, vehicleID string) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockTransaction, 0, 32)
	for _, entry := range s.st.ledger {
		if entry.VehicleID == vehicleID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) ListStockTransactions(_ context.Context, types []domain.StockTxType, from time.Time, to time.Time) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockTransaction, 0, 32)
	for _, entry := range s.st.ledger {
		if len(types) > 0 && !slices.Contains(types, entry.Type) {
			continue
		}
		if !within(entry.TransactionDate, from, to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(s.st.sales[id])
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, 16)
	for _, sale := range s.st.sales {
		if within(sale.CreatedAt, from, to) {
			out = append(out, cloneSale(sale))
		}
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) ListPayments(_ context.Context, from time.Time, to time.Time) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Payment, 0, 16)
	for _, sale := range s.st.sales {
		for _, p := range sale.Payments {
			if within(p.Date, from, to) {
				out = append(out, p)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Payment) int {
		return cmp.Or(a.Date.Compare(b.Date), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) ListReturnsBySale(_ context.Context, saleID string) ([]domain.ReturnTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReturnTransaction, 0, 4)
	for _, ret := range s.st.returns {
		if ret.OriginalSaleID == saleID {
			out = append(out, cloneReturn(ret))
		}
	}
	return out, nil
}

func (s *Store) ListReturns(_ context.Context, from time.Time, to time.Time) ([]domain.ReturnTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ReturnTransaction, 0, 8)
	for _, ret := range s.st.returns {
		if within(ret.CreatedAt, from, to) {
			out = append(out, cloneReturn(ret))
		}
	}
	return out, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Expense, 0, 8)
	for _, e := range s.st.expenses {
		if within(e.Date, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.Invalid("username", "required")
	}
	if _, exists := s.st.users[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	s.st.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.st.users))
	slices.SortFunc(out, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.st.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.st.users[username] = user
	return nil
}

// memTx mutates the state directly; the Store write lock is held by WithTx.
type memTx struct {
	st *state
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) SetProductStock(_ context.Context, id string, stock int) error {
	p, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = stock
	t.st.products[id] = p
	return nil
}

func (t *memTx) GetVehicleStockForUpdate(_ context.Context, vehicleID string, productID string) (int, error) {
	if _, ok := t.st.vehicles[vehicleID]; !ok {
		return 0, store.ErrNotFound
	}
	return t.st.vehicleStock[vehicleID][productID], nil
}

func (t *memTx) SetVehicleStock(_ context.Context, vehicleID string, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("vehicle stock %s/%s would be %d: %w", vehicleID, productID, qty, store.ErrInsufficientStock)
	}
	if t.st.vehicleStock[vehicleID] == nil {
		t.st.vehicleStock[vehicleID] = make(map[string]int)
	}
	t.st.vehicleStock[vehicleID][productID] = qty
	return nil
}

func (t *memTx) InsertStockTransaction(_ context.Context, entry domain.StockTransaction) error {
	t.st.ledger = append(t.st.ledger, entry)
	return nil
}

func (t *memTx) NextSequence(_ context.Context, name string, day time.Time) (int, error) {
	key := name + ":" + day.Format("2006-01-02")
	t.st.sequences[key]++
	return t.st.sequences[key], nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrDuplicate
	}
	if sale.IdempotencyKey != "" {
		if _, exists := t.st.salesByIdem[sale.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
		t.st.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *memTx) UpdateSaleBalance(_ context.Context, sale domain.Sale) error {
	current, ok := t.st.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.TotalAmountPaid = sale.TotalAmountPaid
	current.OutstandingBalance = sale.OutstandingBalance
	current.PaymentSummary = sale.PaymentSummary
	t.st.sales[sale.ID] = current
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	sale, ok := t.st.sales[payment.SaleID]
	if !ok {
		return store.ErrNotFound
	}
	sale.Payments = append(slices.Clone(sale.Payments), payment)
	t.st.sales[payment.SaleID] = sale
	return nil
}

func (t *memTx) CancelSale(_ context.Context, id string, reason string, at time.Time) error {
	sale, ok := t.st.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return store.ErrSaleCancelled
	}
	sale.Status = domain.SaleStatusCancelled
	sale.CancellationReason = reason
	sale.CancelledAt = &at
	t.st.sales[id] = sale
	return nil
}

func (t *memTx) ReturnedQuantities(_ context.Context, saleID string) (map[store.ReturnKey]int, error) {
	out := make(map[store.ReturnKey]int)
	for _, ret := range t.st.returns {
		if ret.OriginalSaleID != saleID {
			continue
		}
		for _, item := range ret.ReturnedItems {
			out[store.ReturnKey{ProductID: item.ProductID, SaleType: item.SaleType}] += item.Quantity
		}
	}
	return out, nil
}

func (t *memTx) InsertReturn(_ context.Context, ret domain.ReturnTransaction) error {
	t.st.returns = append(t.st.returns, cloneReturn(ret))
	return nil
}

func (t *memTx) InsertExpense(_ context.Context, expense domain.Expense) error {
	t.st.expenses = append(t.st.expenses, expense)
	return nil
}

func (t *memTx) AvailableCredit(_ context.Context, customerID string) (decimal.Decimal, error) {
	c, ok := t.st.customers[customerID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	return c.CreditBalance, nil
}

func (t *memTx) ApplyCredit(_ context.Context, customerID string, amount decimal.Decimal) error {
	c, ok := t.st.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	if amount.GreaterThan(c.CreditBalance) {
		return store.Invalid("credit", "exceeds available account credit")
	}
	c.CreditBalance = c.CreditBalance.Sub(amount)
	t.st.customers[customerID] = c
	return nil
}

func (t *memTx) AddCredit(_ context.Context, customerID string, amount decimal.Decimal) error {
	c, ok := t.st.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	c.CreditBalance = c.CreditBalance.Add(amount)
	t.st.customers[customerID] = c
	return nil
}

func within(at time.Time, from time.Time, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Lines = slices.Clone(sale.Lines)
	sale.Payments = slices.Clone(sale.Payments)
	if sale.CancelledAt != nil {
		at := *sale.CancelledAt
		sale.CancelledAt = &at
	}
	return sale
}

func cloneReturn(ret domain.ReturnTransaction) domain.ReturnTransaction {
	ret.ReturnedItems = slices.Clone(ret.ReturnedItems)
	ret.ExchangedItems = slices.Clone(ret.ExchangedItems)
	return ret
}
