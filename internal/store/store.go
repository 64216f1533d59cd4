package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
)

// Repository is the read side plus the transaction entry point. Every
// write happens through a Tx handed to WithTx, so a failed callback leaves
// no partial rows behind.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)

	GetVehicleStock(ctx context.Context, vehicleID string) (map[string]int, error)
	ListStockTransactionsByVehicle(ctx context.Context, vehicleID string) ([]domain.StockTransaction, error)
	ListStockTransactions(ctx context.Context, types []domain.StockTxType, from time.Time, to time.Time) ([]domain.StockTransaction, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	ListPayments(ctx context.Context, from time.Time, to time.Time) ([]domain.Payment, error)
	ListReturnsBySale(ctx context.Context, saleID string) ([]domain.ReturnTransaction, error)
	ListReturns(ctx context.Context, from time.Time, to time.Time) ([]domain.ReturnTransaction, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is bound to one store transaction. The ForUpdate reads lock the row
// until commit or rollback.
type Tx interface {
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	SetProductStock(ctx context.Context, id string, stock int) error
	GetVehicleStockForUpdate(ctx context.Context, vehicleID string, productID string) (int, error)
	SetVehicleStock(ctx context.Context, vehicleID string, productID string, qty int) error
	InsertStockTransaction(ctx context.Context, entry domain.StockTransaction) error

	// NextSequence returns the next value of a per-day counter (1-based).
	NextSequence(ctx context.Context, name string, day time.Time) (int, error)

	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	UpdateSaleBalance(ctx context.Context, sale domain.Sale) error
	InsertPayment(ctx context.Context, payment domain.Payment) error
	CancelSale(ctx context.Context, id string, reason string, at time.Time) error

	ReturnedQuantities(ctx context.Context, saleID string) (map[ReturnKey]int, error)
	InsertReturn(ctx context.Context, ret domain.ReturnTransaction) error

	InsertExpense(ctx context.Context, expense domain.Expense) error

	// Customer credit ledger.
	AvailableCredit(ctx context.Context, customerID string) (decimal.Decimal, error)
	ApplyCredit(ctx context.Context, customerID string, amount decimal.Decimal) error
	AddCredit(ctx context.Context, customerID string, amount decimal.Decimal) error
}

// ReturnKey identifies the paid lines of a sale that a return draws from.
type ReturnKey struct {
	ProductID string
	SaleType  domain.SaleType
}
