package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductCategory string

const (
	CategoryDairy    ProductCategory = "dairy"
	CategoryBakery   ProductCategory = "bakery"
	CategoryBeverage ProductCategory = "beverage"
	CategoryFrozen   ProductCategory = "frozen"
	CategoryOther    ProductCategory = "other"
)

type SaleType string

const (
	SaleTypeRetail    SaleType = "retail"
	SaleTypeWholesale SaleType = "wholesale"
)

type StockTxType string

const (
	StockAddInventory     StockTxType = "ADD_STOCK_INVENTORY"
	StockLoadToVehicle    StockTxType = "LOAD_TO_VEHICLE"
	StockUnloadVehicle    StockTxType = "UNLOAD_FROM_VEHICLE"
	StockRemoveWastage    StockTxType = "REMOVE_STOCK_WASTAGE"
	StockAdjustmentManual StockTxType = "STOCK_ADJUSTMENT_MANUAL"
	StockIssueSample      StockTxType = "ISSUE_SAMPLE"
	// Written by sales, exchanges, returns and cancellations only.
	StockSaleIssue       StockTxType = "SALE_ISSUE"
	StockReturnToVehicle StockTxType = "RETURN_TO_VEHICLE"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCheque       PaymentMethod = "cheque"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCredit       PaymentMethod = "credit"
	// Return credit used to settle an outstanding balance.
	PaymentReturnCredit PaymentMethod = "return_credit"
)

type ReturnLineType string

const (
	LineReturned  ReturnLineType = "returned"
	LineExchanged ReturnLineType = "exchanged"
)

type Product struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Category       ProductCategory     `json:"category"`
	RetailPrice    decimal.Decimal     `json:"retail_price"`
	WholesalePrice decimal.NullDecimal `json:"wholesale_price"`
	Stock          int                 `json:"stock"`
	ReorderLevel   int                 `json:"reorder_level"`
}

// PriceFor returns the list price for saleType. Wholesale without a
// wholesale price reports false.
func (p Product) PriceFor(saleType SaleType) (decimal.Decimal, bool) {
	switch saleType {
	case SaleTypeRetail:
		return p.RetailPrice, true
	case SaleTypeWholesale:
		if !p.WholesalePrice.Valid {
			return decimal.Zero, false
		}
		return p.WholesalePrice.Decimal, true
	default:
		return decimal.Zero, false
	}
}

type Vehicle struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Driver string `json:"driver"`
}

type Customer struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
}

type StockTransaction struct {
	ID              string      `json:"id"`
	ProductID       string      `json:"product_id"`
	Type            StockTxType `json:"type"`
	Quantity        int         `json:"quantity"`
	PreviousStock   int         `json:"previous_stock"`
	NewStock        int         `json:"new_stock"`
	TransactionDate time.Time   `json:"transaction_date"`
	VehicleID       string      `json:"vehicle_id,omitempty"`
	StartMeter      *int        `json:"start_meter,omitempty"`
	EndMeter        *int        `json:"end_meter,omitempty"`
	Reference       string      `json:"reference,omitempty"`
	Note            string      `json:"note,omitempty"`
	StaffID         string      `json:"staff_id"`
}

type VehicleStock struct {
	VehicleID string `json:"vehicle_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// StockDrift is a (vehicle, product) balance that disagrees with a full
// ledger replay.
type StockDrift struct {
	ProductID string `json:"product_id"`
	Recorded  int    `json:"recorded"`
	Replayed  int    `json:"replayed"`
}

type VehicleStockReport struct {
	VehicleID string         `json:"vehicle_id"`
	Stock     map[string]int `json:"stock"`
	Drift     []StockDrift   `json:"drift,omitempty"`
}

type MovementRequest struct {
	Type       StockTxType `json:"type" validate:"required"`
	ProductID  string      `json:"product_id" validate:"required"`
	Quantity   int         `json:"quantity" validate:"gt=0"`
	VehicleID  string      `json:"vehicle_id,omitempty"`
	StartMeter *int        `json:"start_meter,omitempty" validate:"omitempty,gte=0"`
	EndMeter   *int        `json:"end_meter,omitempty" validate:"omitempty,gte=0"`
	Note       string      `json:"note,omitempty" validate:"max=280"`
	StaffID    string      `json:"-"`
}

type MovementResponse struct {
	Entries []StockTransaction `json:"entries"`
}

// SaleLine carries a snapshot of the product as it was when sold.
type SaleLine struct {
	ProductID        string              `json:"product_id"`
	Name             string              `json:"name"`
	Category         ProductCategory     `json:"category"`
	RetailPrice      decimal.Decimal     `json:"retail_price"`
	WholesalePrice   decimal.NullDecimal `json:"wholesale_price"`
	Quantity         int                 `json:"quantity"`
	AppliedPrice     decimal.Decimal     `json:"applied_price"`
	SaleType         SaleType            `json:"sale_type"`
	IsOfferItem      bool                `json:"is_offer_item"`
	ReturnedQuantity int                 `json:"returned_quantity"`
}

// ListPrice is the snapshot price for the line's sale type.
func (l SaleLine) ListPrice() decimal.Decimal {
	if l.SaleType == SaleTypeWholesale && l.WholesalePrice.Valid {
		return l.WholesalePrice.Decimal
	}
	return l.RetailPrice
}

func (l SaleLine) Total() decimal.Decimal {
	return l.AppliedPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// NewSaleLine snapshots product into a line.
func NewSaleLine(product Product, qty int, saleType SaleType, applied decimal.Decimal, offer bool) SaleLine {
	return SaleLine{
		ProductID:      product.ID,
		Name:           product.Name,
		Category:       product.Category,
		RetailPrice:    product.RetailPrice,
		WholesalePrice: product.WholesalePrice,
		Quantity:       qty,
		AppliedPrice:   applied,
		SaleType:       saleType,
		IsOfferItem:    offer,
	}
}

type CartLine struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Quantity     int             `json:"quantity" validate:"gt=0"`
	SaleType     SaleType        `json:"sale_type" validate:"required,oneof=retail wholesale"`
	AppliedPrice decimal.Decimal `json:"applied_price"`
	IsOfferItem  bool            `json:"is_offer_item"`
}

type Tender struct {
	Cash            decimal.Decimal `json:"cash"`
	Cheque          decimal.Decimal `json:"cheque"`
	BankTransfer    decimal.Decimal `json:"bank_transfer"`
	CreditRequested decimal.Decimal `json:"credit_requested"`
	ChequeNumber    string          `json:"cheque_number,omitempty" validate:"max=64"`
	ChequeBank      string          `json:"cheque_bank,omitempty" validate:"max=120"`
	ChequeDate      string          `json:"cheque_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BankName        string          `json:"bank_name,omitempty" validate:"max=120"`
	BankReference   string          `json:"bank_reference,omitempty" validate:"max=120"`
}

type SaleRequest struct {
	IdempotencyKey string     `json:"idempotency_key,omitempty" validate:"max=120"`
	CustomerID     string     `json:"customer_id,omitempty"`
	VehicleID      string     `json:"vehicle_id,omitempty"`
	Lines          []CartLine `json:"lines" validate:"required,min=1,dive"`
	Tender         Tender     `json:"tender"`
	StaffID        string     `json:"-"`
}

type Payment struct {
	ID            string          `json:"id"`
	SaleID        string          `json:"sale_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	Date          time.Time       `json:"date"`
	ChequeNumber  string          `json:"cheque_number,omitempty"`
	ChequeBank    string          `json:"cheque_bank,omitempty"`
	ChequeDate    string          `json:"cheque_date,omitempty"`
	BankName      string          `json:"bank_name,omitempty"`
	BankReference string          `json:"bank_reference,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	StaffID       string          `json:"staff_id"`
}

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method" validate:"required,oneof=cash cheque bank_transfer credit"`
	ChequeNumber  string          `json:"cheque_number,omitempty" validate:"max=64"`
	ChequeBank    string          `json:"cheque_bank,omitempty" validate:"max=120"`
	ChequeDate    string          `json:"cheque_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BankName      string          `json:"bank_name,omitempty" validate:"max=120"`
	BankReference string          `json:"bank_reference,omitempty" validate:"max=120"`
	StaffID       string          `json:"-"`
}

type Sale struct {
	ID                 string          `json:"id"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty"`
	CustomerID         string          `json:"customer_id,omitempty"`
	VehicleID          string          `json:"vehicle_id,omitempty"`
	Lines              []SaleLine      `json:"lines"`
	SubTotal           decimal.Decimal `json:"sub_total"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	CashPaid           decimal.Decimal `json:"cash_paid"`
	ChequePaid         decimal.Decimal `json:"cheque_paid"`
	BankTransferPaid   decimal.Decimal `json:"bank_transfer_paid"`
	CreditUsed         decimal.Decimal `json:"credit_used"`
	ChequeNumber       string          `json:"cheque_number,omitempty"`
	ChequeBank         string          `json:"cheque_bank,omitempty"`
	ChequeDate         string          `json:"cheque_date,omitempty"`
	BankName           string          `json:"bank_name,omitempty"`
	BankReference      string          `json:"bank_reference,omitempty"`
	Payments           []Payment       `json:"payments"`
	TotalAmountPaid    decimal.Decimal `json:"total_amount_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	ChangeGiven        decimal.Decimal `json:"change_given"`
	PaymentSummary     string          `json:"payment_summary"`
	Status             string          `json:"status"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	StaffID            string          `json:"staff_id"`
	CreatedAt          time.Time       `json:"created_at"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason" validate:"required,max=280"`
	ManagerPIN string `json:"manager_pin"`
	StaffID    string `json:"-"`
}

type ReturnLine struct {
	ProductID    string   `json:"product_id" validate:"required"`
	SaleType     SaleType `json:"sale_type" validate:"required,oneof=retail wholesale"`
	Quantity     int      `json:"quantity" validate:"gte=0"`
	IsResellable bool     `json:"is_resellable"`
}

type ReturnRequest struct {
	OriginalSaleID           string          `json:"original_sale_id" validate:"required"`
	ReturnedLines            []ReturnLine    `json:"returned_lines" validate:"dive"`
	ExchangedLines           []CartLine      `json:"exchanged_lines" validate:"dive"`
	ApplyCreditToOutstanding bool            `json:"apply_credit_to_outstanding"`
	CashPaidOutRequested     decimal.Decimal `json:"cash_paid_out_requested"`
	Tender                   Tender          `json:"tender"`
	VehicleID                string          `json:"vehicle_id,omitempty"`
	StaffID                  string          `json:"-"`
}

type ReturnItem struct {
	SaleLine
	LineType     ReturnLineType `json:"line_type"`
	IsResellable bool           `json:"is_resellable"`
}

type ReturnTransaction struct {
	ID                      string          `json:"id"`
	OriginalSaleID          string          `json:"original_sale_id"`
	CustomerID              string          `json:"customer_id,omitempty"`
	VehicleID               string          `json:"vehicle_id,omitempty"`
	ReturnedItems           []ReturnItem    `json:"returned_items"`
	ExchangedItems          []ReturnItem    `json:"exchanged_items"`
	ReturnCredit            decimal.Decimal `json:"return_credit"`
	ExchangeValue           decimal.Decimal `json:"exchange_value"`
	SettleOutstandingAmount decimal.Decimal `json:"settle_outstanding_amount"`
	RefundAmount            decimal.Decimal `json:"refund_amount"`
	CashPaidOut             decimal.Decimal `json:"cash_paid_out"`
	AmountDue               decimal.Decimal `json:"amount_due"`
	AmountPaid              decimal.Decimal `json:"amount_paid"`
	ChangeGiven             decimal.Decimal `json:"change_given"`
	CashPaid                decimal.Decimal `json:"cash_paid"`
	ChequePaid              decimal.Decimal `json:"cheque_paid"`
	BankTransferPaid        decimal.Decimal `json:"bank_transfer_paid"`
	CreditUsed              decimal.Decimal `json:"credit_used"`
	PaymentSummary          string          `json:"payment_summary"`
	StaffID                 string          `json:"staff_id"`
	CreatedAt               time.Time       `json:"created_at"`
}

type Expense struct {
	ID        string          `json:"id"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Note      string          `json:"note,omitempty"`
	VehicleID string          `json:"vehicle_id,omitempty"`
	StaffID   string          `json:"staff_id"`
}

type ExpenseRequest struct {
	Category  string          `json:"category" validate:"required,max=60"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty" validate:"max=280"`
	VehicleID string          `json:"vehicle_id,omitempty"`
	StaffID   string          `json:"-"`
}

// Cart is the in-progress sale. Offer exclusions live only as long as the
// cart does.
type Cart struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customer_id,omitempty"`
	VehicleID        string     `json:"vehicle_id,omitempty"`
	Lines            []SaleLine `json:"lines"`
	OfferEnabled     bool       `json:"offer_enabled"`
	ExcludedProducts []string   `json:"excluded_products,omitempty"`
	StaffID          string     `json:"staff_id"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type CartOpenRequest struct {
	CustomerID   string `json:"customer_id,omitempty"`
	VehicleID    string `json:"vehicle_id,omitempty"`
	OfferEnabled bool   `json:"offer_enabled"`
}

type CartCheckoutRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=120"`
	Tender         Tender `json:"tender"`
}

type DayEndReport struct {
	Date                   string                     `json:"date"`
	SalesCount             int                        `json:"sales_count"`
	ReturnsCount           int                        `json:"returns_count"`
	GrossSales             decimal.Decimal            `json:"gross_sales"`
	DiscountsToday         decimal.Decimal            `json:"discounts_today"`
	ReturnsValueToday      decimal.Decimal            `json:"returns_value_today"`
	FreeItemsValue         decimal.Decimal            `json:"free_items_value"`
	NetSales               decimal.Decimal            `json:"net_sales"`
	CashFromSales          decimal.Decimal            `json:"cash_from_sales"`
	CashFromCreditPayments decimal.Decimal            `json:"cash_from_credit_payments"`
	CashPaidOutForRefunds  decimal.Decimal            `json:"cash_paid_out_for_refunds"`
	ExpensesToday          decimal.Decimal            `json:"expenses_today"`
	NetCashInHand          decimal.Decimal            `json:"net_cash_in_hand"`
	ChequeTotal            decimal.Decimal            `json:"cheque_total"`
	BankTransferTotal      decimal.Decimal            `json:"bank_transfer_total"`
	CreditUsedTotal        decimal.Decimal            `json:"credit_used_total"`
	ReturnCreditToAccounts decimal.Decimal            `json:"return_credit_to_accounts"`
	OutstandingCreated     decimal.Decimal            `json:"outstanding_created"`
	ExpensesByCategory     map[string]decimal.Decimal `json:"expenses_by_category"`
	SamplesIssued          []SampleSummary            `json:"samples_issued"`
	SamplesValue           decimal.Decimal            `json:"samples_value"`
}

type SampleSummary struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Value     decimal.Decimal `json:"value"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
