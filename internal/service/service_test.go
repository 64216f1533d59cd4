package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/logger"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/store/memory"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

// newTestService returns a service over two products, one van loaded with
// 30 milk and two customers (C1 with 1000 account credit, C2 with none).
func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	repo.PutProduct(domain.Product{ID: "P1", Name: "Milk 1L", Category: domain.CategoryDairy, RetailPrice: dec("250"), WholesalePrice: decimal.NewNullDecimal(dec("200")), Stock: 100})
	repo.PutProduct(domain.Product{ID: "P2", Name: "Bread", Category: domain.CategoryBakery, RetailPrice: dec("500"), Stock: 50})
	repo.PutVehicle(domain.Vehicle{ID: "V1", Number: "WP-1", Driver: "d1"})
	repo.PutCustomer(domain.Customer{ID: "C1", Name: "Corner Shop", CreditBalance: dec("1000")})
	repo.PutCustomer(domain.Customer{ID: "C2", Name: "Kiosk"})

	svc := New(repo, Options{Logger: logger.Nop(), Now: func() time.Time { return testNow }})
	if _, err := svc.RecordMovement(adminCtx(), domain.MovementRequest{Type: domain.StockLoadToVehicle, ProductID: "P1", Quantity: 30, VehicleID: "V1"}); err != nil {
		t.Fatalf("load van: %v", err)
	}
	return svc, repo
}

func retail(id string, qty int) domain.CartLine {
	return domain.CartLine{ProductID: id, Quantity: qty, SaleType: domain.SaleTypeRetail}
}

func assertMoney(t *testing.T, field string, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", field, want, got.String())
	}
}

func assertSaleBalanced(t *testing.T, sale domain.Sale) {
	t.Helper()
	if !sale.TotalAmountPaid.Add(sale.OutstandingBalance).Equal(sale.TotalAmount) {
		t.Fatalf("paid %s + outstanding %s != total %s", sale.TotalAmountPaid, sale.OutstandingBalance, sale.TotalAmount)
	}
	if sale.OutstandingBalance.IsNegative() {
		t.Fatalf("negative outstanding %s", sale.OutstandingBalance)
	}
}

func warehouseStock(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	qty, err := svc.WarehouseStock(context.Background(), productID)
	if err != nil {
		t.Fatalf("warehouse stock: %v", err)
	}
	return qty
}

func customerCredit(t *testing.T, svc *Service, id string) decimal.Decimal {
	t.Helper()
	c, err := svc.GetCustomer(context.Background(), id)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	return c.CreditBalance
}

func TestCreateSaleCashGivesChange(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 2)},
		Tender: domain.Tender{Cash: dec("1200")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if sale.ID != "sale-0304-1" {
		t.Fatalf("unexpected sale id %q", sale.ID)
	}
	assertMoney(t, "total", "1000", sale.TotalAmount)
	assertMoney(t, "change", "200", sale.ChangeGiven)
	assertMoney(t, "cash", "1000", sale.CashPaid)
	assertMoney(t, "outstanding", "0", sale.OutstandingBalance)
	if sale.PaymentSummary != "Cash (1000.00)" {
		t.Fatalf("unexpected summary %q", sale.PaymentSummary)
	}
	if sale.StaffID != "cashier" {
		t.Fatalf("expected staff from actor, got %q", sale.StaffID)
	}
	assertSaleBalanced(t, sale)
	if got := warehouseStock(t, svc, "P2"); got != 48 {
		t.Fatalf("expected warehouse bread 48, got %d", got)
	}
}

func TestCreateSaleOutstandingNeedsCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 2)},
		Tender: domain.Tender{Cash: dec("400")},
	})
	if !errors.Is(err, store.ErrCustomerRequired) {
		t.Fatalf("expected customer required, got %v", err)
	}
	if got := warehouseStock(t, svc, "P2"); got != 50 {
		t.Fatalf("failed sale must not move stock, got %d", got)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 51)},
		Tender: domain.Tender{Cash: dec("25500")},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || stockErr.Available != 50 {
		t.Fatalf("expected stock error with available 50, got %v", err)
	}
}

func TestCreateSaleSplitsCreditCashAndOutstanding(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		CustomerID: "C1",
		Lines:      []domain.CartLine{retail("P2", 2)},
		Tender:     domain.Tender{Cash: dec("200"), CreditRequested: dec("300")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	assertMoney(t, "credit used", "300", sale.CreditUsed)
	assertMoney(t, "outstanding", "500", sale.OutstandingBalance)
	if sale.PaymentSummary != "Split(Credit (300.00), Cash (200.00)), Outstanding: 500.00" {
		t.Fatalf("unexpected summary %q", sale.PaymentSummary)
	}
	assertSaleBalanced(t, sale)
	assertMoney(t, "remaining credit", "700", customerCredit(t, svc, "C1"))
}

func TestCreateSaleDiscountFromAppliedPrice(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines: []domain.CartLine{
			{ProductID: "P1", Quantity: 4, SaleType: domain.SaleTypeWholesale, AppliedPrice: dec("180")},
			retail("P2", 1),
		},
		Tender: domain.Tender{Cash: dec("1220")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	assertMoney(t, "subtotal", "1300", sale.SubTotal)
	assertMoney(t, "discount", "80", sale.DiscountAmount)
	assertMoney(t, "total", "1220", sale.TotalAmount)

	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{{ProductID: "P2", Quantity: 1, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("501")}},
		Tender: domain.Tender{Cash: dec("501")},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected price above list to fail validation, got %v", err)
	}

	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{{ProductID: "P2", Quantity: 1, SaleType: domain.SaleTypeWholesale}},
		Tender: domain.Tender{Cash: dec("500")},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected missing wholesale price to fail validation, got %v", err)
	}
}

func TestCreateSaleRejectsNonCashOverpayment(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 2)},
		Tender: domain.Tender{Cheque: dec("1200"), ChequeNumber: "CHQ-1"},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 2)},
		Tender: domain.Tender{Cheque: dec("1000")},
	})
	var vErr *store.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "cheque_number" {
		t.Fatalf("expected cheque_number validation error, got %v", err)
	}
}

func TestCreateSaleValidatesRequestTags(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{{ProductID: "P2", Quantity: 0, SaleType: domain.SaleTypeRetail}},
		Tender: domain.Tender{Cash: dec("100")},
	})
	var vErr *store.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "lines[0].quantity" {
		t.Fatalf("expected lines[0].quantity validation error, got %v", err)
	}
}

func TestCreateSaleIdempotencyKeyReturnsFirstSale(t *testing.T) {
	svc, _ := newTestService(t)
	req := domain.SaleRequest{
		IdempotencyKey: "till-1-0001",
		Lines:          []domain.CartLine{retail("P2", 1)},
		Tender:         domain.Tender{Cash: dec("500")},
	}

	first, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first sale: %v", err)
	}
	second, err := svc.CreateSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("replayed sale: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same sale, got %s and %s", first.ID, second.ID)
	}
	if got := warehouseStock(t, svc, "P2"); got != 49 {
		t.Fatalf("expected one debit, warehouse bread %d", got)
	}
}

func TestCreateSaleFromVehicleDebitsVanOnly(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		VehicleID: "V1",
		Lines:     []domain.CartLine{retail("P1", 10)},
		Tender:    domain.Tender{Cash: dec("2500")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	report, err := svc.VerifyVehicleStock(context.Background(), "V1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Stock["P1"] != 20 {
		t.Fatalf("expected 20 milk on the van, got %d", report.Stock["P1"])
	}
	if len(report.Drift) != 0 {
		t.Fatalf("unexpected drift %+v", report.Drift)
	}
	if got := warehouseStock(t, svc, "P1"); got != 70 {
		t.Fatalf("vehicle sale must not touch warehouse, got %d", got)
	}

	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		VehicleID: "V1",
		Lines:     []domain.CartLine{retail("P1", 21)},
		Tender:    domain.Tender{Cash: dec("5250")},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient van stock, got %v", err)
	}
}

func TestAddPaymentReducesOutstanding(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		CustomerID: "C1",
		Lines:      []domain.CartLine{retail("P2", 2)},
		Tender:     domain.Tender{Cash: dec("500")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	sale, err = svc.AddPayment(cashierCtx(), sale.ID, domain.PaymentRequest{Amount: dec("200"), Method: domain.PaymentCash})
	if err != nil {
		t.Fatalf("cash installment: %v", err)
	}
	assertMoney(t, "outstanding", "300", sale.OutstandingBalance)
	assertSaleBalanced(t, sale)

	_, err = svc.AddPayment(cashierCtx(), sale.ID, domain.PaymentRequest{Amount: dec("301"), Method: domain.PaymentCash})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected overpayment to fail validation, got %v", err)
	}

	_, err = svc.AddPayment(cashierCtx(), sale.ID, domain.PaymentRequest{Amount: dec("100"), Method: domain.PaymentBankTransfer})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected bank transfer without bank name to fail, got %v", err)
	}

	sale, err = svc.AddPayment(cashierCtx(), sale.ID, domain.PaymentRequest{Amount: dec("300"), Method: domain.PaymentCredit})
	if err != nil {
		t.Fatalf("credit installment: %v", err)
	}
	assertMoney(t, "outstanding", "0", sale.OutstandingBalance)
	assertSaleBalanced(t, sale)
	if len(sale.Payments) != 2 {
		t.Fatalf("expected two payments, got %d", len(sale.Payments))
	}
	if sale.PaymentSummary != "Split(Credit (300.00), Cash (700.00))" {
		t.Fatalf("unexpected summary %q", sale.PaymentSummary)
	}
	assertMoney(t, "remaining credit", "700", customerCredit(t, svc, "C1"))
}

func TestAddPaymentCreditWithoutCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 1)},
		Tender: domain.Tender{Cash: dec("500")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	_, err = svc.AddPayment(cashierCtx(), sale.ID, domain.PaymentRequest{Amount: dec("1"), Method: domain.PaymentCredit})
	if !errors.Is(err, store.ErrCustomerRequired) {
		t.Fatalf("expected customer required, got %v", err)
	}
}

func TestCancelSaleRestocksAndRestoresCredit(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		CustomerID: "C1",
		Lines:      []domain.CartLine{retail("P2", 2)},
		Tender:     domain.Tender{Cash: dec("700"), CreditRequested: dec("300")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = svc.CancelSale(cashierCtx(), sale.ID, domain.CancelSaleRequest{Reason: "wrong customer"})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier cancel to be forbidden, got %v", err)
	}

	cancelled, err := svc.CancelSale(adminCtx(), sale.ID, domain.CancelSaleRequest{Reason: "wrong customer"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled sale, got %+v", cancelled)
	}
	if got := warehouseStock(t, svc, "P2"); got != 50 {
		t.Fatalf("expected bread restocked to 50, got %d", got)
	}
	assertMoney(t, "credit", "1000", customerCredit(t, svc, "C1"))

	_, err = svc.CancelSale(adminCtx(), sale.ID, domain.CancelSaleRequest{Reason: "again"})
	if !errors.Is(err, store.ErrSaleCancelled) {
		t.Fatalf("expected already cancelled, got %v", err)
	}
	_, err = svc.AddPayment(cashierCtx(), sale.ID, domain.PaymentRequest{Amount: dec("1"), Method: domain.PaymentCash})
	if !errors.Is(err, store.ErrSaleCancelled) {
		t.Fatalf("expected payment on cancelled sale to fail, got %v", err)
	}
}

func TestCancelVehicleSaleReturnsStockToVan(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		VehicleID: "V1",
		Lines:     []domain.CartLine{retail("P1", 5)},
		Tender:    domain.Tender{Cash: dec("1250")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.CancelSale(adminCtx(), sale.ID, domain.CancelSaleRequest{Reason: "duplicate ring-up"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	report, err := svc.VerifyVehicleStock(context.Background(), "V1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Stock["P1"] != 30 || len(report.Drift) != 0 {
		t.Fatalf("expected van back at 30 with no drift, got %+v", report)
	}
}

// Two items worth 500 against 300 outstanding, settled first and the rest
// paid out in cash.
func TestReturnSettlesOutstandingThenPaysOut(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		CustomerID: "C2",
		Lines:      []domain.CartLine{retail("P1", 2)},
		Tender:     domain.Tender{Cash: dec("200")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	assertMoney(t, "outstanding", "300", sale.OutstandingBalance)

	ret, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID:           sale.ID,
		ReturnedLines:            []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 2, IsResellable: true}},
		ApplyCreditToOutstanding: true,
		CashPaidOutRequested:     dec("200"),
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}

	assertMoney(t, "return credit", "500", ret.ReturnCredit)
	assertMoney(t, "settled", "300", ret.SettleOutstandingAmount)
	assertMoney(t, "cash out", "200", ret.CashPaidOut)
	assertMoney(t, "to account", "0", ret.RefundAmount)
	if ret.ID != "ret-0304-1" {
		t.Fatalf("unexpected return id %q", ret.ID)
	}

	after, err := svc.GetSale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	assertMoney(t, "outstanding after", "0", after.OutstandingBalance)
	assertSaleBalanced(t, after)
	if len(after.Payments) != 1 || after.Payments[0].Method != domain.PaymentReturnCredit {
		t.Fatalf("expected one return_credit payment, got %+v", after.Payments)
	}
	if after.Lines[0].ReturnedQuantity != 2 {
		t.Fatalf("expected returned quantity 2, got %d", after.Lines[0].ReturnedQuantity)
	}
	if got := warehouseStock(t, svc, "P1"); got != 70 {
		t.Fatalf("expected resellable milk back in the warehouse, got %d", got)
	}
	assertMoney(t, "account credit", "0", customerCredit(t, svc, "C2"))
}

func TestExchangeNeedsFullPaymentOfDifference(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{{ProductID: "P1", Quantity: 1, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("200")}},
		Tender: domain.Tender{Cash: dec("200")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	req := domain.ReturnRequest{
		OriginalSaleID: sale.ID,
		ReturnedLines:  []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 1}},
		ExchangedLines: []domain.CartLine{{ProductID: "P2", Quantity: 2, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("400")}},
		Tender:         domain.Tender{Cash: dec("500")},
	}
	_, err = svc.ProcessReturn(cashierCtx(), req)
	if !errors.Is(err, store.ErrInsufficientPayment) {
		t.Fatalf("expected insufficient payment, got %v", err)
	}
	if got := warehouseStock(t, svc, "P2"); got != 50 {
		t.Fatalf("failed exchange must not issue stock, got %d", got)
	}

	req.Tender = domain.Tender{Cash: dec("600")}
	ret, err := svc.ProcessReturn(cashierCtx(), req)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	assertMoney(t, "amount due", "600", ret.AmountDue)
	assertMoney(t, "amount paid", "600", ret.AmountPaid)
	assertMoney(t, "exchange value", "800", ret.ExchangeValue)
	if got := warehouseStock(t, svc, "P2"); got != 48 {
		t.Fatalf("expected exchange to issue two bread, got %d", got)
	}
	if got := warehouseStock(t, svc, "P1"); got != 69 {
		t.Fatalf("non-resellable return must not restock, got %d", got)
	}
}

func TestReturnRejectsCashOutAboveRefund(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P1", 1)},
		Tender: domain.Tender{Cash: dec("250")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID:       sale.ID,
		ReturnedLines:        []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 1}},
		CashPaidOutRequested: dec("300"),
	})
	if !errors.Is(err, store.ErrRefundExceedsDue) {
		t.Fatalf("expected refund exceeds due, got %v", err)
	}
}

func TestReturnRefundToAccountNeedsCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P1", 1)},
		Tender: domain.Tender{Cash: dec("250")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID:       sale.ID,
		ReturnedLines:        []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 1}},
		CashPaidOutRequested: dec("100"),
	})
	if !errors.Is(err, store.ErrCustomerRequired) {
		t.Fatalf("expected customer required, got %v", err)
	}
}

func TestReturnNothingToProcess(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P1", 1)},
		Tender: domain.Tender{Cash: dec("250")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID: sale.ID,
		ReturnedLines:  []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 0}},
	})
	if !errors.Is(err, store.ErrNothingToProcess) {
		t.Fatalf("expected nothing to process, got %v", err)
	}
}

func TestFullReturnRefundsEverythingPaid(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P1", 2), retail("P2", 1)},
		Tender: domain.Tender{Cash: dec("1000")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	ret, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID: sale.ID,
		ReturnedLines: []domain.ReturnLine{
			{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 2, IsResellable: true},
			{ProductID: "P2", SaleType: domain.SaleTypeRetail, Quantity: 1, IsResellable: true},
		},
		CashPaidOutRequested: sale.TotalAmountPaid,
	})
	if err != nil {
		t.Fatalf("full return: %v", err)
	}
	if !ret.ReturnCredit.Sub(ret.SettleOutstandingAmount).Equal(sale.TotalAmountPaid) {
		t.Fatalf("refund due %s != paid %s", ret.ReturnCredit, sale.TotalAmountPaid)
	}
	assertMoney(t, "cash out", "1000", ret.CashPaidOut)
	if ret.PaymentSummary != "Cash Out (1000.00)" {
		t.Fatalf("unexpected summary %q", ret.PaymentSummary)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID: sale.ID,
		ReturnedLines:  []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected over-return to fail validation, got %v", err)
	}

	_, err = svc.CancelSale(adminCtx(), sale.ID, domain.CancelSaleRequest{Reason: "mistake"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected cancel of a returned sale to fail, got %v", err)
	}
}

func TestNetReturnFigures(t *testing.T) {
	f, err := NetReturn(dec("500"), decimal.Zero, dec("300"), true, dec("200"))
	if err != nil {
		t.Fatalf("net return: %v", err)
	}
	assertMoney(t, "settle", "300", f.SettleAmount)
	assertMoney(t, "net credit", "200", f.NetCredit)
	assertMoney(t, "refund due", "200", f.RefundDue)
	assertMoney(t, "to account", "0", f.CreditToAccount)

	f, err = NetReturn(dec("200"), dec("800"), decimal.Zero, false, decimal.Zero)
	if err != nil {
		t.Fatalf("net exchange: %v", err)
	}
	assertMoney(t, "amount due", "600", f.AmountDue)
	assertMoney(t, "refund due", "0", f.RefundDue)

	if _, err := NetReturn(dec("100"), decimal.Zero, decimal.Zero, false, dec("-1")); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected negative cash out to fail validation, got %v", err)
	}
}

func TestRecordMovementRefusesSaleTypes(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordMovement(adminCtx(), domain.MovementRequest{Type: domain.StockSaleIssue, ProductID: "P1", Quantity: 1})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	resp, err := svc.RecordMovement(adminCtx(), domain.MovementRequest{Type: domain.StockUnloadVehicle, ProductID: "P1", Quantity: 5, VehicleID: "V1"})
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	if len(resp.Entries) != 2 || resp.Entries[1].Type != domain.StockAddInventory {
		t.Fatalf("expected unload pair, got %+v", resp.Entries)
	}
	if got := warehouseStock(t, svc, "P1"); got != 75 {
		t.Fatalf("expected warehouse 75 after unload, got %d", got)
	}
}

func TestDayEndReport(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	if _, err := svc.CreateSale(ctx, domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 2)},
		Tender: domain.Tender{Cash: dec("1200")},
	}); err != nil {
		t.Fatalf("sale 1: %v", err)
	}
	credit, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "C2",
		Lines:      []domain.CartLine{retail("P1", 2)},
		Tender:     domain.Tender{Cash: dec("200")},
	})
	if err != nil {
		t.Fatalf("sale 2: %v", err)
	}
	if _, err := svc.AddPayment(ctx, credit.ID, domain.PaymentRequest{Amount: dec("100"), Method: domain.PaymentCash}); err != nil {
		t.Fatalf("installment: %v", err)
	}
	if _, err := svc.RecordExpense(ctx, domain.ExpenseRequest{Category: "Fuel", Amount: dec("150"), VehicleID: "V1"}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	report, err := svc.DayEnd(context.Background(), "2026-03-04")
	if err != nil {
		t.Fatalf("day end: %v", err)
	}
	if report.SalesCount != 2 {
		t.Fatalf("expected 2 sales, got %d", report.SalesCount)
	}
	assertMoney(t, "gross", "1500", report.GrossSales)
	assertMoney(t, "cash from sales", "1200", report.CashFromSales)
	assertMoney(t, "cash from credit payments", "100", report.CashFromCreditPayments)
	assertMoney(t, "expenses", "150", report.ExpensesToday)
	assertMoney(t, "net cash", "1150", report.NetCashInHand)
	assertMoney(t, "outstanding created", "300", report.OutstandingCreated)
	assertMoney(t, "fuel", "150", report.ExpensesByCategory["fuel"])

	if _, err := svc.DayEnd(context.Background(), "04/03/2026"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected bad date to fail validation, got %v", err)
	}
}

func TestCartOfferLifecycleAndCheckout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	cart, err := svc.OpenCart(ctx, domain.CartOpenRequest{OfferEnabled: true})
	if err != nil {
		t.Fatalf("open cart: %v", err)
	}
	cart, err = svc.AddCartLine(ctx, cart.ID, retail("P1", 13))
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	if len(cart.Lines) != 2 || !cart.Lines[1].IsOfferItem || cart.Lines[1].Quantity != 1 {
		t.Fatalf("expected one free milk, got %+v", cart.Lines)
	}

	cart, err = svc.RemoveCartLine(ctx, cart.ID, 1)
	if err != nil {
		t.Fatalf("remove free line: %v", err)
	}
	if len(cart.Lines) != 1 || len(cart.ExcludedProducts) != 1 {
		t.Fatalf("expected milk excluded from the offer, got %+v", cart)
	}

	cart, err = svc.SetCartOffer(ctx, cart.ID, false)
	if err != nil {
		t.Fatalf("offer off: %v", err)
	}
	cart, err = svc.SetCartOffer(ctx, cart.ID, true)
	if err != nil {
		t.Fatalf("offer on: %v", err)
	}
	if len(cart.Lines) != 2 || len(cart.ExcludedProducts) != 0 {
		t.Fatalf("expected free line back after toggling, got %+v", cart)
	}

	if _, err := svc.AddCartLine(ctx, cart.ID, retail("P1", 60)); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	sale, err := svc.CheckoutCart(ctx, cart.ID, domain.CartCheckoutRequest{Tender: domain.Tender{Cash: dec("3250")}})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	assertMoney(t, "total", "3250", sale.TotalAmount)
	if len(sale.Lines) != 2 {
		t.Fatalf("expected paid and free lines on the sale, got %d", len(sale.Lines))
	}
	if got := warehouseStock(t, svc, "P1"); got != 56 {
		t.Fatalf("expected 14 milk issued, warehouse %d", got)
	}
	if _, err := svc.GetCart(ctx, cart.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cart discarded, got %v", err)
	}
}

func TestCreateSaleAcceptsOnlyEarnedFreeLines(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines: []domain.CartLine{
			retail("P2", 1),
			{ProductID: "P2", Quantity: 40, SaleType: domain.SaleTypeRetail, IsOfferItem: true},
		},
		Tender: domain.Tender{Cash: dec("500")},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected unearned free bread to be rejected, got %v", err)
	}
	if got := warehouseStock(t, svc, "P2"); got != 50 {
		t.Fatalf("expected bread untouched, warehouse %d", got)
	}

	free := domain.CartLine{ProductID: "P1", Quantity: 2, SaleType: domain.SaleTypeRetail, IsOfferItem: true}
	_, err = svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P1", 12), free},
		Tender: domain.Tender{Cash: dec("3000")},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected two free milk on twelve paid to be rejected, got %v", err)
	}

	free.Quantity = 1
	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P1", 12), free},
		Tender: domain.Tender{Cash: dec("3000")},
	})
	if err != nil {
		t.Fatalf("earned free line: %v", err)
	}
	assertMoney(t, "total", "3000", sale.TotalAmount)
	if got := warehouseStock(t, svc, "P1"); got != 57 {
		t.Fatalf("expected 13 milk issued, warehouse %d", got)
	}
}

func TestExchangeRejectsFreeLines(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{
		Lines:  []domain.CartLine{retail("P2", 1)},
		Tender: domain.Tender{Cash: dec("500")},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID: sale.ID,
		ReturnedLines:  []domain.ReturnLine{{ProductID: "P2", SaleType: domain.SaleTypeRetail, Quantity: 1, IsResellable: true}},
		ExchangedLines: []domain.CartLine{{ProductID: "P1", Quantity: 20, SaleType: domain.SaleTypeRetail, IsOfferItem: true}},
	})
	var verr *store.ValidationError
	if !errors.As(err, &verr) || verr.Field != "exchanged_lines[0].is_offer_item" {
		t.Fatalf("expected free exchange line to be rejected, got %v", err)
	}
	if got := warehouseStock(t, svc, "P1"); got != 70 {
		t.Fatalf("expected milk untouched, warehouse %d", got)
	}
}

func TestReturnValuesUnitsAtTheirSoldPrice(t *testing.T) {
	svc, _ := newTestService(t)
	mixed := []domain.CartLine{
		{ProductID: "P1", Quantity: 1, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("100.00")},
		{ProductID: "P1", Quantity: 2, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("100.01")},
	}

	whole, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{Lines: mixed, Tender: domain.Tender{Cash: dec("300.02")}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	assertMoney(t, "paid", "300.02", whole.TotalAmountPaid)

	ret, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
		OriginalSaleID:       whole.ID,
		ReturnedLines:        []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 3, IsResellable: true}},
		CashPaidOutRequested: whole.TotalAmountPaid,
	})
	if err != nil {
		t.Fatalf("full return: %v", err)
	}
	assertMoney(t, "return credit", "300.02", ret.ReturnCredit)
	assertMoney(t, "refund to account", "0", ret.RefundAmount)
	if len(ret.ReturnedItems) != 2 {
		t.Fatalf("expected one returned item per sold price, got %+v", ret.ReturnedItems)
	}

	partial, err := svc.CreateSale(cashierCtx(), domain.SaleRequest{Lines: mixed, Tender: domain.Tender{Cash: dec("300.02")}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	credits := []string{"200.01", "100.01"}
	for i, qty := range []int{2, 1} {
		ret, err := svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
			OriginalSaleID: partial.ID,
			ReturnedLines:  []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: qty}},
		})
		if err == nil {
			t.Fatalf("walk-in refund to account should need a customer, got %+v", ret)
		}
		ret, err = svc.ProcessReturn(cashierCtx(), domain.ReturnRequest{
			OriginalSaleID:       partial.ID,
			ReturnedLines:        []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: qty}},
			CashPaidOutRequested: dec(credits[i]),
		})
		if err != nil {
			t.Fatalf("return %d: %v", i+1, err)
		}
		assertMoney(t, "return credit", credits[i], ret.ReturnCredit)
	}

	got, err := svc.GetSale(cashierCtx(), partial.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if got.Lines[0].ReturnedQuantity != 1 || got.Lines[1].ReturnedQuantity != 2 {
		t.Fatalf("expected every unit returned, got %+v", got.Lines)
	}
}

func TestMoneyInputsAreWholeCents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	fieldOf := func(err error) string {
		var verr *store.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected a validation error, got %v", err)
		}
		return verr.Field
	}

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		Lines:  []domain.CartLine{{ProductID: "P1", Quantity: 3, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("99.333")}},
		Tender: domain.Tender{Cash: dec("300")},
	})
	if f := fieldOf(err); f != "lines[0].applied_price" {
		t.Fatalf("unexpected field %q", f)
	}

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "C2",
		Lines:      []domain.CartLine{retail("P1", 1)},
		Tender:     domain.Tender{Cash: dec("100.0049")},
	})
	if f := fieldOf(err); f != "cash" {
		t.Fatalf("unexpected field %q", f)
	}

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "C2",
		Lines:      []domain.CartLine{{ProductID: "P1", Quantity: 1, SaleType: domain.SaleTypeRetail, AppliedPrice: dec("199.50")}},
		Tender:     domain.Tender{Cash: dec("100.10")},
	})
	if err != nil {
		t.Fatalf("two-decimal amounts: %v", err)
	}
	assertMoney(t, "outstanding", "99.40", sale.OutstandingBalance)
	assertSaleBalanced(t, sale)

	_, err = svc.AddPayment(ctx, sale.ID, domain.PaymentRequest{Amount: dec("1.005"), Method: domain.PaymentCash})
	if f := fieldOf(err); f != "amount" {
		t.Fatalf("unexpected field %q", f)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		OriginalSaleID:       sale.ID,
		ReturnedLines:        []domain.ReturnLine{{ProductID: "P1", SaleType: domain.SaleTypeRetail, Quantity: 1}},
		CashPaidOutRequested: dec("0.001"),
	})
	if f := fieldOf(err); f != "cash_paid_out_requested" {
		t.Fatalf("unexpected field %q", f)
	}

	_, err = svc.RecordExpense(ctx, domain.ExpenseRequest{Category: "fuel", Amount: dec("12.345")})
	if f := fieldOf(err); f != "amount" {
		t.Fatalf("unexpected field %q", f)
	}
}
