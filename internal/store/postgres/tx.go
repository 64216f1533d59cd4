package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/store"
)

// txStore implements store.Tx on one pgx transaction. Row locks are taken
// with SELECT ... FOR UPDATE and held until WithTx commits or rolls back.
type txStore struct {
	tx pgx.Tx
}

var _ store.Tx = (*txStore)(nil)

func (t *txStore) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (t *txStore) SetProductStock(ctx context.Context, id string, stock int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, id, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetVehicleStockForUpdate creates the zero row on first touch so there is
// always a row to lock.
func (t *txStore) GetVehicleStockForUpdate(ctx context.Context, vehicleID string, productID string) (int, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE id = $1)`, vehicleID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO vehicle_stock (vehicle_id, product_id, quantity) VALUES ($1, $2, 0)
		ON CONFLICT (vehicle_id, product_id) DO NOTHING
	`, vehicleID, productID); err != nil {
		return 0, err
	}

	var qty int
	err := t.tx.QueryRow(ctx, `
		SELECT quantity FROM vehicle_stock WHERE vehicle_id = $1 AND product_id = $2 FOR UPDATE
	`, vehicleID, productID).Scan(&qty)
	if err != nil {
		return 0, notFound(err)
	}
	return qty, nil
}

func (t *txStore) SetVehicleStock(ctx context.Context, vehicleID string, productID string, qty int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO vehicle_stock (vehicle_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (vehicle_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity
	`, vehicleID, productID, qty)
	return err
}

func (t *txStore) InsertStockTransaction(ctx context.Context, e domain.StockTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_transactions (
			id, product_id, type, quantity, previous_stock, new_stock, transaction_date,
			vehicle_id, start_meter, end_meter, reference, note, staff_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.ID, e.ProductID, string(e.Type), e.Quantity, e.PreviousStock, e.NewStock, e.TransactionDate,
		nullIfEmpty(e.VehicleID), e.StartMeter, e.EndMeter, e.Reference, e.Note, e.StaffID)
	return err
}

var numberSequences = map[string]string{
	"sale":   "sale_number_seq",
	"return": "return_number_seq",
}

// NextSequence draws from a Postgres sequence, which never blocks or
// conflicts between transactions. Only the first number of a day writes
// the day's base row; a concurrent first writer surfaces as a
// serialization failure.
func (t *txStore) NextSequence(ctx context.Context, name string, day time.Time) (int, error) {
	seq, ok := numberSequences[name]
	if !ok {
		return 0, fmt.Errorf("unknown document sequence %q", name)
	}
	var next int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval($1::regclass)`, seq).Scan(&next); err != nil {
		return 0, err
	}

	dayKey := day.Format("2006-01-02")
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO daily_number_bases (name, day, base) VALUES ($1, $2, $3)
		ON CONFLICT (name, day) DO NOTHING
	`, name, dayKey, next-1); err != nil {
		return 0, err
	}
	var base int64
	if err := t.tx.QueryRow(ctx, `SELECT base FROM daily_number_bases WHERE name = $1 AND day = $2`, name, dayKey).Scan(&base); err != nil {
		return 0, err
	}
	return int(next - base), nil
}

func (t *txStore) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, t.tx, "id = $1", id, true)
}

func (t *txStore) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (
			id, idempotency_key, customer_id, vehicle_id, lines,
			sub_total, discount_amount, total_amount, cash_paid, cheque_paid, bank_transfer_paid, credit_used,
			cheque_number, cheque_bank, cheque_date, bank_name, bank_reference,
			total_amount_paid, outstanding_balance, change_given, payment_summary,
			status, cancellation_reason, cancelled_at, staff_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
	`, sale.ID, nullIfEmpty(sale.IdempotencyKey), nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.VehicleID), sale.Lines,
		sale.SubTotal, sale.DiscountAmount, sale.TotalAmount, sale.CashPaid, sale.ChequePaid, sale.BankTransferPaid, sale.CreditUsed,
		sale.ChequeNumber, sale.ChequeBank, sale.ChequeDate, sale.BankName, sale.BankReference,
		sale.TotalAmountPaid, sale.OutstandingBalance, sale.ChangeGiven, sale.PaymentSummary,
		sale.Status, sale.CancellationReason, sale.CancelledAt, sale.StaffID, sale.CreatedAt)
	if err != nil {
		return err
	}

	for _, p := range sale.Payments {
		if err := t.InsertPayment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *txStore) UpdateSaleBalance(ctx context.Context, sale domain.Sale) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales
		SET total_amount_paid = $2, outstanding_balance = $3, payment_summary = $4
		WHERE id = $1
	`, sale.ID, sale.TotalAmountPaid, sale.OutstandingBalance, sale.PaymentSummary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txStore) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sale_payments (
			id, sale_id, amount, method, paid_at, cheque_number, cheque_bank, cheque_date,
			bank_name, bank_reference, reference, staff_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.SaleID, p.Amount, string(p.Method), p.Date, p.ChequeNumber, p.ChequeBank, p.ChequeDate,
		p.BankName, p.BankReference, p.Reference, p.StaffID)
	return err
}

func (t *txStore) CancelSale(ctx context.Context, id string, reason string, at time.Time) error {
	var status string
	err := t.tx.QueryRow(ctx, `
		UPDATE sales
		SET status = $2, cancellation_reason = $3, cancelled_at = $4
		WHERE id = $1 AND status <> $2
		RETURNING status
	`, id, domain.SaleStatusCancelled, reason, at).Scan(&status)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrSaleCancelled
	}
	return store.ErrNotFound
}

func (t *txStore) ReturnedQuantities(ctx context.Context, saleID string) (map[store.ReturnKey]int, error) {
	return returnedQuantities(ctx, t.tx, saleID)
}

func (t *txStore) InsertReturn(ctx context.Context, r domain.ReturnTransaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO returns (
			id, original_sale_id, customer_id, vehicle_id, returned_items, exchanged_items,
			return_credit, exchange_value, settle_outstanding_amount, refund_amount, cash_paid_out,
			amount_due, amount_paid, change_given, cash_paid, cheque_paid, bank_transfer_paid, credit_used,
			payment_summary, staff_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, r.ID, r.OriginalSaleID, nullIfEmpty(r.CustomerID), nullIfEmpty(r.VehicleID), returnItems(r.ReturnedItems), returnItems(r.ExchangedItems),
		r.ReturnCredit, r.ExchangeValue, r.SettleOutstandingAmount, r.RefundAmount, r.CashPaidOut,
		r.AmountDue, r.AmountPaid, r.ChangeGiven, r.CashPaid, r.ChequePaid, r.BankTransferPaid, r.CreditUsed,
		r.PaymentSummary, r.StaffID, r.CreatedAt)
	return err
}

// returnItems keeps empty item lists as [] rather than JSON null.
func returnItems(items []domain.ReturnItem) []domain.ReturnItem {
	if items == nil {
		return []domain.ReturnItem{}
	}
	return items
}

func (t *txStore) InsertExpense(ctx context.Context, e domain.Expense) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO expenses (id, category, amount, expense_date, note, vehicle_id, staff_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.Category, e.Amount, e.Date, e.Note, nullIfEmpty(e.VehicleID), e.StaffID)
	return err
}

// AvailableCredit locks the customer row; callers take it before the sale
// row.
func (t *txStore) AvailableCredit(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT credit_balance FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&balance)
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return balance, nil
}

func (t *txStore) ApplyCredit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE customers SET credit_balance = credit_balance - $2
		WHERE id = $1 AND credit_balance >= $2
	`, customerID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := t.AvailableCredit(ctx, customerID); err != nil {
		return err
	}
	return store.Invalid("credit", "exceeds available account credit")
}

func (t *txStore) AddCredit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE customers SET credit_balance = credit_balance + $2 WHERE id = $1`, customerID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
