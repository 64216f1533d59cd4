package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/store"
)

const saleColumns = `id, COALESCE(idempotency_key, ''), COALESCE(customer_id, ''), COALESCE(vehicle_id, ''), lines,
	sub_total, discount_amount, total_amount, cash_paid, cheque_paid, bank_transfer_paid, credit_used,
	cheque_number, cheque_bank, cheque_date, bank_name, bank_reference,
	total_amount_paid, outstanding_balance, change_given, payment_summary,
	status, cancellation_reason, cancelled_at, staff_id, created_at`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID, &sale.IdempotencyKey, &sale.CustomerID, &sale.VehicleID, &sale.Lines,
		&sale.SubTotal, &sale.DiscountAmount, &sale.TotalAmount, &sale.CashPaid, &sale.ChequePaid, &sale.BankTransferPaid, &sale.CreditUsed,
		&sale.ChequeNumber, &sale.ChequeBank, &sale.ChequeDate, &sale.BankName, &sale.BankReference,
		&sale.TotalAmountPaid, &sale.OutstandingBalance, &sale.ChangeGiven, &sale.PaymentSummary,
		&sale.Status, &sale.CancellationReason, &sale.CancelledAt, &sale.StaffID, &sale.CreatedAt,
	)
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, err
}

const paymentColumns = `id, sale_id, amount, method, paid_at, cheque_number, cheque_bank, cheque_date,
	bank_name, bank_reference, reference, staff_id`

func scanPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()

	out := make([]domain.Payment, 0, 8)
	for rows.Next() {
		var p domain.Payment
		var method string
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &method, &p.Date, &p.ChequeNumber, &p.ChequeBank, &p.ChequeDate,
			&p.BankName, &p.BankReference, &p.Reference, &p.StaffID); err != nil {
			return nil, err
		}
		p.Method = domain.PaymentMethod(method)
		p.Date = p.Date.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// loadSale reads one sale and its payments. With lock set the sale row is
// held FOR UPDATE.
func loadSale(ctx context.Context, q querier, where string, arg string, lock bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := q.Query(ctx, `SELECT `+paymentColumns+` FROM sale_payments WHERE sale_id = $1 ORDER BY paid_at, id`, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Payments, err = scanPayments(rows)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, s.pool, "id = $1", id, false)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return loadSale(ctx, s.pool, "idempotency_key = $1", key, false)
}

func (s *Store) ListSales(ctx context.Context, from, to time.Time) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	index := make(map[string]int)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sale.Payments = []domain.Payment{}
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	payRows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM sale_payments WHERE sale_id = ANY($1) ORDER BY paid_at, id
	`, ids)
	if err != nil {
		return nil, err
	}
	payments, err := scanPayments(payRows)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		i := index[p.SaleID]
		sales[i].Payments = append(sales[i].Payments, p)
	}
	return sales, nil
}

func (s *Store) ListPayments(ctx context.Context, from, to time.Time) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM sale_payments
		WHERE paid_at >= $1 AND paid_at < $2
		ORDER BY paid_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

const returnColumns = `id, original_sale_id, COALESCE(customer_id, ''), COALESCE(vehicle_id, ''),
	returned_items, exchanged_items, return_credit, exchange_value, settle_outstanding_amount,
	refund_amount, cash_paid_out, amount_due, amount_paid, change_given,
	cash_paid, cheque_paid, bank_transfer_paid, credit_used, payment_summary, staff_id, created_at`

func scanReturns(rows pgx.Rows) ([]domain.ReturnTransaction, error) {
	defer rows.Close()

	out := make([]domain.ReturnTransaction, 0, 8)
	for rows.Next() {
		var r domain.ReturnTransaction
		if err := rows.Scan(&r.ID, &r.OriginalSaleID, &r.CustomerID, &r.VehicleID,
			&r.ReturnedItems, &r.ExchangedItems, &r.ReturnCredit, &r.ExchangeValue, &r.SettleOutstandingAmount,
			&r.RefundAmount, &r.CashPaidOut, &r.AmountDue, &r.AmountPaid, &r.ChangeGiven,
			&r.CashPaid, &r.ChequePaid, &r.BankTransferPaid, &r.CreditUsed, &r.PaymentSummary, &r.StaffID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.ReturnTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM returns WHERE original_sale_id = $1 ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	return scanReturns(rows)
}

func (s *Store) ListReturns(ctx context.Context, from, to time.Time) ([]domain.ReturnTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM returns WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanReturns(rows)
}

func (s *Store) ListExpenses(ctx context.Context, from, to time.Time) ([]domain.Expense, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, amount, expense_date, note, COALESCE(vehicle_id, ''), staff_id
		FROM expenses
		WHERE expense_date >= $1 AND expense_date < $2
		ORDER BY expense_date, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Expense, 0, 8)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Category, &e.Amount, &e.Date, &e.Note, &e.VehicleID, &e.StaffID); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// returnedQuantities sums returned items per (product, sale type) straight
// from the JSONB column.
func returnedQuantities(ctx context.Context, q querier, saleID string) (map[store.ReturnKey]int, error) {
	rows, err := q.Query(ctx, `
		SELECT item->>'product_id', item->>'sale_type', SUM((item->>'quantity')::int)
		FROM returns r, jsonb_array_elements(r.returned_items) AS item
		WHERE r.original_sale_id = $1
		GROUP BY 1, 2
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[store.ReturnKey]int)
	for rows.Next() {
		var productID, saleType string
		var qty int
		if err := rows.Scan(&productID, &saleType, &qty); err != nil {
			return nil, err
		}
		out[store.ReturnKey{ProductID: productID, SaleType: domain.SaleType(saleType)}] = qty
	}
	return out, rows.Err()
}
