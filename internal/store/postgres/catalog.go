package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"freshroute/backend/internal/domain"
)

const productColumns = `id, name, category, retail_price, wholesale_price, stock, reorder_level`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var category string
	err := row.Scan(&p.ID, &p.Name, &category, &p.RetailPrice, &p.WholesalePrice, &p.Stock, &p.ReorderLevel)
	p.Category = domain.ProductCategory(category)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, number, driver FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make([]domain.Vehicle, 0, 8)
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Number, &v.Driver); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *Store) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := s.pool.QueryRow(ctx, `SELECT id, number, driver FROM vehicles WHERE id = $1`, id).Scan(&v.ID, &v.Number, &v.Driver)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, phone, credit_balance FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.CreditBalance)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetVehicleStock(ctx context.Context, vehicleID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, quantity FROM vehicle_stock WHERE vehicle_id = $1
	`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		out[productID] = qty
	}
	return out, rows.Err()
}

const stockColumns = `id, product_id, type, quantity, previous_stock, new_stock, transaction_date,
	COALESCE(vehicle_id, ''), start_meter, end_meter, reference, note, staff_id`

func scanStockRows(rows pgx.Rows) ([]domain.StockTransaction, error) {
	defer rows.Close()

	out := make([]domain.StockTransaction, 0, 64)
	for rows.Next() {
		var e domain.StockTransaction
		var typ string
		if err := rows.Scan(&e.ID, &e.ProductID, &typ, &e.Quantity, &e.PreviousStock, &e.NewStock, &e.TransactionDate,
			&e.VehicleID, &e.StartMeter, &e.EndMeter, &e.Reference, &e.Note, &e.StaffID); err != nil {
			return nil, err
		}
		e.Type = domain.StockTxType(typ)
		e.TransactionDate = e.TransactionDate.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListStockTransactionsByVehicle(ctx context.Context, vehicleID string) ([]domain.StockTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stockColumns+`
		FROM stock_transactions
		WHERE vehicle_id = $1
		ORDER BY transaction_date, id
	`, vehicleID)
	if err != nil {
		return nil, err
	}
	return scanStockRows(rows)
}

func (s *Store) ListStockTransactions(ctx context.Context, types []domain.StockTxType, from, to time.Time) ([]domain.StockTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stockColumns+`
		FROM stock_transactions
		WHERE type = ANY($1) AND transaction_date >= $2 AND transaction_date < $3
		ORDER BY transaction_date, id
	`, typeNames(types), from, to)
	if err != nil {
		return nil, err
	}
	return scanStockRows(rows)
}
