// Package ledger writes the append-only stock ledger. Warehouse stock is
// the product counter; vehicle stock is a running balance per (vehicle,
// product). Both move in the same transaction as the ledger rows.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/xid"
)

type Movement struct {
	Type       domain.StockTxType
	ProductID  string
	Quantity   int
	VehicleID  string
	StartMeter *int
	EndMeter   *int
	Reference  string
	Note       string
	StaffID    string
	At         time.Time
}

// Effect returns the warehouse and vehicle deltas of a movement.
// UNLOAD_FROM_VEHICLE reports the combined effect of the unload and its
// paired ADD_STOCK_INVENTORY.
func Effect(t domain.StockTxType, qty int, onVehicle bool) (warehouse int, vehicle int, err error) {
	switch t {
	case domain.StockAddInventory:
		return qty, 0, nil
	case domain.StockLoadToVehicle:
		return -qty, qty, nil
	case domain.StockUnloadVehicle:
		return qty, -qty, nil
	case domain.StockRemoveWastage, domain.StockAdjustmentManual:
		return -qty, 0, nil
	case domain.StockIssueSample:
		return 0, -qty, nil
	case domain.StockSaleIssue:
		if onVehicle {
			return 0, -qty, nil
		}
		return -qty, 0, nil
	case domain.StockReturnToVehicle:
		return 0, qty, nil
	default:
		return 0, 0, store.Invalid("type", fmt.Sprintf("unknown movement type %q", t))
	}
}

// Public reports whether staff may post t directly. Sale and return
// movements are written only by their own flows.
func Public(t domain.StockTxType) bool {
	switch t {
	case domain.StockAddInventory, domain.StockLoadToVehicle, domain.StockUnloadVehicle,
		domain.StockRemoveWastage, domain.StockAdjustmentManual, domain.StockIssueSample:
		return true
	}
	return false
}

// Post locks the product (and the vehicle balance when the movement
// touches one), checks neither goes negative and writes the ledger rows.
// On error nothing has been written through tx.
func Post(ctx context.Context, tx store.Tx, m Movement) ([]domain.StockTransaction, error) {
	if strings.TrimSpace(m.ProductID) == "" {
		return nil, store.Invalid("product_id", "required")
	}
	if m.Quantity < 1 {
		return nil, store.Invalid("quantity", "must be greater than zero")
	}
	if m.StartMeter != nil && m.EndMeter != nil && *m.EndMeter < *m.StartMeter {
		return nil, store.Invalid("end_meter", "must not be below start_meter")
	}

	whDelta, vehDelta, err := Effect(m.Type, m.Quantity, m.VehicleID != "")
	if err != nil {
		return nil, err
	}
	if vehDelta != 0 && m.VehicleID == "" {
		return nil, store.Invalid("vehicle_id", fmt.Sprintf("required for %s", m.Type))
	}

	product, err := tx.GetProductForUpdate(ctx, m.ProductID)
	if err != nil {
		return nil, fmt.Errorf("lock product %s: %w", m.ProductID, err)
	}
	previous := product.Stock
	next := previous + whDelta
	if next < 0 {
		return nil, &store.StockError{ProductID: m.ProductID, Requested: m.Quantity, Available: previous}
	}

	if vehDelta != 0 {
		balance, err := tx.GetVehicleStockForUpdate(ctx, m.VehicleID, m.ProductID)
		if err != nil {
			return nil, fmt.Errorf("lock vehicle stock %s/%s: %w", m.VehicleID, m.ProductID, err)
		}
		if balance+vehDelta < 0 {
			return nil, &store.StockError{ProductID: m.ProductID, VehicleID: m.VehicleID, Requested: m.Quantity, Available: balance}
		}
		if err := tx.SetVehicleStock(ctx, m.VehicleID, m.ProductID, balance+vehDelta); err != nil {
			return nil, err
		}
	}
	if whDelta != 0 {
		if err := tx.SetProductStock(ctx, m.ProductID, next); err != nil {
			return nil, err
		}
	}

	at := m.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	base := domain.StockTransaction{
		ProductID:       m.ProductID,
		Type:            m.Type,
		Quantity:        m.Quantity,
		PreviousStock:   previous,
		NewStock:        next,
		TransactionDate: at,
		VehicleID:       m.VehicleID,
		StartMeter:      m.StartMeter,
		EndMeter:        m.EndMeter,
		Reference:       m.Reference,
		Note:            m.Note,
		StaffID:         m.StaffID,
	}

	entries := []domain.StockTransaction{base}
	if m.Type == domain.StockUnloadVehicle {
		// The unload row leaves the warehouse untouched; the paired
		// ADD_STOCK_INVENTORY row carries the replenishment.
		entries[0].NewStock = previous
		restock := base
		restock.Type = domain.StockAddInventory
		restock.StartMeter, restock.EndMeter = nil, nil
		entries = append(entries, restock)
	}

	for i := range entries {
		entries[i].ID = xid.New("stk")
		if err := tx.InsertStockTransaction(ctx, entries[i]); err != nil {
			return nil, fmt.Errorf("insert stock transaction: %w", err)
		}
	}
	return entries, nil
}

type ProductQty struct {
	ProductID string
	Quantity  int
}

// SumByProduct totals line quantities per product, offer lines included,
// sorted by product id so locks are always taken in the same order.
func SumByProduct(lines []domain.SaleLine) []ProductQty {
	totals := make(map[string]int)
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}
	out := make([]ProductQty, 0, len(totals))
	for id, qty := range totals {
		if qty > 0 {
			out = append(out, ProductQty{ProductID: id, Quantity: qty})
		}
	}
	slices.SortFunc(out, func(a, b ProductQty) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out
}

// Replay derives vehicle balances (vehicle -> product -> qty) from ledger
// rows. Rows without a vehicle are ignored.
func Replay(entries []domain.StockTransaction) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, e := range entries {
		if e.VehicleID == "" {
			continue
		}
		var delta int
		switch e.Type {
		case domain.StockLoadToVehicle, domain.StockReturnToVehicle:
			delta = e.Quantity
		case domain.StockUnloadVehicle, domain.StockIssueSample, domain.StockSaleIssue:
			delta = -e.Quantity
		default:
			continue
		}
		if out[e.VehicleID] == nil {
			out[e.VehicleID] = make(map[string]int)
		}
		out[e.VehicleID][e.ProductID] += delta
	}
	return out
}

// Drift compares recorded balances with a replay and returns mismatches
// sorted by product.
func Drift(recorded map[string]int, replayed map[string]int) []domain.StockDrift {
	seen := make(map[string]bool, len(recorded)+len(replayed))
	var out []domain.StockDrift
	check := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if recorded[id] != replayed[id] {
			out = append(out, domain.StockDrift{ProductID: id, Recorded: recorded[id], Replayed: replayed[id]})
		}
	}
	for id := range recorded {
		check(id)
	}
	for id := range replayed {
		check(id)
	}
	slices.SortFunc(out, func(a, b domain.StockDrift) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out
}
