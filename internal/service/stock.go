package service

import (
	"context"
	"fmt"
	"strings"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/ledger"
	"freshroute/backend/internal/store"
)

// RecordMovement posts a manual stock movement. Sale and return movement
// types are refused here.
func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (domain.MovementResponse, error) {
	req.StaffID = staffID(ctx, req.StaffID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	req.Note = strings.TrimSpace(req.Note)
	if err := s.check(req); err != nil {
		return domain.MovementResponse{}, err
	}
	if !ledger.Public(req.Type) {
		return domain.MovementResponse{}, store.Invalid("type", fmt.Sprintf("%s cannot be recorded directly", req.Type))
	}
	if err := s.requireVehicle(ctx, req.VehicleID); err != nil {
		return domain.MovementResponse{}, err
	}
	if req.StartMeter != nil || req.EndMeter != nil {
		if req.Type != domain.StockLoadToVehicle && req.Type != domain.StockUnloadVehicle {
			return domain.MovementResponse{}, store.Invalid("start_meter", "meter readings only apply to loads and unloads")
		}
	}
	// Warehouse-only movements never carry a vehicle.
	if _, vehDelta, err := ledger.Effect(req.Type, req.Quantity, req.VehicleID != ""); err == nil && vehDelta == 0 && req.VehicleID != "" {
		return domain.MovementResponse{}, store.Invalid("vehicle_id", fmt.Sprintf("not allowed for %s", req.Type))
	}

	now := s.now().UTC()
	var entries []domain.StockTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entries, err = ledger.Post(ctx, tx, ledger.Movement{
			Type:       req.Type,
			ProductID:  req.ProductID,
			Quantity:   req.Quantity,
			VehicleID:  req.VehicleID,
			StartMeter: req.StartMeter,
			EndMeter:   req.EndMeter,
			Note:       req.Note,
			StaffID:    req.StaffID,
			At:         now,
		})
		return err
	})
	if err != nil {
		return domain.MovementResponse{}, err
	}

	s.log.Info().
		Str("type", string(req.Type)).
		Str("product_id", req.ProductID).
		Str("vehicle_id", req.VehicleID).
		Int("quantity", req.Quantity).
		Str("staff_id", req.StaffID).
		Msg("stock movement recorded")
	return domain.MovementResponse{Entries: entries}, nil
}

// VehicleStock returns the running balances of one vehicle.
func (s *Service) VehicleStock(ctx context.Context, vehicleID string) (domain.VehicleStockReport, error) {
	if _, err := s.repo.GetVehicle(ctx, vehicleID); err != nil {
		return domain.VehicleStockReport{}, err
	}
	stock, err := s.repo.GetVehicleStock(ctx, vehicleID)
	if err != nil {
		return domain.VehicleStockReport{}, err
	}
	return domain.VehicleStockReport{VehicleID: vehicleID, Stock: stock}, nil
}

// WarehouseStock reads the product counter directly.
func (s *Service) WarehouseStock(ctx context.Context, productID string) (int, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.Stock, nil
}

// VerifyVehicleStock replays the vehicle's ledger rows and reports every
// product whose running balance disagrees.
func (s *Service) VerifyVehicleStock(ctx context.Context, vehicleID string) (domain.VehicleStockReport, error) {
	report, err := s.VehicleStock(ctx, vehicleID)
	if err != nil {
		return domain.VehicleStockReport{}, err
	}
	entries, err := s.repo.ListStockTransactionsByVehicle(ctx, vehicleID)
	if err != nil {
		return domain.VehicleStockReport{}, err
	}
	report.Drift = ledger.Drift(report.Stock, ledger.Replay(entries)[vehicleID])
	if len(report.Drift) > 0 {
		s.log.Warn().Str("vehicle_id", vehicleID).Int("products", len(report.Drift)).Msg("vehicle stock drift")
	}
	return report, nil
}
