package service

import (
	"context"
	"strings"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/payment"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/xid"
)

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseRequest) (domain.Expense, error) {
	req.StaffID = staffID(ctx, req.StaffID)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if err := s.check(req); err != nil {
		return domain.Expense{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Expense{}, store.Invalid("amount", "must be greater than zero")
	}
	if err := payment.CheckCents("amount", req.Amount); err != nil {
		return domain.Expense{}, err
	}
	if err := s.requireVehicle(ctx, req.VehicleID); err != nil {
		return domain.Expense{}, err
	}

	expense := domain.Expense{
		ID:        xid.New("exp"),
		Category:  req.Category,
		Amount:    req.Amount,
		Date:      s.now().UTC(),
		Note:      strings.TrimSpace(req.Note),
		VehicleID: req.VehicleID,
		StaffID:   req.StaffID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertExpense(ctx, expense)
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.log.Info().Str("expense_id", expense.ID).Str("category", expense.Category).Str("amount", payment.Format(expense.Amount)).Msg("expense recorded")
	return expense, nil
}
