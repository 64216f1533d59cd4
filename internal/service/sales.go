package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/ledger"
	"freshroute/backend/internal/payment"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/xid"
)

// CreateSale prices the lines, debits stock at the sale's source, splits
// the tender and stores the sale, all in one transaction. A repeated
// idempotency key returns the sale it first created.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	req.StaffID = staffID(ctx, req.StaffID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.VehicleID = strings.TrimSpace(req.VehicleID)

	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	if err := payment.ValidateTender(req.Tender); err != nil {
		return domain.Sale{}, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return *existing, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	if req.Tender.CreditRequested.IsPositive() && req.CustomerID == "" {
		return domain.Sale{}, fmt.Errorf("account credit requested: %w", store.ErrCustomerRequired)
	}
	if err := s.requireVehicle(ctx, req.VehicleID); err != nil {
		return domain.Sale{}, err
	}
	if err := s.requireCustomer(ctx, req.CustomerID); err != nil {
		return domain.Sale{}, err
	}

	lines, products, err := s.priceLines(ctx, req.Lines)
	if err != nil {
		return domain.Sale{}, err
	}
	stock, err := s.sourceStock(ctx, req.VehicleID, products)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := checkSnapshot(lines, req.VehicleID, stock); err != nil {
		return domain.Sale{}, err
	}
	if err := checkOfferLines(lines, s.offerRule, stock); err != nil {
		return domain.Sale{}, err
	}

	subTotal, discount := lineTotals(lines)
	total := subTotal.Sub(discount)
	now := s.now().UTC()

	var sale domain.Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		day := s.businessDay(now)
		seq, err := tx.NextSequence(ctx, "sale", day)
		if err != nil {
			return err
		}
		id := xid.Daily("sale", day, seq)

		for _, pq := range ledger.SumByProduct(lines) {
			if _, err := ledger.Post(ctx, tx, ledger.Movement{
				Type:      domain.StockSaleIssue,
				ProductID: pq.ProductID,
				Quantity:  pq.Quantity,
				VehicleID: req.VehicleID,
				Reference: id,
				StaffID:   req.StaffID,
				At:        now,
			}); err != nil {
				return err
			}
		}

		available := decimal.Zero
		if req.CustomerID != "" {
			available, err = tx.AvailableCredit(ctx, req.CustomerID)
			if err != nil {
				return err
			}
		}

		alloc := payment.Allocate(payment.InputFromTender(total, available, req.Tender))
		if alloc.Excess.IsPositive() {
			return store.Invalid("tender", "non-cash payment exceeds the total by "+payment.Format(alloc.Excess))
		}
		if alloc.Outstanding.IsPositive() && req.CustomerID == "" {
			return fmt.Errorf("outstanding %s: %w", payment.Format(alloc.Outstanding), store.ErrCustomerRequired)
		}
		if alloc.AppliedCredit.IsPositive() {
			if err := tx.ApplyCredit(ctx, req.CustomerID, alloc.AppliedCredit); err != nil {
				return err
			}
		}

		sale = domain.Sale{
			ID:                 id,
			IdempotencyKey:     req.IdempotencyKey,
			CustomerID:         req.CustomerID,
			VehicleID:          req.VehicleID,
			Lines:              lines,
			SubTotal:           subTotal,
			DiscountAmount:     discount,
			TotalAmount:        total,
			CashPaid:           alloc.AppliedCash,
			ChequePaid:         alloc.AppliedCheque,
			BankTransferPaid:   alloc.AppliedBankTransfer,
			CreditUsed:         alloc.AppliedCredit,
			Payments:           []domain.Payment{},
			TotalAmountPaid:    alloc.TotalApplied,
			OutstandingBalance: alloc.Outstanding,
			ChangeGiven:        alloc.Change,
			PaymentSummary:     alloc.Summary,
			Status:             domain.SaleStatusCompleted,
			StaffID:            req.StaffID,
			CreatedAt:          now,
		}
		if alloc.AppliedCheque.IsPositive() {
			sale.ChequeNumber = req.Tender.ChequeNumber
			sale.ChequeBank = req.Tender.ChequeBank
			sale.ChequeDate = req.Tender.ChequeDate
		}
		if alloc.AppliedBankTransfer.IsPositive() {
			sale.BankName = req.Tender.BankName
			sale.BankReference = req.Tender.BankReference
		}
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			if existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); lookupErr == nil {
				return *existing, nil
			}
		}
		return domain.Sale{}, err
	}

	s.log.Info().
		Str("sale_id", sale.ID).
		Str("vehicle_id", sale.VehicleID).
		Str("total", payment.Format(sale.TotalAmount)).
		Str("outstanding", payment.Format(sale.OutstandingBalance)).
		Str("staff_id", sale.StaffID).
		Msg("sale created")
	return sale, nil
}

// AddPayment records an installment against the outstanding balance.
func (s *Service) AddPayment(ctx context.Context, saleID string, req domain.PaymentRequest) (domain.Sale, error) {
	req.StaffID = staffID(ctx, req.StaffID)
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Sale{}, store.Invalid("amount", "must be greater than zero")
	}
	if err := payment.CheckCents("amount", req.Amount); err != nil {
		return domain.Sale{}, err
	}
	switch req.Method {
	case domain.PaymentCheque:
		if strings.TrimSpace(req.ChequeNumber) == "" {
			return domain.Sale{}, store.Invalid("cheque_number", "required for cheque payments")
		}
	case domain.PaymentBankTransfer:
		if strings.TrimSpace(req.BankName) == "" {
			return domain.Sale{}, store.Invalid("bank_name", "required for bank transfers")
		}
	}

	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if current.Status == domain.SaleStatusCancelled {
		return domain.Sale{}, store.ErrSaleCancelled
	}
	if req.Method == domain.PaymentCredit && current.CustomerID == "" {
		return domain.Sale{}, fmt.Errorf("credit payment: %w", store.ErrCustomerRequired)
	}

	now := s.now().UTC()
	var updated domain.Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// Customer before sale, same order as every other flow.
		if req.Method == domain.PaymentCredit {
			available, err := tx.AvailableCredit(ctx, current.CustomerID)
			if err != nil {
				return err
			}
			if req.Amount.GreaterThan(available) {
				return store.Invalid("amount", "exceeds available account credit "+payment.Format(available))
			}
		}

		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusCancelled {
			return store.ErrSaleCancelled
		}
		if req.Amount.GreaterThan(sale.OutstandingBalance) {
			return store.Invalid("amount", "exceeds outstanding balance "+payment.Format(sale.OutstandingBalance))
		}

		if req.Method == domain.PaymentCredit {
			if err := tx.ApplyCredit(ctx, sale.CustomerID, req.Amount); err != nil {
				return err
			}
		}

		p := domain.Payment{
			ID:            xid.New("pay"),
			SaleID:        sale.ID,
			Amount:        req.Amount,
			Method:        req.Method,
			Date:          now,
			ChequeNumber:  req.ChequeNumber,
			ChequeBank:    req.ChequeBank,
			ChequeDate:    req.ChequeDate,
			BankName:      req.BankName,
			BankReference: req.BankReference,
			StaffID:       req.StaffID,
		}
		if err := settle(ctx, tx, sale, p); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.Info().
		Str("sale_id", updated.ID).
		Str("method", string(req.Method)).
		Str("amount", payment.Format(req.Amount)).
		Str("outstanding", payment.Format(updated.OutstandingBalance)).
		Msg("payment recorded")
	return updated, nil
}

// settle appends p to the locked sale and moves the balance.
func settle(ctx context.Context, tx store.Tx, sale *domain.Sale, p domain.Payment) error {
	if err := tx.InsertPayment(ctx, p); err != nil {
		return err
	}
	sale.Payments = append(sale.Payments, p)
	sale.TotalAmountPaid = sale.TotalAmountPaid.Add(p.Amount)
	sale.OutstandingBalance = sale.OutstandingBalance.Sub(p.Amount)
	sale.PaymentSummary = saleSummary(*sale)
	return tx.UpdateSaleBalance(ctx, *sale)
}

// saleSummary renders the summary over the initial tender plus every
// installment. Return credit settlements count as credit.
func saleSummary(sale domain.Sale) string {
	b := payment.Breakdown{
		Credit:       sale.CreditUsed,
		Cash:         sale.CashPaid,
		Cheque:       sale.ChequePaid,
		BankTransfer: sale.BankTransferPaid,
	}
	for _, p := range sale.Payments {
		switch p.Method {
		case domain.PaymentCash:
			b.Cash = b.Cash.Add(p.Amount)
		case domain.PaymentCheque:
			b.Cheque = b.Cheque.Add(p.Amount)
		case domain.PaymentBankTransfer:
			b.BankTransfer = b.BankTransfer.Add(p.Amount)
		case domain.PaymentCredit, domain.PaymentReturnCredit:
			b.Credit = b.Credit.Add(p.Amount)
		}
	}
	return payment.Summarize(b, sale.OutstandingBalance, sale.TotalAmount)
}

// CancelSale voids a sale: stock goes back to where it came from and any
// account credit it consumed is restored. Sales with returns stay put.
func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.CancelSaleRequest) (domain.Sale, error) {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role != "admin" {
		return domain.Sale{}, fmt.Errorf("cancel sale requires admin role: %w", store.ErrForbidden)
	}
	req.StaffID = staffID(ctx, req.StaffID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}

	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if current.Status == domain.SaleStatusCancelled {
		return domain.Sale{}, store.ErrSaleCancelled
	}

	now := s.now().UTC()
	var cancelled domain.Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		returned, err := tx.ReturnedQuantities(ctx, saleID)
		if err != nil {
			return err
		}
		for _, qty := range returned {
			if qty > 0 {
				return store.Invalid("sale_id", "sale has returns and cannot be cancelled")
			}
		}

		restock := domain.StockAddInventory
		if current.VehicleID != "" {
			restock = domain.StockReturnToVehicle
		}
		for _, pq := range ledger.SumByProduct(current.Lines) {
			if _, err := ledger.Post(ctx, tx, ledger.Movement{
				Type:      restock,
				ProductID: pq.ProductID,
				Quantity:  pq.Quantity,
				VehicleID: current.VehicleID,
				Reference: saleID,
				Note:      "cancel: " + req.Reason,
				StaffID:   req.StaffID,
				At:        now,
			}); err != nil {
				return err
			}
		}

		if current.CustomerID != "" {
			if _, err := tx.AvailableCredit(ctx, current.CustomerID); err != nil {
				return err
			}
		}

		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusCancelled {
			return store.ErrSaleCancelled
		}

		restore := sale.CreditUsed
		for _, p := range sale.Payments {
			if p.Method == domain.PaymentCredit {
				restore = restore.Add(p.Amount)
			}
		}
		if restore.IsPositive() {
			if err := tx.AddCredit(ctx, sale.CustomerID, restore); err != nil {
				return err
			}
		}

		if err := tx.CancelSale(ctx, saleID, req.Reason, now); err != nil {
			return err
		}
		sale.Status = domain.SaleStatusCancelled
		sale.CancellationReason = req.Reason
		sale.CancelledAt = &now
		cancelled = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.Info().
		Str("sale_id", saleID).
		Str("reason", req.Reason).
		Str("staff_id", req.StaffID).
		Msg("sale cancelled")
	return cancelled, nil
}

// GetSale returns the sale with returnedQuantity filled in from its returns.
func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	returns, err := s.repo.ListReturnsBySale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	fillReturned(sale, returns)
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, date string) ([]domain.Sale, error) {
	_, from, to, err := s.dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, from, to)
}

// fillReturned spreads returned quantities over the paid lines of each
// (product, sale type), first line first.
func fillReturned(sale *domain.Sale, returns []domain.ReturnTransaction) {
	remaining := make(map[store.ReturnKey]int)
	for _, ret := range returns {
		for _, item := range ret.ReturnedItems {
			remaining[store.ReturnKey{ProductID: item.ProductID, SaleType: item.SaleType}] += item.Quantity
		}
	}
	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.ReturnedQuantity = 0
		if line.IsOfferItem {
			continue
		}
		key := store.ReturnKey{ProductID: line.ProductID, SaleType: line.SaleType}
		n := min(remaining[key], line.Quantity)
		line.ReturnedQuantity = n
		remaining[key] -= n
	}
}
