package service

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/ledger"
	"freshroute/backend/internal/payment"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/xid"
)

// ReturnFigures is the netting of one return/exchange.
type ReturnFigures struct {
	ReturnCredit    decimal.Decimal
	SettleAmount    decimal.Decimal
	NetCredit       decimal.Decimal
	ExchangeValue   decimal.Decimal
	AmountDue       decimal.Decimal
	RefundDue       decimal.Decimal
	CashPaidOut     decimal.Decimal
	CreditToAccount decimal.Decimal
}

// NetReturn offsets the returned value against the sale's outstanding
// balance and the exchange value. A cash payout larger than the refund due
// is rejected, never clamped.
func NetReturn(returnCredit, exchangeValue, outstanding decimal.Decimal, applyToOutstanding bool, cashPaidOut decimal.Decimal) (ReturnFigures, error) {
	if cashPaidOut.IsNegative() {
		return ReturnFigures{}, store.Invalid("cash_paid_out_requested", "must not be negative")
	}

	f := ReturnFigures{ReturnCredit: returnCredit, ExchangeValue: exchangeValue}
	if applyToOutstanding && outstanding.IsPositive() {
		f.SettleAmount = decimal.Min(returnCredit, outstanding)
	}
	f.NetCredit = returnCredit.Sub(f.SettleAmount)

	diff := exchangeValue.Sub(f.NetCredit)
	if diff.IsPositive() {
		f.AmountDue = diff
	} else {
		f.RefundDue = diff.Neg()
	}

	if cashPaidOut.GreaterThan(f.RefundDue) {
		return ReturnFigures{}, fmt.Errorf("cash out %s over refund due %s: %w",
			payment.Format(cashPaidOut), payment.Format(f.RefundDue), store.ErrRefundExceedsDue)
	}
	f.CashPaidOut = cashPaidOut
	f.CreditToAccount = f.RefundDue.Sub(cashPaidOut)
	return f, nil
}

// paidQuantities sums the paid lines of a sale per (product, sale type).
func paidQuantities(lines []domain.SaleLine) map[store.ReturnKey]int {
	out := make(map[store.ReturnKey]int)
	for _, line := range lines {
		if !line.IsOfferItem {
			out[store.ReturnKey{ProductID: line.ProductID, SaleType: line.SaleType}] += line.Quantity
		}
	}
	return out
}

// returnItems values requested units at the price they were sold for.
// Units are taken from the paid lines first line first, after the ones
// already returned, so a request spanning lines sold at different prices
// yields one item per line. Callers check quantities beforehand.
func returnItems(lines []domain.SaleLine, requested []domain.ReturnLine, already map[store.ReturnKey]int) []domain.ReturnItem {
	taken := maps.Clone(already)
	if taken == nil {
		taken = make(map[store.ReturnKey]int)
	}
	items := make([]domain.ReturnItem, 0, len(requested))
	for _, rl := range requested {
		key := store.ReturnKey{ProductID: rl.ProductID, SaleType: rl.SaleType}
		want := rl.Quantity
		skip := taken[key]
		for _, line := range lines {
			if want == 0 {
				break
			}
			if line.IsOfferItem || line.ProductID != key.ProductID || line.SaleType != key.SaleType {
				continue
			}
			if skip >= line.Quantity {
				skip -= line.Quantity
				continue
			}
			n := min(line.Quantity-skip, want)
			skip = 0

			item := line
			item.Quantity = n
			item.ReturnedQuantity = 0
			items = append(items, domain.ReturnItem{SaleLine: item, LineType: domain.LineReturned, IsResellable: rl.IsResellable})
			want -= n
			taken[key] += n
		}
	}
	return items
}

// ProcessReturn takes back items from a sale and optionally hands out
// exchange items, netting everything into one due or refund figure.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnTransaction, error) {
	req.StaffID = staffID(ctx, req.StaffID)
	req.OriginalSaleID = strings.TrimSpace(req.OriginalSaleID)
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if err := s.check(req); err != nil {
		return domain.ReturnTransaction{}, err
	}
	if err := payment.ValidateTender(req.Tender); err != nil {
		return domain.ReturnTransaction{}, err
	}
	if req.CashPaidOutRequested.IsNegative() {
		return domain.ReturnTransaction{}, store.Invalid("cash_paid_out_requested", "must not be negative")
	}
	if err := payment.CheckCents("cash_paid_out_requested", req.CashPaidOutRequested); err != nil {
		return domain.ReturnTransaction{}, err
	}

	sale, err := s.repo.GetSale(ctx, req.OriginalSaleID)
	if err != nil {
		return domain.ReturnTransaction{}, err
	}
	if sale.Status == domain.SaleStatusCancelled {
		return domain.ReturnTransaction{}, store.ErrSaleCancelled
	}
	if err := s.requireVehicle(ctx, req.VehicleID); err != nil {
		return domain.ReturnTransaction{}, err
	}

	sold := paidQuantities(sale.Lines)
	requested := make(map[store.ReturnKey]int)
	returnLines := make([]domain.ReturnLine, 0, len(req.ReturnedLines))
	for i, rl := range req.ReturnedLines {
		if rl.Quantity == 0 {
			continue
		}
		key := store.ReturnKey{ProductID: rl.ProductID, SaleType: rl.SaleType}
		if _, ok := sold[key]; !ok {
			return domain.ReturnTransaction{}, store.Invalid(fmt.Sprintf("returned_lines[%d].product_id", i), "not sold as "+string(rl.SaleType)+" on this sale")
		}
		requested[key] += rl.Quantity
		returnLines = append(returnLines, rl)
	}

	var exchanged []domain.ReturnItem
	var exchangeLines []domain.SaleLine
	if len(req.ExchangedLines) > 0 {
		for i, line := range req.ExchangedLines {
			if line.IsOfferItem {
				return domain.ReturnTransaction{}, store.Invalid(fmt.Sprintf("exchanged_lines[%d].is_offer_item", i), "free items are not handed out on exchanges")
			}
		}
		exchangeLines, _, err = s.priceLines(ctx, req.ExchangedLines)
		if err != nil {
			return domain.ReturnTransaction{}, err
		}
		for _, line := range exchangeLines {
			exchanged = append(exchanged, domain.ReturnItem{SaleLine: line, LineType: domain.LineExchanged})
		}
	}

	if len(returnLines) == 0 && len(exchanged) == 0 {
		return domain.ReturnTransaction{}, store.ErrNothingToProcess
	}

	exchangeValue := decimal.Zero
	for _, item := range exchanged {
		exchangeValue = exchangeValue.Add(item.Total())
	}

	now := s.now().UTC()
	var ret domain.ReturnTransaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		already, err := tx.ReturnedQuantities(ctx, sale.ID)
		if err != nil {
			return err
		}
		for key, qty := range requested {
			left := sold[key] - already[key]
			if qty > left {
				return store.Invalid("returned_lines", fmt.Sprintf("%s (%s): %d requested, %d returnable", key.ProductID, key.SaleType, qty, left))
			}
		}
		returned := returnItems(sale.Lines, returnLines, already)
		returnCredit := decimal.Zero
		for _, item := range returned {
			returnCredit = returnCredit.Add(item.Total())
		}

		day := s.businessDay(now)
		seq, err := tx.NextSequence(ctx, "return", day)
		if err != nil {
			return err
		}
		id := xid.Daily("ret", day, seq)

		if err := postReturnMovements(ctx, tx, id, req, returned, exchangeLines, now); err != nil {
			return err
		}

		if sale.CustomerID != "" {
			// Lock the account before the sale row.
			if _, err := tx.AvailableCredit(ctx, sale.CustomerID); err != nil {
				return err
			}
		}
		locked, err := tx.GetSaleForUpdate(ctx, sale.ID)
		if err != nil {
			return err
		}
		if locked.Status == domain.SaleStatusCancelled {
			return store.ErrSaleCancelled
		}

		fig, err := NetReturn(returnCredit, exchangeValue, locked.OutstandingBalance, req.ApplyCreditToOutstanding, req.CashPaidOutRequested)
		if err != nil {
			return err
		}
		if locked.CustomerID == "" {
			if fig.CreditToAccount.IsPositive() {
				return fmt.Errorf("refund of %s to account: %w", payment.Format(fig.CreditToAccount), store.ErrCustomerRequired)
			}
			if req.Tender.CreditRequested.IsPositive() {
				return fmt.Errorf("account credit requested: %w", store.ErrCustomerRequired)
			}
		}

		ret = domain.ReturnTransaction{
			ID:                      id,
			OriginalSaleID:          sale.ID,
			CustomerID:              locked.CustomerID,
			VehicleID:               req.VehicleID,
			ReturnedItems:           returned,
			ExchangedItems:          exchanged,
			ReturnCredit:            fig.ReturnCredit,
			ExchangeValue:           fig.ExchangeValue,
			SettleOutstandingAmount: fig.SettleAmount,
			RefundAmount:            fig.CreditToAccount,
			CashPaidOut:             fig.CashPaidOut,
			AmountDue:               fig.AmountDue,
			StaffID:                 req.StaffID,
			CreatedAt:               now,
		}
		if ret.ReturnedItems == nil {
			ret.ReturnedItems = []domain.ReturnItem{}
		}
		if ret.ExchangedItems == nil {
			ret.ExchangedItems = []domain.ReturnItem{}
		}

		if fig.AmountDue.IsPositive() {
			available := decimal.Zero
			if locked.CustomerID != "" {
				available, err = tx.AvailableCredit(ctx, locked.CustomerID)
				if err != nil {
					return err
				}
			}
			alloc := payment.Allocate(payment.InputFromTender(fig.AmountDue, available, req.Tender))
			if alloc.Outstanding.IsPositive() {
				return fmt.Errorf("%s of %s still due: %w", payment.Format(alloc.Outstanding), payment.Format(fig.AmountDue), store.ErrInsufficientPayment)
			}
			if alloc.Excess.IsPositive() {
				return store.Invalid("tender", "non-cash payment exceeds the amount due by "+payment.Format(alloc.Excess))
			}
			if alloc.AppliedCredit.IsPositive() {
				if err := tx.ApplyCredit(ctx, locked.CustomerID, alloc.AppliedCredit); err != nil {
					return err
				}
			}
			ret.AmountPaid = alloc.TotalApplied
			ret.ChangeGiven = alloc.Change
			ret.CashPaid = alloc.AppliedCash
			ret.ChequePaid = alloc.AppliedCheque
			ret.BankTransferPaid = alloc.AppliedBankTransfer
			ret.CreditUsed = alloc.AppliedCredit
			ret.PaymentSummary = alloc.Summary
		} else {
			if tenderTotal(req.Tender).IsPositive() {
				return store.Invalid("tender", "nothing is due on this return")
			}
			ret.PaymentSummary = refundSummary(fig)
		}

		if fig.SettleAmount.IsPositive() {
			if err := settle(ctx, tx, locked, domain.Payment{
				ID:        xid.New("pay"),
				SaleID:    locked.ID,
				Amount:    fig.SettleAmount,
				Method:    domain.PaymentReturnCredit,
				Date:      now,
				Reference: id,
				StaffID:   req.StaffID,
			}); err != nil {
				return err
			}
		}
		if fig.CreditToAccount.IsPositive() {
			if err := tx.AddCredit(ctx, locked.CustomerID, fig.CreditToAccount); err != nil {
				return err
			}
		}
		return tx.InsertReturn(ctx, ret)
	})
	if err != nil {
		return domain.ReturnTransaction{}, err
	}

	s.log.Info().
		Str("return_id", ret.ID).
		Str("sale_id", ret.OriginalSaleID).
		Str("return_credit", payment.Format(ret.ReturnCredit)).
		Str("exchange_value", payment.Format(ret.ExchangeValue)).
		Str("cash_paid_out", payment.Format(ret.CashPaidOut)).
		Str("refund_to_account", payment.Format(ret.RefundAmount)).
		Msg("return processed")
	return ret, nil
}

func (s *Service) ListReturns(ctx context.Context, saleID string) ([]domain.ReturnTransaction, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListReturnsBySale(ctx, saleID)
}

// postReturnMovements restocks resellable returns and issues exchange
// items. Movements go out in product order so row locks are taken in the
// same order as sales; for one product the restock comes first.
func postReturnMovements(ctx context.Context, tx store.Tx, ref string, req domain.ReturnRequest, returned []domain.ReturnItem, exchange []domain.SaleLine, now time.Time) error {
	restockType := domain.StockAddInventory
	if req.VehicleID != "" {
		restockType = domain.StockReturnToVehicle
	}

	var resellable []domain.SaleLine
	for _, item := range returned {
		if item.IsResellable {
			resellable = append(resellable, item.SaleLine)
		}
	}

	var movements []ledger.Movement
	for _, pq := range ledger.SumByProduct(resellable) {
		movements = append(movements, ledger.Movement{Type: restockType, ProductID: pq.ProductID, Quantity: pq.Quantity})
	}
	for _, pq := range ledger.SumByProduct(exchange) {
		movements = append(movements, ledger.Movement{Type: domain.StockSaleIssue, ProductID: pq.ProductID, Quantity: pq.Quantity})
	}
	slices.SortStableFunc(movements, func(a, b ledger.Movement) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	for _, m := range movements {
		m.VehicleID = req.VehicleID
		m.Reference = ref
		m.StaffID = req.StaffID
		m.At = now
		if _, err := ledger.Post(ctx, tx, m); err != nil {
			return err
		}
	}
	return nil
}

func tenderTotal(t domain.Tender) decimal.Decimal {
	return t.Cash.Add(t.Cheque).Add(t.BankTransfer).Add(t.CreditRequested)
}

// refundSummary describes where the value of a return went when nothing
// was collected, e.g. "Cash Out (200.00), Account Credit (50.00)".
func refundSummary(f ReturnFigures) string {
	var parts []string
	if f.SettleAmount.IsPositive() {
		parts = append(parts, "Settled Outstanding ("+payment.Format(f.SettleAmount)+")")
	}
	if f.CashPaidOut.IsPositive() {
		parts = append(parts, "Cash Out ("+payment.Format(f.CashPaidOut)+")")
	}
	if f.CreditToAccount.IsPositive() {
		parts = append(parts, "Account Credit ("+payment.Format(f.CreditToAccount)+")")
	}
	if len(parts) == 0 {
		return "Even Exchange"
	}
	return strings.Join(parts, ", ")
}
