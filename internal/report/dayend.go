// Package report aggregates one business day into the day-end cash
// reconciliation.
package report

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
)

// Inputs are the rows dated inside the business day.
type Inputs struct {
	Sales    []domain.Sale
	Payments []domain.Payment
	Returns  []domain.ReturnTransaction
	Expenses []domain.Expense
	Samples  []domain.StockTransaction
	Products map[string]domain.Product
}

func Build(date string, in Inputs) domain.DayEndReport {
	r := domain.DayEndReport{
		Date:               date,
		ExpensesByCategory: make(map[string]decimal.Decimal),
		SamplesIssued:      []domain.SampleSummary{},
	}

	for _, sale := range in.Sales {
		if sale.Status == domain.SaleStatusCancelled {
			continue
		}
		r.SalesCount++
		for _, line := range sale.Lines {
			qty := decimal.NewFromInt(int64(line.Quantity))
			list := line.ListPrice().Mul(qty)
			if line.IsOfferItem {
				r.FreeItemsValue = r.FreeItemsValue.Add(list)
				continue
			}
			r.GrossSales = r.GrossSales.Add(list)
			r.DiscountsToday = r.DiscountsToday.Add(list.Sub(line.Total()))
		}
		r.CashFromSales = r.CashFromSales.Add(sale.CashPaid)
		r.ChequeTotal = r.ChequeTotal.Add(sale.ChequePaid)
		r.BankTransferTotal = r.BankTransferTotal.Add(sale.BankTransferPaid)
		r.CreditUsedTotal = r.CreditUsedTotal.Add(sale.CreditUsed)

		initiallyPaid := sale.CashPaid.Add(sale.ChequePaid).Add(sale.BankTransferPaid).Add(sale.CreditUsed)
		if owed := sale.TotalAmount.Sub(initiallyPaid); owed.IsPositive() {
			r.OutstandingCreated = r.OutstandingCreated.Add(owed)
		}
	}

	for _, p := range in.Payments {
		switch p.Method {
		case domain.PaymentCash:
			r.CashFromCreditPayments = r.CashFromCreditPayments.Add(p.Amount)
		case domain.PaymentCheque:
			r.ChequeTotal = r.ChequeTotal.Add(p.Amount)
		case domain.PaymentBankTransfer:
			r.BankTransferTotal = r.BankTransferTotal.Add(p.Amount)
		case domain.PaymentCredit:
			r.CreditUsedTotal = r.CreditUsedTotal.Add(p.Amount)
		}
	}

	for _, ret := range in.Returns {
		r.ReturnsCount++
		r.ReturnsValueToday = r.ReturnsValueToday.Add(ret.ReturnCredit)
		r.CashPaidOutForRefunds = r.CashPaidOutForRefunds.Add(ret.CashPaidOut)
		r.ReturnCreditToAccounts = r.ReturnCreditToAccounts.Add(ret.RefundAmount)
		// Exchange balances collected at the counter.
		r.CashFromSales = r.CashFromSales.Add(ret.CashPaid)
		r.ChequeTotal = r.ChequeTotal.Add(ret.ChequePaid)
		r.BankTransferTotal = r.BankTransferTotal.Add(ret.BankTransferPaid)
		r.CreditUsedTotal = r.CreditUsedTotal.Add(ret.CreditUsed)
	}

	for _, e := range in.Expenses {
		r.ExpensesToday = r.ExpensesToday.Add(e.Amount)
		category := strings.ToLower(strings.TrimSpace(e.Category))
		r.ExpensesByCategory[category] = r.ExpensesByCategory[category].Add(e.Amount)
	}

	samples := make(map[string]int)
	for _, entry := range in.Samples {
		if entry.Type == domain.StockIssueSample {
			samples[entry.ProductID] += entry.Quantity
		}
	}
	for productID, qty := range samples {
		product := in.Products[productID]
		value := product.RetailPrice.Mul(decimal.NewFromInt(int64(qty)))
		r.SamplesIssued = append(r.SamplesIssued, domain.SampleSummary{
			ProductID: productID,
			Name:      product.Name,
			Quantity:  qty,
			Value:     value,
		})
		r.SamplesValue = r.SamplesValue.Add(value)
	}
	slices.SortFunc(r.SamplesIssued, func(a, b domain.SampleSummary) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	r.NetSales = r.GrossSales.Sub(r.DiscountsToday).Sub(r.ReturnsValueToday).Sub(r.FreeItemsValue)
	r.NetCashInHand = r.CashFromSales.Add(r.CashFromCreditPayments).Sub(r.CashPaidOutForRefunds).Sub(r.ExpensesToday)
	return r
}
