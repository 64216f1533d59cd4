// Package offer derives "buy N get 1 free" lines from the paid lines of a
// cart. Free lines are always regenerated from paid lines, never grouped.
package offer

import (
	"slices"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
)

type Rule struct {
	BuyQuantity int
}

type groupKey struct {
	productID string
	saleType  domain.SaleType
}

// Reconcile returns the paid lines of lines, in order, followed by the
// free lines they earn. stock is the quantity available per product at the
// cart's source; a product without an entry has none.
func Reconcile(lines []domain.SaleLine, rule Rule, excluded map[string]bool, stock map[string]int) []domain.SaleLine {
	paid := PaidLines(lines)
	if rule.BuyQuantity < 1 {
		return paid
	}

	groups := make(map[groupKey]int)
	template := make(map[groupKey]domain.SaleLine)
	paidByProduct := make(map[string]int)
	for _, line := range paid {
		key := groupKey{productID: line.ProductID, saleType: line.SaleType}
		groups[key] += line.Quantity
		paidByProduct[line.ProductID] += line.Quantity
		if _, ok := template[key]; !ok {
			template[key] = line
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b groupKey) int {
		if a.productID != b.productID {
			if a.productID < b.productID {
				return -1
			}
			return 1
		}
		if a.saleType < b.saleType {
			return -1
		}
		if a.saleType > b.saleType {
			return 1
		}
		return 0
	})

	out := paid
	freeByProduct := make(map[string]int)
	for _, key := range keys {
		if excluded[key.productID] {
			continue
		}
		free := groups[key] / rule.BuyQuantity
		if free < 1 {
			continue
		}
		// Paid quantity of every group of the product counts against stock.
		if paidByProduct[key.productID]+freeByProduct[key.productID]+free > stock[key.productID] {
			continue
		}
		freeByProduct[key.productID] += free

		line := template[key]
		line.Quantity = free
		line.AppliedPrice = decimal.Zero
		line.IsOfferItem = true
		line.ReturnedQuantity = 0
		out = append(out, line)
	}
	return out
}

// PaidLines copies the non-offer lines of lines.
func PaidLines(lines []domain.SaleLine) []domain.SaleLine {
	out := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		if !line.IsOfferItem {
			out = append(out, line)
		}
	}
	return out
}
