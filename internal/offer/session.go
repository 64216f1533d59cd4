package offer

import (
	"fmt"
	"slices"

	"freshroute/backend/internal/domain"
)

// Session edits a cart and keeps its free lines reconciled. Every mutation
// takes the current stock snapshot for the cart's source.
type Session struct {
	Cart *domain.Cart
	Rule Rule
}

func NewSession(cart *domain.Cart, rule Rule) *Session {
	return &Session{Cart: cart, Rule: rule}
}

func (s *Session) AddLine(line domain.SaleLine, stock map[string]int) {
	line.IsOfferItem = false
	line.ReturnedQuantity = 0
	s.Cart.Lines = append(s.Cart.Lines, line)
	s.reconcile(stock)
}

func (s *Session) SetQuantity(index int, qty int, stock map[string]int) error {
	if index < 0 || index >= len(s.Cart.Lines) {
		return fmt.Errorf("line %d out of range", index)
	}
	if s.Cart.Lines[index].IsOfferItem {
		return fmt.Errorf("line %d is a free item", index)
	}
	if qty < 1 {
		return s.RemoveLine(index, stock)
	}
	s.Cart.Lines[index].Quantity = qty
	s.reconcile(stock)
	return nil
}

// RemoveLine drops a line. Removing a free line keeps its product from
// earning free units again in this cart.
func (s *Session) RemoveLine(index int, stock map[string]int) error {
	if index < 0 || index >= len(s.Cart.Lines) {
		return fmt.Errorf("line %d out of range", index)
	}
	line := s.Cart.Lines[index]
	if line.IsOfferItem && !slices.Contains(s.Cart.ExcludedProducts, line.ProductID) {
		s.Cart.ExcludedProducts = append(s.Cart.ExcludedProducts, line.ProductID)
		slices.Sort(s.Cart.ExcludedProducts)
	}
	s.Cart.Lines = slices.Delete(s.Cart.Lines, index, index+1)
	s.reconcile(stock)
	return nil
}

// SetOfferEnabled toggles the offer. Turning it off clears free lines and
// the exclusion set.
func (s *Session) SetOfferEnabled(enabled bool, stock map[string]int) {
	s.Cart.OfferEnabled = enabled
	if !enabled {
		s.Cart.ExcludedProducts = nil
	}
	s.reconcile(stock)
}

func (s *Session) Lines() []domain.SaleLine {
	return s.Cart.Lines
}

func (s *Session) reconcile(stock map[string]int) {
	if !s.Cart.OfferEnabled {
		s.Cart.Lines = PaidLines(s.Cart.Lines)
		return
	}
	excluded := make(map[string]bool, len(s.Cart.ExcludedProducts))
	for _, id := range s.Cart.ExcludedProducts {
		excluded[id] = true
	}
	s.Cart.Lines = Reconcile(s.Cart.Lines, s.Rule, excluded, stock)
}
