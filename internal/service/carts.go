package service

import (
	"context"
	"strings"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/offer"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/xid"
)

func (s *Service) OpenCart(ctx context.Context, req domain.CartOpenRequest) (domain.Cart, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if err := s.requireVehicle(ctx, req.VehicleID); err != nil {
		return domain.Cart{}, err
	}
	if err := s.requireCustomer(ctx, req.CustomerID); err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{
		ID:           xid.New("cart"),
		CustomerID:   req.CustomerID,
		VehicleID:    req.VehicleID,
		Lines:        []domain.SaleLine{},
		OfferEnabled: req.OfferEnabled,
		StaffID:      staffID(ctx, ""),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.carts.Save(ctx, cart, s.cartTTL); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	cart, err := s.loadCart(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

// AddCartLine prices the line, checks the cart's paid quantity of the
// product against the source stock and re-derives free lines.
func (s *Service) AddCartLine(ctx context.Context, id string, req domain.CartLine) (domain.Cart, error) {
	req.IsOfferItem = false
	if err := s.check(req); err != nil {
		return domain.Cart{}, err
	}
	return s.editCart(ctx, id, func(session *offer.Session, stock map[string]int) error {
		lines, _, err := s.priceLines(ctx, []domain.CartLine{req})
		if err != nil {
			return err
		}
		line := lines[0]
		inCart := line.Quantity
		for _, l := range session.Lines() {
			if !l.IsOfferItem && l.ProductID == line.ProductID {
				inCart += l.Quantity
			}
		}
		if inCart > stock[line.ProductID] {
			return &store.StockError{ProductID: line.ProductID, VehicleID: session.Cart.VehicleID, Requested: inCart, Available: stock[line.ProductID]}
		}
		session.AddLine(line, stock)
		return nil
	})
}

func (s *Service) SetCartLineQuantity(ctx context.Context, id string, index int, qty int) (domain.Cart, error) {
	return s.editCart(ctx, id, func(session *offer.Session, stock map[string]int) error {
		if index >= 0 && index < len(session.Cart.Lines) && qty > 0 {
			line := session.Cart.Lines[index]
			inCart := qty
			for i, l := range session.Lines() {
				if i != index && !l.IsOfferItem && l.ProductID == line.ProductID {
					inCart += l.Quantity
				}
			}
			if inCart > stock[line.ProductID] {
				return &store.StockError{ProductID: line.ProductID, VehicleID: session.Cart.VehicleID, Requested: inCart, Available: stock[line.ProductID]}
			}
		}
		if err := session.SetQuantity(index, qty, stock); err != nil {
			return store.Invalid("index", err.Error())
		}
		return nil
	})
}

// RemoveCartLine drops a line. A removed free line stays excluded until
// the offer is switched off or the cart is checked out.
func (s *Service) RemoveCartLine(ctx context.Context, id string, index int) (domain.Cart, error) {
	return s.editCart(ctx, id, func(session *offer.Session, stock map[string]int) error {
		if err := session.RemoveLine(index, stock); err != nil {
			return store.Invalid("index", err.Error())
		}
		return nil
	})
}

func (s *Service) SetCartOffer(ctx context.Context, id string, enabled bool) (domain.Cart, error) {
	return s.editCart(ctx, id, func(session *offer.Session, stock map[string]int) error {
		session.SetOfferEnabled(enabled, stock)
		return nil
	})
}

// CheckoutCart turns the cart into a sale and discards it. Free lines are
// reconciled against current stock first.
func (s *Service) CheckoutCart(ctx context.Context, id string, req domain.CartCheckoutRequest) (domain.Sale, error) {
	cart, err := s.loadCart(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if len(offer.PaidLines(cart.Lines)) == 0 {
		return domain.Sale{}, store.ErrNothingToProcess
	}
	stock, err := s.cartStock(ctx, cart)
	if err != nil {
		return domain.Sale{}, err
	}
	session := offer.NewSession(cart, s.offerRule)
	session.SetOfferEnabled(cart.OfferEnabled, stock)

	lines := make([]domain.CartLine, 0, len(cart.Lines))
	for _, l := range session.Lines() {
		lines = append(lines, domain.CartLine{
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			SaleType:     l.SaleType,
			AppliedPrice: l.AppliedPrice,
			IsOfferItem:  l.IsOfferItem,
		})
	}

	key := req.IdempotencyKey
	if strings.TrimSpace(key) == "" {
		key = cart.ID
	}
	sale, err := s.CreateSale(ctx, domain.SaleRequest{
		IdempotencyKey: key,
		CustomerID:     cart.CustomerID,
		VehicleID:      cart.VehicleID,
		Lines:          lines,
		Tender:         req.Tender,
		StaffID:        cart.StaffID,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	if err := s.carts.Delete(ctx, cart.ID); err != nil {
		s.log.Warn().Err(err).Str("cart_id", cart.ID).Msg("failed to discard checked out cart")
	}
	return sale, nil
}

func (s *Service) loadCart(ctx context.Context, id string) (*domain.Cart, error) {
	cart, ok, err := s.carts.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return cart, nil
}

func (s *Service) editCart(ctx context.Context, id string, edit func(session *offer.Session, stock map[string]int) error) (domain.Cart, error) {
	cart, err := s.loadCart(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	stock, err := s.cartStock(ctx, cart)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := edit(offer.NewSession(cart, s.offerRule), stock); err != nil {
		return domain.Cart{}, err
	}
	cart.UpdatedAt = s.now().UTC()
	if err := s.carts.Save(ctx, *cart, s.cartTTL); err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

// cartStock snapshots stock at the cart's source.
func (s *Service) cartStock(ctx context.Context, cart *domain.Cart) (map[string]int, error) {
	if cart.VehicleID != "" {
		return s.repo.GetVehicleStock(ctx, cart.VehicleID)
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]int, len(products))
	for _, p := range products {
		stock[p.ID] = p.Stock
	}
	return stock, nil
}
