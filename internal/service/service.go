package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freshroute/backend/internal/cache"
	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/offer"
	"freshroute/backend/internal/payment"
	"freshroute/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Carts     cache.CartStore
	CartTTL   time.Duration
	OfferRule offer.Rule
	// Location decides where a business day starts. Defaults to UTC.
	Location *time.Location
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Service struct {
	repo      store.Repository
	carts     cache.CartStore
	cartTTL   time.Duration
	offerRule offer.Rule
	loc       *time.Location
	log       zerolog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Carts == nil {
		opts.Carts = cache.NewLocalCartStore()
	}
	if opts.CartTTL <= 0 {
		opts.CartTTL = 4 * time.Hour
	}
	if opts.OfferRule.BuyQuantity == 0 {
		opts.OfferRule.BuyQuantity = 12
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:      repo,
		carts:     opts.Carts,
		cartTTL:   opts.CartTTL,
		offerRule: opts.OfferRule,
		loc:       opts.Location,
		log:       opts.Logger.With().Str("component", "service").Logger(),
		validate:  newValidator(),
		now:       opts.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs the struct tags of req and reports the first failing field.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		// Namespace is "SaleRequest.lines[0].quantity"; drop the type.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return store.Invalid(field, reason)
	}
	return store.Invalid("", err.Error())
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	return s.repo.ListVehicles(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// staffID prefers the authenticated actor over whatever the caller set.
func staffID(ctx context.Context, fallback string) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	if fallback == "" {
		return "system"
	}
	return fallback
}

// businessDay is midnight of t's day in the business location.
func (s *Service) businessDay(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

// dayRange parses a YYYY-MM-DD date (today when empty) into the UTC bounds
// of that business day, end exclusive.
func (s *Service) dayRange(date string) (string, time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		day = s.businessDay(s.now())
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), s.loc)
		if err != nil {
			return "", time.Time{}, time.Time{}, store.Invalid("date", "must be YYYY-MM-DD")
		}
		day = parsed
	}
	return day.Format("2006-01-02"), day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}

func (s *Service) requireVehicle(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		return nil
	}
	if _, err := s.repo.GetVehicle(ctx, vehicleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Invalid("vehicle_id", "unknown vehicle")
		}
		return err
	}
	return nil
}

func (s *Service) requireCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return nil
	}
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Invalid("customer_id", "unknown customer")
		}
		return err
	}
	return nil
}

// priceLines snapshots the products of lines and settles applied prices.
// Paid lines default to the list price of their sale type.
func (s *Service) priceLines(ctx context.Context, lines []domain.CartLine) ([]domain.SaleLine, map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	out := make([]domain.SaleLine, 0, len(lines))
	for i, line := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		product, ok := products[line.ProductID]
		if !ok {
			return nil, nil, store.Invalid(field+".product_id", "unknown product "+line.ProductID)
		}
		if line.Quantity < 1 {
			return nil, nil, store.Invalid(field+".quantity", "must be greater than zero")
		}
		list, ok := product.PriceFor(line.SaleType)
		if !ok {
			return nil, nil, store.Invalid(field+".sale_type", fmt.Sprintf("%s has no %s price", product.ID, line.SaleType))
		}

		if line.IsOfferItem {
			if !line.AppliedPrice.IsZero() {
				return nil, nil, store.Invalid(field+".applied_price", "free items are priced at zero")
			}
			out = append(out, domain.NewSaleLine(product, line.Quantity, line.SaleType, decimal.Zero, true))
			continue
		}

		applied := line.AppliedPrice
		if err := payment.CheckCents(field+".applied_price", applied); err != nil {
			return nil, nil, err
		}
		if applied.IsZero() {
			applied = list
		}
		if applied.IsNegative() {
			return nil, nil, store.Invalid(field+".applied_price", "must not be negative")
		}
		if applied.GreaterThan(list) {
			return nil, nil, store.Invalid(field+".applied_price", "must not exceed the list price "+list.StringFixed(2))
		}
		out = append(out, domain.NewSaleLine(product, line.Quantity, line.SaleType, applied, false))
	}
	return out, products, nil
}

// sourceStock is the snapshot of stock at a sale's source: the vehicle
// balance when vehicleID is set, the warehouse counter otherwise.
func (s *Service) sourceStock(ctx context.Context, vehicleID string, products map[string]domain.Product) (map[string]int, error) {
	if vehicleID != "" {
		return s.repo.GetVehicleStock(ctx, vehicleID)
	}
	stock := make(map[string]int, len(products))
	for id, p := range products {
		stock[id] = p.Stock
	}
	return stock, nil
}

// checkSnapshot fails fast before the transaction. The ledger re-checks
// the aggregate under lock.
func checkSnapshot(lines []domain.SaleLine, vehicleID string, stock map[string]int) error {
	for _, line := range lines {
		if line.IsOfferItem {
			continue
		}
		if line.Quantity > stock[line.ProductID] {
			return &store.StockError{ProductID: line.ProductID, VehicleID: vehicleID, Requested: line.Quantity, Available: stock[line.ProductID]}
		}
	}
	return nil
}

// checkOfferLines accepts free lines only up to what the offer rule derives
// from the paid lines and stock. A cart may carry fewer, after the cashier
// removed some or switched the offer off, but never more.
func checkOfferLines(lines []domain.SaleLine, rule offer.Rule, stock map[string]int) error {
	claimed := make(map[store.ReturnKey]int)
	for _, line := range lines {
		if line.IsOfferItem {
			claimed[store.ReturnKey{ProductID: line.ProductID, SaleType: line.SaleType}] += line.Quantity
		}
	}
	if len(claimed) == 0 {
		return nil
	}

	earned := make(map[store.ReturnKey]int)
	for _, line := range offer.Reconcile(lines, rule, nil, stock) {
		if line.IsOfferItem {
			earned[store.ReturnKey{ProductID: line.ProductID, SaleType: line.SaleType}] += line.Quantity
		}
	}
	for key, qty := range claimed {
		if qty > earned[key] {
			return store.Invalid("lines", fmt.Sprintf("%d free %s (%s) claimed, %d earned", qty, key.ProductID, key.SaleType, earned[key]))
		}
	}
	return nil
}

// lineTotals returns subTotal and discount over the paid lines.
func lineTotals(lines []domain.SaleLine) (decimal.Decimal, decimal.Decimal) {
	subTotal, discount := decimal.Zero, decimal.Zero
	for _, line := range lines {
		if line.IsOfferItem {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		list := line.ListPrice().Mul(qty)
		subTotal = subTotal.Add(list)
		discount = discount.Add(list.Sub(line.Total()))
	}
	return subTotal, discount
}
