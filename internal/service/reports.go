package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/report"
)

// DayEnd builds the cash reconciliation for one business day (YYYY-MM-DD,
// today when empty).
func (s *Service) DayEnd(ctx context.Context, date string) (domain.DayEndReport, error) {
	day, from, to, err := s.dayRange(date)
	if err != nil {
		return domain.DayEndReport{}, err
	}

	var in report.Inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in.Sales, err = s.repo.ListSales(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		in.Payments, err = s.repo.ListPayments(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		in.Returns, err = s.repo.ListReturns(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		in.Expenses, err = s.repo.ListExpenses(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		in.Samples, err = s.repo.ListStockTransactions(gctx, []domain.StockTxType{domain.StockIssueSample}, from, to)
		return err
	})
	g.Go(func() error {
		products, err := s.repo.ListProducts(gctx)
		if err != nil {
			return err
		}
		in.Products = make(map[string]domain.Product, len(products))
		for _, p := range products {
			in.Products[p.ID] = p
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.DayEndReport{}, err
	}

	return report.Build(day, in), nil
}
