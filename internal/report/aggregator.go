// Package report builds the daily sales summary and its exports.
package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const DefaultTopN = 5

type Config struct {
	Location *time.Location
	TopN     int
	CacheTTL time.Duration
}

type Repository interface {
	store.SaleStore
	store.ReportStore
}

type Aggregator struct {
	repo  Repository
	cache cache.ReportCache
	cfg   Config
}

func NewAggregator(repo Repository, reportCache cache.ReportCache, cfg Config) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TopN < 1 {
		cfg.TopN = DefaultTopN
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	return &Aggregator{repo: repo, cache: reportCache, cfg: cfg}
}

func (a *Aggregator) Location() *time.Location {
	return a.cfg.Location
}

// DayBounds returns [date 00:00, next day 00:00) in loc.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(domain.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalidTransaction
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Generate recomputes the report for date from completed sales and
// overwrites the stored copy.
func (a *Aggregator) Generate(ctx context.Context, date string) (*domain.DailyReport, error) {
	from, to, err := DayBounds(date, a.cfg.Location)
	if err != nil {
		return nil, err
	}

	sales, err := a.repo.ListCompletedSales(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := Build(date, a.cfg.Location, a.cfg.TopN, sales)
	if err := a.repo.UpsertDailyReport(ctx, report); err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, &report, a.cfg.CacheTTL); err != nil {
		log.Warn().Err(err).Str("date", date).Msg("report cache refresh failed")
	}
	return &report, nil
}

func (a *Aggregator) Get(ctx context.Context, date string) (*domain.DailyReport, error) {
	if _, _, err := DayBounds(date, a.cfg.Location); err != nil {
		return nil, err
	}

	cached, ok, err := a.cache.Get(ctx, date)
	if err != nil {
		log.Warn().Err(err).Str("date", date).Msg("report cache read failed")
	}
	if ok {
		return cached, nil
	}

	report, err := a.repo.GetDailyReport(ctx, date)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := a.cache.Set(ctx, report, a.cfg.CacheTTL); err != nil {
		log.Warn().Err(err).Str("date", date).Msg("report cache fill failed")
	}
	return report, nil
}

// Build is the pure aggregation over one day's completed sales.
func Build(date string, loc *time.Location, topN int, sales []domain.Sale) domain.DailyReport {
	report := domain.DailyReport{
		Date:          date,
		Timezone:      loc.String(),
		GrossSubtotal: decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
		TotalSales:    decimal.Zero,
		ByPayment:     make([]domain.PaymentSummary, 0, len(domain.PaymentMethods)),
		TopProducts:   make([]domain.ProductSummary, 0, topN),
	}

	payments := make(map[string]*domain.PaymentSummary, len(domain.PaymentMethods))
	products := make(map[string]*domain.ProductSummary, 32)

	for _, sale := range sales {
		if sale.Status != domain.SaleStatusCompleted {
			continue
		}
		report.TransactionCount++
		report.GrossSubtotal = report.GrossSubtotal.Add(sale.Subtotal)
		report.TotalDiscount = report.TotalDiscount.Add(sale.Discount)
		report.TotalTax = report.TotalTax.Add(sale.Tax)
		report.TotalSales = report.TotalSales.Add(sale.Total)

		pay, ok := payments[sale.PaymentMethod]
		if !ok {
			pay = &domain.PaymentSummary{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			payments[sale.PaymentMethod] = pay
		}
		pay.Transactions++
		pay.Total = pay.Total.Add(sale.Total)

		for _, line := range sale.Lines {
			p, ok := products[line.ProductID]
			if !ok {
				p = &domain.ProductSummary{ProductID: line.ProductID, SKU: line.SKU, Name: line.ProductName, Revenue: decimal.Zero}
				products[line.ProductID] = p
			}
			p.UnitsSold += line.Quantity
			p.Revenue = p.Revenue.Add(line.Total())
		}
	}

	report.GrossSubtotal = domain.RoundMoney(report.GrossSubtotal)
	report.TotalDiscount = domain.RoundMoney(report.TotalDiscount)
	report.TotalTax = domain.RoundMoney(report.TotalTax)
	report.TotalSales = domain.RoundMoney(report.TotalSales)

	for _, pay := range payments {
		pay.Total = domain.RoundMoney(pay.Total)
		report.ByPayment = append(report.ByPayment, *pay)
	}
	sort.Slice(report.ByPayment, func(i, j int) bool {
		return report.ByPayment[i].PaymentMethod < report.ByPayment[j].PaymentMethod
	})

	ranked := make([]domain.ProductSummary, 0, len(products))
	for _, p := range products {
		p.Revenue = domain.RoundMoney(p.Revenue)
		ranked = append(ranked, *p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.UnitsSold != b.UnitsSold {
			return a.UnitsSold > b.UnitsSold
		}
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ProductID < b.ProductID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	report.TopProducts = append(report.TopProducts, ranked...)

	return report
}
