// Package dashboard computes sales metrics over a date period.
package dashboard

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

const (
	DefaultLatestLimit = 10
	MaxLatestLimit     = 500
	DefaultTopLimit    = 10
	MaxTopLimit        = 100

	csvTimeLayout = "2006-01-02 15:04:05"
)

var csvHeader = []string{"id", "data", "pagamento", "total"}

type Dashboard struct {
	repo     store.Repository
	cache    cache.DashboardCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(repo store.Repository, summaryCache cache.DashboardCache, cacheTTL time.Duration, logger *zap.Logger) *Dashboard {
	if summaryCache == nil {
		summaryCache = cache.NoopDashboardCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		repo:     repo,
		cache:    summaryCache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Dashboard) Period(start string, end string) (Period, error) {
	return ParsePeriod(start, end, d.now())
}

// Summary returns the period KPIs. Month revenue always covers the current
// calendar month up to now, whatever the requested period.
func (d *Dashboard) Summary(ctx context.Context, start string, end string) (domain.DashboardSummary, error) {
	now := d.now()
	period, err := ParsePeriod(start, end, now)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	key := period.cacheKey()
	generation, genErr := d.cache.Generation(ctx)
	if genErr != nil {
		d.logger.Warn("dashboard cache generation read failed", zap.Error(genErr))
	} else if cached, ok, err := d.cache.Get(ctx, key); err != nil {
		d.logger.Warn("dashboard cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	var summary domain.DashboardSummary
	err = d.repo.WithinTx(ctx, func(tx store.Tx) error {
		totals, err := tx.SalesTotals(ctx, period.From, period.To)
		if err != nil {
			return err
		}
		month, err := tx.SalesTotals(ctx, monthStart(now), now)
		if err != nil {
			return err
		}
		summary = domain.DashboardSummary{
			KPIs: domain.KPIs{
				Orders:       totals.Orders,
				Revenue:      totals.Revenue,
				AvgTicket:    averageTicket(totals),
				MonthRevenue: month.Revenue,
			},
			Start: period.StartDate(),
			End:   period.EndDate(),
		}
		return nil
	})
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	if genErr == nil {
		if err := d.cache.Set(ctx, generation, key, &summary, d.cacheTTL); err != nil {
			d.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return summary, nil
}

func averageTicket(totals domain.SalesTotals) decimal.Decimal {
	if totals.Orders == 0 {
		return decimal.Zero
	}
	return totals.Revenue.Div(decimal.NewFromInt(totals.Orders)).Round(2)
}

func (d *Dashboard) LatestSales(ctx context.Context, start string, end string, limit int) ([]domain.Sale, error) {
	period, err := d.Period(start, end)
	if err != nil {
		return nil, err
	}
	limit = clamp(limit, DefaultLatestLimit, MaxLatestLimit)

	sales := []domain.Sale{}
	err = d.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.ListSalesBetween(ctx, period.From, period.To, limit)
		if err != nil {
			return err
		}
		sales = append(sales, found...)
		return nil
	})
	return sales, err
}

// TopProducts groups sold items by name, so lines with the same name but
// different SKUs are merged.
func (d *Dashboard) TopProducts(ctx context.Context, start string, end string, limit int) ([]domain.TopProduct, error) {
	period, err := d.Period(start, end)
	if err != nil {
		return nil, err
	}
	limit = clamp(limit, DefaultTopLimit, MaxTopLimit)

	top := []domain.TopProduct{}
	err = d.repo.WithinTx(ctx, func(tx store.Tx) error {
		found, err := tx.TopProducts(ctx, period.From, period.To, limit)
		if err != nil {
			return err
		}
		top = append(top, found...)
		return nil
	})
	return top, err
}

// ExportSalesCSV writes every sale in the period, newest first, as
// id,data,pagamento,total.
func (d *Dashboard) ExportSalesCSV(ctx context.Context, start string, end string, w io.Writer) error {
	period, err := d.Period(start, end)
	if err != nil {
		return err
	}

	var sales []domain.Sale
	err = d.repo.WithinTx(ctx, func(tx store.Tx) error {
		sales, err = tx.ListSalesBetween(ctx, period.From, period.To, 0)
		return err
	})
	if err != nil {
		return err
	}

	loc := d.now().Location()
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, sale := range sales {
		record := []string{
			strconv.FormatInt(sale.ID, 10),
			sale.CreatedAt.In(loc).Format(csvTimeLayout),
			sale.Payment,
			sale.Total.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func clamp(limit int, fallback int, ceiling int) int {
	if limit < 1 {
		return fallback
	}
	return min(limit, ceiling)
}
