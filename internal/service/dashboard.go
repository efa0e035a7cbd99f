package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

const (
	chartDays       = 7
	recentSaleCount = 5
)

// DashboardStats rolls up the owner's products, sales and customers. Results
// are cached per owner and dropped on every write.
func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	if cached, ok, err := s.cache.Get(ctx, ownerID); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.WithField("module", "service").Warnf("stats cache read failed owner=%s: %v", ownerID, err)
	}

	products, _, err := s.repo.ListProducts(ctx, ownerID, domain.ListQuery{})
	if err != nil {
		return domain.DashboardStats{}, err
	}
	sales, _, err := s.repo.ListSales(ctx, ownerID, domain.ListQuery{})
	if err != nil {
		return domain.DashboardStats{}, err
	}
	_, customerCount, err := s.repo.ListCustomers(ctx, ownerID, domain.ListQuery{Page: 1, Limit: 1})
	if err != nil {
		return domain.DashboardStats{}, err
	}
	settings, err := s.settingsOf(ctx, ownerID)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	now := s.clock()
	cutoff := now.AddDate(0, 0, settings.NearExpiryDays)
	stats := domain.DashboardStats{
		TotalProducts:  len(products),
		TotalSales:     len(sales),
		TotalCustomers: customerCount,
		TotalRevenue:   decimal.Zero,
	}
	for _, p := range products {
		if p.IsLowStock() {
			stats.LowStockProducts++
		}
		if p.ExpiryDate != nil && !p.ExpiryDate.After(cutoff) {
			stats.NearExpiryCount++
		}
	}

	revenueByDate := make(map[string]decimal.Decimal, chartDays)
	for _, sale := range sales {
		stats.TotalRevenue = stats.TotalRevenue.Add(sale.Total)
		revenueByDate[sale.Date] = revenueByDate[sale.Date].Add(sale.Total)
	}
	stats.TotalRevenue = billing.Money(stats.TotalRevenue)
	stats.SalesChartData = salesChart(revenueByDate, now)

	// Sales are listed newest first.
	recent := sales[:min(recentSaleCount, len(sales))]
	stats.RecentSales = append([]domain.Sale{}, recent...)

	if err := s.cache.Set(ctx, ownerID, &stats, s.statsTTL); err != nil {
		s.logger.WithField("module", "service").Warnf("stats cache write failed owner=%s: %v", ownerID, err)
	}
	return stats, nil
}

// salesChart buckets revenue for the last seven days, oldest first, by the
// sale's calendar date string.
func salesChart(revenueByDate map[string]decimal.Decimal, now time.Time) []domain.ChartPoint {
	points := make([]domain.ChartPoint, 0, chartDays)
	for i := chartDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format(domain.DateLayout)
		points = append(points, domain.ChartPoint{
			Date:    day,
			Revenue: billing.Money(revenueByDate[day]),
		})
	}
	return points
}

// LowStockAlerts pages through products at or below their alert threshold.
func (s *Service) LowStockAlerts(ctx context.Context, q domain.ListQuery) (domain.Page[domain.Product], error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	q = normalizePage(q, 20, 100)

	products, _, err := s.repo.ListProducts(ctx, ownerID, domain.ListQuery{})
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	low := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.IsLowStock() {
			low = append(low, p)
		}
	}
	start, end := store.Window(len(low), q.Page, q.Limit)
	return pageOf(low[start:end], len(low), q), nil
}

// NearExpiryAlerts pages through products expiring within days, soonest
// first. Zero days means the owner's configured window.
func (s *Service) NearExpiryAlerts(ctx context.Context, days int, q domain.ListQuery) (domain.ExpiryPage, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.ExpiryPage{}, err
	}
	q = normalizePage(q, 100, 200)
	if days < 1 {
		settings, err := s.settingsOf(ctx, ownerID)
		if err != nil {
			return domain.ExpiryPage{}, err
		}
		days = max(1, settings.NearExpiryDays)
	}

	cutoff := s.clock().AddDate(0, 0, days)
	q.ExpiringBefore = &cutoff
	items, total, err := s.repo.ListProducts(ctx, ownerID, q)
	if err != nil {
		return domain.ExpiryPage{}, err
	}
	q.ExpiringBefore = nil
	return domain.ExpiryPage{Page: pageOf(items, total, q), Cutoff: cutoff}, nil
}
