package cache

import (
	"context"
	"time"

	"shopledger/backend/internal/domain"
)

// StatsCache holds computed dashboard stats per owner. Misses are not errors.
type StatsCache interface {
	Get(ctx context.Context, ownerID string) (*domain.DashboardStats, bool, error)
	Set(ctx context.Context, ownerID string, value *domain.DashboardStats, ttl time.Duration) error
	Invalidate(ctx context.Context, ownerID string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.DashboardStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.DashboardStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func statsKey(ownerID string) string {
	return "shopledger:stats:" + ownerID
}
