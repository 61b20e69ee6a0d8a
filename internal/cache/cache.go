package cache

import (
	"context"
	"time"

	"retailpos/backend/internal/domain"
)

// ReportCache holds generated daily reports keyed by business date.
type ReportCache interface {
	Get(ctx context.Context, date string) (*domain.DailyReport, bool, error)
	Set(ctx context.Context, report *domain.DailyReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.DailyReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ *domain.DailyReport, _ time.Duration) error {
	return nil
}

func reportKey(date string) string {
	return "report:daily:" + date
}
