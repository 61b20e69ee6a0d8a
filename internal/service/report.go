package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func (s *Service) GenerateDailyReport(ctx context.Context, req domain.GenerateReportRequest) (*domain.DailyReport, error) {
	req.Date = strings.TrimSpace(req.Date)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	report, err := s.reports.Generate(ctx, req.Date)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return nil, invalidInput("date must be YYYY-MM-DD")
		}
		return nil, newError(KindPersistenceFailure, "failed to generate report", err)
	}

	s.logAudit(ctx, "report_generate", "daily_report", report.Date, fmt.Sprintf("transactions=%d,total=%s", report.TransactionCount, report.TotalSales.StringFixed(2)))
	return report, nil
}

func (s *Service) GetDailyReport(ctx context.Context, date string) (*domain.DailyReport, error) {
	report, err := s.reports.Get(ctx, strings.TrimSpace(date))
	switch {
	case err == nil:
		return report, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(KindNotFound, "no report for this date", err)
	case errors.Is(err, store.ErrInvalidTransaction):
		return nil, invalidInput("date must be YYYY-MM-DD")
	default:
		return nil, newError(KindPersistenceFailure, "failed to load report", err)
	}
}
