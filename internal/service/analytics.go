package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/repository"
	"github.com/google/uuid"
)

// Read side of the call log, implemented by repository.CallLogRepository
type CallLogReader interface {
	Find(ctx context.Context, f repository.CallLogFilter) ([]models.CallLog, error)
	Count(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (int64, error)
	CountByStatusRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time, apiKeyID *uuid.UUID) (int64, error)
	AverageResponseTime(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (float64, error)
	Percentile(ctx context.Context, from, to time.Time, percentile float64) (float64, error)
	TopRoutes(ctx context.Context, from, to time.Time, limit int) ([]repository.RouteCount, error)
	Hourly(ctx context.Context, from, to time.Time) ([]repository.HourlyStat, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type AnalyticsService struct {
	logs CallLogReader
	now  func() time.Time
}

func NewAnalyticsService(logs CallLogReader) *AnalyticsService {
	return &AnalyticsService{
		logs: logs,
		now:  time.Now,
	}
}

// Holds analytics summary data
type AnalyticsSummary struct {
	TotalRequests   int64                   `json:"total_requests"`
	AvgResponseTime float64                 `json:"avg_response_time_ms"`
	P50ResponseTime float64                 `json:"p50_response_time_ms"`
	P95ResponseTime float64                 `json:"p95_response_time_ms"`
	P99ResponseTime float64                 `json:"p99_response_time_ms"`
	ErrorRate       float64                 `json:"error_rate"`
	SuccessRate     float64                 `json:"success_rate"`
	ClientErrorRate float64                 `json:"client_error_rate"`
	ServerErrorRate float64                 `json:"server_error_rate"`
	TopRoutes       []repository.RouteCount `json:"top_routes,omitempty"`
}

// Retrieves analytics summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary, err := s.summarize(ctx, from, to, nil)
	if err != nil || summary.TotalRequests == 0 {
		return summary, err
	}

	// Percentiles are best effort
	summary.P50ResponseTime, _ = s.logs.Percentile(ctx, from, to, 0.50)
	summary.P95ResponseTime, _ = s.logs.Percentile(ctx, from, to, 0.95)
	summary.P99ResponseTime, _ = s.logs.Percentile(ctx, from, to, 0.99)

	summary.TopRoutes, err = s.logs.TopRoutes(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// Summary restricted to calls made with one API key
func (s *AnalyticsService) GetAPIKeyStats(ctx context.Context, apiKeyID uuid.UUID, from, to time.Time) (*AnalyticsSummary, error) {
	return s.summarize(ctx, from, to, &apiKeyID)
}

func (s *AnalyticsService) summarize(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{}

	total, err := s.logs.Count(ctx, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = total

	if total == 0 {
		return summary, nil
	}

	summary.AvgResponseTime, err = s.logs.AverageResponseTime(ctx, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}

	clientErrors, err := s.logs.CountByStatusRange(ctx, 400, 499, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}
	serverErrors, err := s.logs.CountByStatusRange(ctx, 500, 599, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}

	summary.ClientErrorRate = percent(clientErrors, total)
	summary.ServerErrorRate = percent(serverErrors, total)
	summary.ErrorRate = percent(clientErrors+serverErrors, total)
	summary.SuccessRate = 100 - summary.ErrorRate

	return summary, nil
}

func (s *AnalyticsService) GetTimeSeriesData(ctx context.Context, from, to time.Time) ([]repository.HourlyStat, error) {
	return s.logs.Hourly(ctx, from, to)
}

func (s *AnalyticsService) GetLogs(ctx context.Context, filter repository.CallLogFilter) ([]models.CallLog, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.logs.Find(ctx, filter)
}

// Deletes logs older than specified retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutOff := s.now().AddDate(0, 0, -retentionDays)
	return s.logs.DeleteBefore(ctx, cutOff)
}

func percent(part, total int64) float64 {
	return float64(part) / float64(total) * 100
}
