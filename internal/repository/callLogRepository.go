package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/aman-churiwal/capital-proxy/internal/storage"
	"github.com/google/uuid"
)

type CallLogRepository struct {
	db *storage.Postgres
}

func NewCallLogRepository(db *storage.Postgres) *CallLogRepository {
	return &CallLogRepository{db: db}
}

// Filters for listing call logs. Zero values are ignored.
type CallLogFilter struct {
	From       time.Time
	To         time.Time
	StatusCode *int
	Route      string
	APIKeyID   *uuid.UUID
	Limit      int
	Offset     int
}

type RouteCount struct {
	Route           string  `json:"route"`
	Count           int64   `json:"count"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
}

type HourlyStat struct {
	Hour            time.Time `json:"hour"`
	Count           int64     `json:"count"`
	AvgResponseTime float64   `json:"avg_response_time_ms"`
}

// Inserts multiple call logs in a single statement
func (r *CallLogRepository) CreateBatch(ctx context.Context, logs []*models.CallLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

func (r *CallLogRepository) Find(ctx context.Context, f CallLogFilter) ([]models.CallLog, error) {
	var logs []models.CallLog

	query := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", f.From, f.To)

	if f.StatusCode != nil {
		query = query.Where("status_code = ?", *f.StatusCode)
	}
	if f.Route != "" {
		query = query.Where("route = ?", f.Route)
	}
	if f.APIKeyID != nil {
		query = query.Where("api_key_id = ?", *f.APIKeyID)
	}

	err := query.
		Order("timestamp DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&logs).Error

	return logs, err
}

// Counts calls in a time range, optionally for one API key
func (r *CallLogRepository) Count(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (int64, error) {
	var count int64

	query := r.db.DB.WithContext(ctx).
		Model(&models.CallLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if apiKeyID != nil {
		query = query.Where("api_key_id = ?", *apiKeyID)
	}

	err := query.Count(&count).Error
	return count, err
}

func (r *CallLogRepository) CountByStatusRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time, apiKeyID *uuid.UUID) (int64, error) {
	var count int64

	query := r.db.DB.WithContext(ctx).
		Model(&models.CallLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatusCode, maxStatusCode, from, to)
	if apiKeyID != nil {
		query = query.Where("api_key_id = ?", *apiKeyID)
	}

	err := query.Count(&count).Error
	return count, err
}

func (r *CallLogRepository) AverageResponseTime(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (float64, error) {
	var avg *float64

	query := r.db.DB.WithContext(ctx).
		Model(&models.CallLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if apiKeyID != nil {
		query = query.Where("api_key_id = ?", *apiKeyID)
	}

	if err := query.Select("AVG(response_time_ms)").Scan(&avg).Error; err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// Response time at the given percentile (0..1)
func (r *CallLogRepository) Percentile(ctx context.Context, from, to time.Time, percentile float64) (float64, error) {
	var result *float64
	query := `
		SELECT PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY response_time_ms)
		FROM call_logs
		WHERE timestamp BETWEEN ? AND ?
	`

	if err := r.db.DB.WithContext(ctx).Raw(query, percentile, from, to).Scan(&result).Error; err != nil {
		return 0, err
	}
	if result == nil {
		return 0, nil
	}
	return *result, nil
}

// Returns the most used routes
func (r *CallLogRepository) TopRoutes(ctx context.Context, from, to time.Time, limit int) ([]RouteCount, error) {
	var results []RouteCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.CallLog{}).
		Select("route, COUNT(*) AS count, AVG(response_time_ms) AS avg_response_time").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("route").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Returns the call count grouped by hour
func (r *CallLogRepository) Hourly(ctx context.Context, from, to time.Time) ([]HourlyStat, error) {
	var results []HourlyStat

	err := r.db.DB.WithContext(ctx).
		Model(&models.CallLog{}).
		Select("DATE_TRUNC('hour', timestamp) AS hour, COUNT(*) AS count, AVG(response_time_ms) AS avg_response_time").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("hour").
		Order("hour ASC").
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *CallLogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.CallLog{})

	return result.RowsAffected, result.Error
}
