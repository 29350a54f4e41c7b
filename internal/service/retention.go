package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Deletes call logs past the retention period on a cron schedule
type RetentionScheduler struct {
	cron          *cron.Cron
	analytics     *AnalyticsService
	retentionDays int
}

func NewRetentionScheduler(analytics *AnalyticsService, schedule string, retentionDays int) (*RetentionScheduler, error) {
	s := &RetentionScheduler{
		cron:          cron.New(),
		analytics:     analytics,
		retentionDays: retentionDays,
	}

	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *RetentionScheduler) Start() {
	s.cron.Start()
	log.Printf("Call log retention scheduled (keeping %d days)", s.retentionDays)
}

// Stops scheduling and waits for a running cleanup to finish
func (s *RetentionScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RetentionScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.analytics.CleanupOldLogs(ctx, s.retentionDays)
	if err != nil {
		log.Printf("Call log cleanup failed: %v", err)
		return
	}
	log.Printf("Call log cleanup removed %d entries", deleted)
}
