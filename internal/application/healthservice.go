package application

import (
	"context"
	"time"

	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Health status values reported by the health endpoint.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthSummary is the aggregate health view served by the HTTP API.
type HealthSummary struct {
	Status      string
	LastRun     *model.SyncRun
	LastSuccess time.Time
}

// HealthService derives service health from run history. It depends only on
// port interfaces.
type HealthService struct {
	runStore driven.RunStore
	interval time.Duration
	now      func() time.Time
}

// NewHealthService creates a HealthService. interval is the scheduled run
// cadence, used to decide when the last success is stale.
func NewHealthService(runStore driven.RunStore, interval time.Duration) *HealthService {
	return &HealthService{
		runStore: runStore,
		interval: interval,
		now:      time.Now,
	}
}

// Summary assembles the health view. The service is degraded when the most
// recent run failed, or when no run has succeeded within two scheduling
// intervals.
func (s *HealthService) Summary(ctx context.Context) (*HealthSummary, error) {
	runs, err := s.runStore.ListRecent(ctx, 20)
	if err != nil {
		return nil, err
	}

	summary := &HealthSummary{Status: HealthOK}
	if len(runs) == 0 {
		// No history yet; the first scheduled run has not finished.
		return summary, nil
	}

	summary.LastRun = &runs[0]
	for _, run := range runs {
		if run.Status == model.RunStatusSucceeded {
			summary.LastSuccess = run.FinishedAt
			break
		}
	}

	if runs[0].Status == model.RunStatusFailed {
		summary.Status = HealthDegraded
	}
	if summary.LastSuccess.IsZero() || s.now().Sub(summary.LastSuccess) > 2*s.interval {
		summary.Status = HealthDegraded
	}

	return summary, nil
}
