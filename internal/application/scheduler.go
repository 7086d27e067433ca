package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mlaurent/sellsync/internal/domain/model"
)

// Scheduler fires scheduled runs on a fixed interval. Manual triggers go
// straight to SyncService.Execute; the service's run lock keeps the two
// trigger paths from overlapping.
type Scheduler struct {
	syncSvc  *SyncService
	interval time.Duration
}

// NewScheduler creates a Scheduler with the given cadence.
func NewScheduler(syncSvc *SyncService, interval time.Duration) *Scheduler {
	return &Scheduler{
		syncSvc:  syncSvc,
		interval: interval,
	}
}

// Start begins the scheduling loop. It runs an immediate run, then fires on
// the configured interval. A tick arriving while a run is still executing is
// skipped. Start blocks until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.fire(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire executes one scheduled run. Run failures are already logged and
// persisted by the service; the scheduler only reports the skip case.
func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.syncSvc.Execute(ctx, model.TriggerSchedule)
	if errors.Is(err, ErrRunInProgress) {
		slog.Warn("scheduled run skipped, previous run still in progress")
	}
}
