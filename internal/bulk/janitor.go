package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/events"
)

// janitor periodically purges finished jobs older than the retention window.
func (s *Scheduler) janitor() {
	defer s.background.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	s.logger.Info("janitor started",
		"interval", s.config.CleanupInterval,
		"retention", s.config.JobRetention)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("janitor stopping")
			return
		case <-ticker.C:
			if _, err := s.Cleanup(s.ctx); err != nil {
				s.logger.Error("failed to clean up old jobs", "error", err)
			}
		}
	}
}

// Cleanup removes completed and failed jobs that finished longer ago than the
// configured retention and returns how many were removed.
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	retention := s.config.JobRetention
	if retention <= 0 {
		retention = DefaultConfig().JobRetention
	}

	removed, err := s.store.CleanupOldJobs(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}

	if removed > 0 {
		s.logger.Info("cleaned up old jobs", "removed", removed, "retention", retention)
		ev := events.NewJobEvent(events.JobsCleanedUp, uuid.Nil, "")
		ev.Count = removed
		if err := s.emitter.EmitEvent(ctx, ev); err != nil {
			s.logger.Warn("failed to emit cleanup event", "error", err)
		}
	}
	return removed, nil
}
