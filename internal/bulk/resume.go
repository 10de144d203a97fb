package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/events"
	"github.com/phrazzld/bulkgen/internal/store"
)

// ResumeManager restarts the workers of jobs interrupted by a previous
// process. Resume does its work once per ResumeManager; start-up code
// creates one and calls it after the scheduler is ready. Watch then keeps
// reclaiming jobs whose lease lapsed, such as jobs left behind by a crashed
// instance.
//
// Re-driving a job is idempotent because workers skip terminal items, so a
// second resume after another crash is safe. Across instances sharing one
// database, the job lease decides which instance drives a job.
type ResumeManager struct {
	scheduler *Scheduler
	store     store.JobStore
	emitter   events.EventEmitter
	logger    *slog.Logger

	once    sync.Once
	resumed int
	err     error
}

// NewResumeManager creates a ResumeManager for the scheduler.
func NewResumeManager(s *Scheduler) *ResumeManager {
	return &ResumeManager{
		scheduler: s,
		store:     s.store,
		emitter:   s.emitter,
		logger:    s.logger.With("component", "resume_manager"),
	}
}

// Resume restarts every pending or running job. Only the first call does any
// work; later calls return the first call's result. It returns how many
// workers were started and the per-job errors, aggregated.
func (m *ResumeManager) Resume(ctx context.Context) (int, error) {
	m.once.Do(func() {
		m.resumed, m.err = m.resume(ctx, false)
	})
	return m.resumed, m.err
}

// Reclaim restarts pending or running jobs that no worker in this process
// drives and whose lease is free, expired or already ours.
func (m *ResumeManager) Reclaim(ctx context.Context) (int, error) {
	return m.resume(ctx, true)
}

// Watch calls Reclaim every ReclaimInterval until the scheduler stops.
func (m *ResumeManager) Watch() {
	s := m.scheduler
	interval := s.config.ReclaimInterval
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.background.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.background.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				n, err := m.Reclaim(s.ctx)
				if err != nil && s.ctx.Err() == nil {
					m.logger.Error("failed to reclaim jobs", "error", err)
				}
				if n > 0 {
					m.logger.Info("reclaimed jobs with lapsed leases", "count", n)
				}
			}
		}
	}()
}

func (m *ResumeManager) resume(ctx context.Context, reclaim bool) (int, error) {
	jobs, err := m.store.ListRunningJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	if !reclaim {
		m.logger.Info("resuming interrupted jobs", "count", len(jobs))
	}

	var result *multierror.Error
	resumed := 0
	now := m.scheduler.now()
	for _, job := range jobs {
		if !job.Status.IsResumable() {
			continue
		}
		if reclaim && !m.reclaimable(job, now) {
			continue
		}

		log := m.logger.With("job_id", job.ID, "category", job.Category, "status", job.Status)

		if err := m.checkConfig(job); err != nil {
			log.Error("stored job configuration cannot be replayed", "error", err)
			if err := m.markFailed(ctx, job, "resume fault: "+err.Error()); err != nil {
				result = multierror.Append(result, fmt.Errorf("job %s: %w", job.ID, err))
			}
			continue
		}

		started, err := m.scheduler.launch(job, true)
		switch {
		case errors.Is(err, domain.ErrUnknownCategory):
			log.Error("no producer registered for job category")
			if err := m.markFailed(ctx, job, "resume fault: "+err.Error()); err != nil {
				result = multierror.Append(result, fmt.Errorf("job %s: %w", job.ID, err))
			}
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("job %s: %w", job.ID, err))
		case !started:
			log.Debug("job is driven elsewhere, not resuming")
		default:
			log.Info("job resumed", "processed", job.Processed, "total", job.Total)
			resumed++
		}
	}

	return resumed, result.ErrorOrNil()
}

// reclaimable reports whether a job seen by a periodic scan has no live driver.
func (m *ResumeManager) reclaimable(job *domain.Job, now time.Time) bool {
	if m.scheduler.Active(job.ID) {
		return false
	}
	if job.LeaseOwner == "" || job.LeaseOwner == m.scheduler.config.Owner {
		return true
	}
	return job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.After(now)
}

func (m *ResumeManager) checkConfig(job *domain.Job) error {
	if len(job.Config.Items) == 0 {
		return errors.New("stored configuration has no items")
	}
	if err := job.Config.Validate(); err != nil {
		if errors.Is(err, domain.ErrUnknownCategory) {
			return nil
		}
		return err
	}
	if job.Config.TotalBatches() != job.TotalBatches && job.TotalBatches != 0 {
		return fmt.Errorf("stored configuration yields %d batches, job has %d",
			job.Config.TotalBatches(), job.TotalBatches)
	}
	return nil
}

func (m *ResumeManager) markFailed(ctx context.Context, job *domain.Job, reason string) error {
	u := domain.StatusUpdate(domain.JobStatusFailed)
	u.AppendErrors = []domain.ItemError{{Error: reason}}
	if _, err := m.store.UpdateJob(ctx, job.ID, u); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if err := m.emitter.EmitEvent(ctx, events.NewJobEvent(events.JobFailed, job.ID, string(job.Category))); err != nil {
		m.logger.Warn("failed to emit job event", "job_id", job.ID, "error", err)
	}
	return nil
}
