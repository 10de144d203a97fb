package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/events"
	"github.com/phrazzld/bulkgen/internal/store"
)

// Scheduler errors
var (
	// ErrJobActive is returned when an operation needs a finished job.
	ErrJobActive = errors.New("job is still active")

	// ErrJobFinished is returned when cancelling a job that already reached a
	// terminal status.
	ErrJobFinished = errors.New("job already finished")

	// ErrSchedulerStopped is returned when work is submitted after Stop.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// Config holds the scheduler settings that are not part of a job.
type Config struct {
	// RetryBaseDelay is the first backoff delay of the retry policy.
	RetryBaseDelay time.Duration

	// MaxItemsPerJob rejects larger submissions. Zero means unlimited.
	MaxItemsPerJob int

	// Owner identifies this instance in job leases. It must stay the same
	// across restarts so a restarted instance takes back the leases it held
	// when it went down. Empty uses the hostname.
	Owner string

	// LeaseTTL is how long a job lease stays valid without renewal.
	LeaseTTL time.Duration

	// ReclaimInterval is how often ResumeManager.Watch looks for jobs whose
	// lease lapsed. If zero, jobs are only resumed at start-up.
	ReclaimInterval time.Duration

	// JobRetention is how long completed and failed jobs are kept.
	JobRetention time.Duration

	// CleanupInterval is how often the janitor purges old jobs.
	// If zero, the janitor does not run.
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		RetryBaseDelay:  DefaultBaseDelay,
		MaxItemsPerJob:  1000,
		LeaseTTL:        5 * time.Minute,
		ReclaimInterval: time.Minute,
		JobRetention:    time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// Scheduler accepts jobs, runs one worker goroutine per job and keeps the
// bookkeeping needed to cancel them and to shut down cleanly.
type Scheduler struct {
	store    store.JobStore
	registry *Registry
	emitter  events.EventEmitter
	config   Config
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	workers    sync.WaitGroup
	background sync.WaitGroup

	mu      sync.Mutex
	active  map[uuid.UUID]context.CancelFunc
	started bool

	now   func() time.Time
	sleep SleepFunc
}

// NewScheduler creates a new Scheduler. Call Start to run background
// housekeeping and Stop to shut it down.
func NewScheduler(
	jobStore store.JobStore,
	registry *Registry,
	emitter events.EventEmitter,
	config Config,
	logger *slog.Logger,
) *Scheduler {
	if config.Owner == "" {
		config.Owner = defaultOwner()
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultConfig().LeaseTTL
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:      jobStore,
		registry:   registry,
		emitter:    emitter,
		config:     config,
		logger:     logger.With("component", "bulk_scheduler", "owner", config.Owner),
		ctx:        ctx,
		cancelFunc: cancel,
		active:     make(map[uuid.UUID]context.CancelFunc),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Start launches the janitor. Calling Start more than once has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.config.CleanupInterval <= 0 {
		s.started = true
		return
	}
	s.started = true
	s.background.Add(1)
	go s.janitor()
}

// Stop signals every worker to stop at its next item boundary and waits for
// them, bounded by ctx. Jobs interrupted this way keep their status and are
// picked up by the next ResumeManager run.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancelFunc()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// Wait blocks until no worker is running. It does not stop the scheduler.
func (s *Scheduler) Wait() {
	s.workers.Wait()
}

// Submit validates cfg, persists a new job with its queue and starts a worker
// for it in the background. The returned job reflects the submission; it does
// not wait for any item to be processed.
func (s *Scheduler) Submit(ctx context.Context, cfg domain.JobConfig) (*domain.Job, error) {
	cfg.Version = domain.JobConfigVersion
	if s.config.MaxItemsPerJob > 0 && len(cfg.Items) > s.config.MaxItemsPerJob {
		return nil, domain.NewValidationError("items",
			fmt.Sprintf("at most %d items per job", s.config.MaxItemsPerJob), nil)
	}
	if _, err := s.registry.Lookup(cfg.Category); err != nil {
		return nil, err
	}
	if s.ctx.Err() != nil {
		return nil, ErrSchedulerStopped
	}

	job, err := domain.NewJob(cfg, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// The job is stored from here on. A job that fails to launch stays
	// pending for the reclaim scan or the next start-up.
	if _, err := s.launch(job, false); err != nil {
		s.logger.Warn("job stored but worker not started, left for resume",
			"job_id", job.ID,
			"error", err)
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"category", job.Category,
		"total", job.Total,
		"total_batches", job.TotalBatches)
	return job, nil
}

// Cancel marks a job cancelled. A worker running it in this process is
// signalled and stops at its next item boundary; an in-flight producer call
// is allowed to finish.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := s.store.UpdateJob(ctx, id, domain.StatusUpdate(domain.JobStatusCancelled))
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %s", ErrJobFinished, id)
		}
		return nil, err
	}

	s.mu.Lock()
	if cancel, ok := s.active[id]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.logger.Info("job cancellation requested", "job_id", id)
	return job, nil
}

// Get returns a job and its queue in submitted order.
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*domain.Job, []domain.JobItem, error) {
	return s.store.GetJob(ctx, id)
}

// List returns the pending and running jobs.
func (s *Scheduler) List(ctx context.Context) ([]*domain.Job, error) {
	return s.store.ListRunningJobs(ctx)
}

// Delete removes a finished job. Active jobs must be cancelled first.
func (s *Scheduler) Delete(ctx context.Context, id uuid.UUID) error {
	job, _, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobActive, id, job.Status)
	}
	s.mu.Lock()
	_, running := s.active[id]
	s.mu.Unlock()
	if running {
		return fmt.Errorf("%w: %s is still stopping", ErrJobActive, id)
	}
	return s.store.DeleteJob(ctx, id)
}

// Active reports whether a worker for the job runs in this process.
func (s *Scheduler) Active(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// launch claims the job's lease and starts its worker. It returns false
// without error when the job already runs here or another live instance
// holds the lease.
func (s *Scheduler) launch(job *domain.Job, resumed bool) (bool, error) {
	producer, err := s.registry.Lookup(job.Category)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return false, ErrSchedulerStopped
	}
	if _, ok := s.active[job.ID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.active[job.ID] = cancel
	s.mu.Unlock()

	claimed, err := s.store.ClaimJob(s.ctx, job.ID, s.config.Owner, s.config.LeaseTTL)
	if err != nil || !claimed {
		s.release(job.ID, cancel)
		if err != nil {
			return false, fmt.Errorf("failed to claim job: %w", err)
		}
		return false, nil
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		s.release(job.ID, cancel)
		s.dropLease(job.ID)
		return false, ErrSchedulerStopped
	}
	s.workers.Add(1)
	s.mu.Unlock()

	maxRetries := job.Config.MaxRetries
	w := &worker{
		jobID:    job.ID,
		store:    s.store,
		producer: producer,
		retry: RetryPolicy{
			MaxRetries: maxRetries,
			BaseDelay:  s.config.RetryBaseDelay,
			Sleep:      s.sleep,
			OnRetry: func(attempt int, err error) {
				ev := events.NewJobEvent(events.ItemRetried, job.ID, string(job.Category))
				_ = s.emitter.EmitEvent(context.Background(), ev)
			},
		},
		emitter:  s.emitter,
		logger:   s.logger.With("job_id", job.ID, "category", job.Category),
		now:      s.now,
		sleep:    s.sleep,
		resumed:  resumed,
		owner:    s.config.Owner,
		leaseTTL: s.config.LeaseTTL,
		procCtx:  s.ctx,
		jobCtx:   jobCtx,
	}

	go func() {
		defer s.workers.Done()
		defer s.dropLease(job.ID)
		defer s.release(job.ID, cancel)

		if _, err := w.run(); err != nil {
			s.logger.Error("job worker failed", "job_id", job.ID, "error", err)
		}
	}()
	return true, nil
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "bulkgen"
	}
	return host
}

func (s *Scheduler) release(id uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	cancel()
}

func (s *Scheduler) dropLease(id uuid.UUID) {
	if err := s.store.ReleaseJob(context.Background(), id, s.config.Owner); err != nil &&
		!errors.Is(err, store.ErrJobNotFound) {
		s.logger.Warn("failed to release job lease", "job_id", id, "error", err)
	}
}
