package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/events"
	"github.com/phrazzld/bulkgen/internal/platform/logger"
	"github.com/phrazzld/bulkgen/internal/redact"
	"github.com/phrazzld/bulkgen/internal/store"
)

// ErrSchedulerFault wraps failures of the worker loop itself, as opposed to
// failures of individual items.
var ErrSchedulerFault = errors.New("scheduler fault")

// stopReason tells why a worker loop returned.
type stopReason int

const (
	stopFinished stopReason = iota
	stopCancelled
	stopShutdown
	stopLeaseLost
)

func (r stopReason) String() string {
	switch r {
	case stopFinished:
		return "finished"
	case stopCancelled:
		return "cancelled"
	case stopShutdown:
		return "shutdown"
	case stopLeaseLost:
		return "lease_lost"
	default:
		return "unknown"
	}
}

// worker drives a single job from its current persisted state to a terminal
// status. One worker exists per running job; it is the only writer of the
// job's rows while it runs.
type worker struct {
	jobID    uuid.UUID
	store    store.JobStore
	producer Producer
	retry    RetryPolicy
	emitter  events.EventEmitter
	logger   *slog.Logger
	now      func() time.Time
	sleep    SleepFunc
	resumed  bool

	owner    string
	leaseTTL time.Duration

	// procCtx ends on process shutdown. jobCtx is its child and additionally
	// ends when the job is cancelled in this process.
	procCtx context.Context
	jobCtx  context.Context

	job        *domain.Job
	successful int
	failed     int
	skipped    int
}

// run processes the job and converts loop faults, including panics, into a
// failed job. Shutdown and cancellation leave the job status as it is.
func (w *worker) run() (reason stopReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSchedulerFault, r)
		}
		if err != nil {
			w.fail(err)
		}
	}()

	reason, err = w.process()
	if err != nil {
		return reason, fmt.Errorf("%w: %w", ErrSchedulerFault, err)
	}

	switch reason {
	case stopCancelled:
		w.logger.Info("job cancelled, worker stopped")
		w.emit(events.NewJobEvent(events.JobCancelled, w.jobID, string(w.job.Category)))
	case stopShutdown:
		w.logger.Info("worker stopped for shutdown, job left resumable")
		w.emitStopped(reason)
	case stopLeaseLost:
		w.logger.Warn("job lease taken over by another instance, worker stopped")
		w.emitStopped(reason)
	}
	return reason, nil
}

func (w *worker) process() (stopReason, error) {
	storeCtx := context.WithoutCancel(w.procCtx)

	job, rows, err := w.store.GetJob(storeCtx, w.jobID)
	if err != nil {
		return stopFinished, fmt.Errorf("failed to load job: %w", err)
	}
	w.job = job

	switch {
	case job.Status == domain.JobStatusCancelled:
		return stopCancelled, nil
	case job.Status.IsTerminal():
		w.logger.Info("job already finished, nothing to do", "status", job.Status)
		return stopFinished, nil
	}

	if err := job.Config.Validate(); err != nil {
		return stopFinished, fmt.Errorf("stored configuration cannot be replayed: %w", err)
	}

	if job.Status == domain.JobStatusPending {
		if err := w.update(storeCtx, domain.StatusUpdate(domain.JobStatusRunning)); err != nil {
			return stopFinished, fmt.Errorf("failed to mark job running: %w", err)
		}
	}

	eventType := events.JobStarted
	if w.resumed {
		eventType = events.JobResumed
	}
	w.emit(events.NewJobEvent(eventType, w.jobID, string(job.Category)))

	byName, err := w.reconcile(storeCtx, rows)
	if err != nil {
		return stopFinished, err
	}

	cfg := w.job.Config
	opts := ProduceOptions{Status: cfg.Status, SkipExisting: cfg.SkipExisting}
	batches := cfg.Batches()
	if len(batches) == 0 {
		return stopFinished, fmt.Errorf("job has %d items but no batches", len(cfg.Items))
	}

	w.logger.Info("processing job",
		"total", w.job.Total,
		"total_batches", len(batches),
		"processed", w.job.Processed,
		"resumed", w.resumed)

	for b, batch := range batches {
		batchNo := b + 1
		if allTerminal(batch, byName) {
			continue
		}
		if reason := w.checkpoint(); reason != stopFinished {
			return reason, nil
		}

		if batchNo > w.job.CurrentBatch {
			current := batchNo
			if err := w.update(storeCtx, domain.JobUpdate{CurrentBatch: &current}); err != nil {
				return stopFinished, fmt.Errorf("failed to record batch %d: %w", batchNo, err)
			}
		}

		for j, item := range batch {
			if reason := w.checkpoint(); reason != stopFinished {
				return reason, nil
			}

			row := byName[item.Name]
			if row.Status.IsTerminal() {
				continue
			}

			reason, final, err := w.processItem(storeCtx, item, j == 0, opts)
			if err != nil {
				return stopFinished, err
			}
			if reason != stopFinished {
				return reason, nil
			}
			row.Status = final
			byName[item.Name] = row

			if reason := w.renewLease(storeCtx); reason != stopFinished {
				return reason, nil
			}
		}

		if batchNo < len(batches) {
			if reason := w.pause(cfg.DelayBetweenBatches()); reason != stopFinished {
				return reason, nil
			}
		}
	}

	if reason := w.checkpoint(); reason != stopFinished {
		return reason, nil
	}

	if err := w.update(storeCtx, domain.StatusUpdate(domain.JobStatusCompleted)); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Cancelled between the last item and completion.
			return stopCancelled, nil
		}
		return stopFinished, fmt.Errorf("failed to mark job completed: %w", err)
	}

	ev := events.NewJobEvent(events.JobCompleted, w.jobID, string(w.job.Category))
	ev.Duration = w.now().Sub(w.job.StartTime)
	w.emit(ev)

	w.logger.Info("job completed",
		"successful", w.job.Successful,
		"failed", w.job.Failed,
		"skipped", w.job.Skipped,
		"duration", ev.Duration)
	return stopFinished, nil
}

// processItem runs one item through the producer and persists the outcome:
// first the item row, then the job counters. It returns the item's final
// status.
func (w *worker) processItem(
	storeCtx context.Context,
	item domain.Item,
	first bool,
	opts ProduceOptions,
) (stopReason, domain.ItemStatus, error) {
	log := w.logger.With("item", item.Name)

	processing := domain.ItemStatusProcessing
	if err := w.store.UpdateQueueItem(storeCtx, w.jobID, item.Name, domain.ItemUpdate{Status: &processing}); err != nil {
		return stopFinished, "", fmt.Errorf("failed to mark item %q processing: %w", item.Name, err)
	}

	if !first {
		if reason := w.pause(w.job.Config.DelayBetweenItems()); reason != stopFinished {
			return reason, processing, nil
		}
	}

	start := w.now()
	produceCtx := logger.WithLogger(w.procCtx, log)
	result, attempts, perr := w.retry.Do(produceCtx, func(ctx context.Context) (ProduceResult, error) {
		return w.producer.Produce(ctx, item, opts)
	})
	if w.procCtx.Err() != nil {
		// Interrupted mid-item; the row stays processing and is re-driven on resume.
		return stopShutdown, processing, nil
	}
	if perr == nil && result.ReviewID == "" {
		perr = ErrNoOutput
	}
	took := w.now().Sub(start)

	var (
		itemUpdate domain.ItemUpdate
		jobUpdate  domain.JobUpdate
		final      domain.ItemStatus
	)
	switch Classify(perr) {
	case OutcomeSuccess:
		final = domain.ItemStatusCompleted
		w.successful++
		reviewID := result.ReviewID
		itemUpdate = domain.ItemUpdate{Status: &final, ReviewID: &reviewID}
		jobUpdate = domain.Counts(w.successful, w.failed, w.skipped)
		jobUpdate.AppendReviews = []domain.ReviewRef{{
			ID:          result.ReviewID,
			Title:       result.Title,
			Slug:        result.Slug,
			ExternalRef: item.ExternalRef,
		}}
		log.Info("item completed", "review_id", result.ReviewID, "attempts", attempts)
	case OutcomeAlreadyExists:
		final = domain.ItemStatusSkipped
		w.skipped++
		msg := domain.ErrAlreadyExists.Error()
		itemUpdate = domain.ItemUpdate{Status: &final, Error: &msg}
		jobUpdate = domain.Counts(w.successful, w.failed, w.skipped)
		log.Info("item skipped, output already exists")
	default:
		final = domain.ItemStatusFailed
		w.failed++
		msg := redact.Error(perr)
		itemUpdate = domain.ItemUpdate{Status: &final, Error: &msg}
		jobUpdate = domain.Counts(w.successful, w.failed, w.skipped)
		jobUpdate.AppendErrors = []domain.ItemError{{Item: item.Name, Error: msg}}
		log.Warn("item failed", "error", perr, "attempts", attempts)
	}

	if err := w.store.UpdateQueueItem(storeCtx, w.jobID, item.Name, itemUpdate); err != nil {
		return stopFinished, "", fmt.Errorf("failed to record item %q: %w", item.Name, err)
	}
	if err := w.update(storeCtx, jobUpdate); err != nil {
		return stopFinished, "", fmt.Errorf("failed to record progress after %q: %w", item.Name, err)
	}

	w.emit(events.NewJobEvent(events.ItemFinished, w.jobID, string(w.job.Category)).
		WithItem(item.Name, string(final), took))
	return stopFinished, final, nil
}

// reconcile indexes the queue rows by name, recreates rows missing for
// configured items and aligns the running counters with the terminal rows.
// Item rows are written before job counters, so after a crash between the two
// writes the rows are the more recent record.
func (w *worker) reconcile(ctx context.Context, rows []domain.JobItem) (map[string]domain.JobItem, error) {
	byName := make(map[string]domain.JobItem, len(rows))
	var successful, failed, skipped int
	for _, row := range rows {
		byName[row.Name] = row
		switch row.Status {
		case domain.ItemStatusCompleted:
			successful++
		case domain.ItemStatusFailed:
			failed++
		case domain.ItemStatusSkipped:
			skipped++
		}
	}

	var missing []domain.Item
	for _, item := range w.job.Config.Items {
		if _, ok := byName[item.Name]; !ok {
			missing = append(missing, item)
		}
	}
	if len(missing) > 0 {
		w.logger.Warn("restoring missing queue rows", "count", len(missing))
		if err := w.store.AddToQueue(ctx, w.jobID, missing); err != nil {
			return nil, fmt.Errorf("failed to restore queue rows: %w", err)
		}
		for _, row := range domain.NewJobItems(w.jobID, missing, len(rows), w.now()) {
			byName[row.Name] = row
		}
	}

	w.successful, w.failed, w.skipped = w.job.Successful, w.job.Failed, w.job.Skipped
	if successful != w.successful || failed != w.failed || skipped != w.skipped {
		w.logger.Warn("job counters disagree with item rows, using item rows",
			"job_successful", w.successful, "rows_successful", successful,
			"job_failed", w.failed, "rows_failed", failed,
			"job_skipped", w.skipped, "rows_skipped", skipped)
		w.successful, w.failed, w.skipped = successful, failed, skipped
		if err := w.update(ctx, domain.Counts(successful, failed, skipped)); err != nil {
			return nil, fmt.Errorf("failed to reconcile counters: %w", err)
		}
	}
	return byName, nil
}

// checkpoint is evaluated at every item boundary.
func (w *worker) checkpoint() stopReason {
	if w.procCtx.Err() != nil {
		return stopShutdown
	}
	if w.jobCtx.Err() != nil || w.job.Status == domain.JobStatusCancelled {
		return stopCancelled
	}
	return stopFinished
}

// pause sleeps for d unless the job is cancelled or the process shuts down.
func (w *worker) pause(d time.Duration) stopReason {
	if d <= 0 {
		return stopFinished
	}
	if err := w.sleep(w.jobCtx, d); err != nil {
		if reason := w.checkpoint(); reason != stopFinished {
			return reason
		}
		return stopShutdown
	}
	return stopFinished
}

func (w *worker) renewLease(ctx context.Context) stopReason {
	if w.owner == "" {
		return stopFinished
	}
	ok, err := w.store.ClaimJob(ctx, w.jobID, w.owner, w.leaseTTL)
	if err != nil {
		w.logger.Error("failed to renew job lease", "error", err)
		return stopFinished
	}
	if !ok {
		return stopLeaseLost
	}
	return stopFinished
}

func (w *worker) update(ctx context.Context, u domain.JobUpdate) error {
	job, err := w.store.UpdateJob(ctx, w.jobID, u)
	if err != nil {
		return err
	}
	w.job = job
	return nil
}

// emitStopped reports a worker that left its job unfinished and resumable.
func (w *worker) emitStopped(reason stopReason) {
	ev := events.NewJobEvent(events.JobStopped, w.jobID, string(w.job.Category))
	ev.Outcome = reason.String()
	w.emit(ev)
}

// fail marks the job failed after a loop fault.
func (w *worker) fail(cause error) {
	w.logger.Error("worker loop failed, marking job failed", "error", cause)

	ctx := context.WithoutCancel(w.procCtx)
	u := domain.StatusUpdate(domain.JobStatusFailed)
	u.AppendErrors = []domain.ItemError{{Error: cause.Error()}}
	if err := w.update(ctx, u); err != nil {
		w.logger.Error("failed to mark job failed", "error", err)
		return
	}

	category := ""
	if w.job != nil {
		category = string(w.job.Category)
	}
	w.emit(events.NewJobEvent(events.JobFailed, w.jobID, category))
}

func (w *worker) emit(ev *events.JobEvent) {
	if err := w.emitter.EmitEvent(context.WithoutCancel(w.procCtx), ev); err != nil {
		w.logger.Warn("failed to emit job event", "event_type", ev.Type, "error", err)
	}
}

func allTerminal(batch []domain.Item, byName map[string]domain.JobItem) bool {
	for _, item := range batch {
		if !byName[item.Name].Status.IsTerminal() {
			return false
		}
	}
	return true
}
