package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/platform/logger"
	"github.com/phrazzld/bulkgen/internal/store"
)

const jobColumns = `id, category, status, total, processed, successful, failed, skipped,
	current_batch, total_batches, start_time, estimated_time_remaining, completed_at,
	config, errors, reviews, lease_owner, lease_expires_at, created_at, updated_at`

const itemColumns = `job_id, name, position, external_ref, status, error, review_id, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db, now: time.Now}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateJob implements store.JobStore.CreateJob.
// The job row and its queue rows are written in one transaction.
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	cfg, err := domain.MarshalConfig(job.Config)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	errs, reviews, err := encodeResults(job)
	if err != nil {
		return err
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			job.ID, job.Category, job.Status, job.Total, job.Processed, job.Successful,
			job.Failed, job.Skipped, job.CurrentBatch, job.TotalBatches, job.StartTime,
			job.EstimatedTimeRemaining, job.CompletedAt, cfg, errs, reviews,
			nullString(job.LeaseOwner), job.LeaseExpiresAt, job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			log.Error("failed to insert job",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
			return MapError(err, store.ErrJobNotFound)
		}
		return insertItems(ctx, tx, domain.NewJobItems(job.ID, job.Config.Items, 0, job.CreatedAt))
	})
}

// GetJob implements store.JobStore.GetJob.
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, []domain.JobItem, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, nil, MapError(err, store.ErrJobNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM job_items WHERE job_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query job items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []domain.JobItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating job item rows: %w", err)
	}
	return job, items, nil
}

// UpdateJob implements store.JobStore.UpdateJob.
// The row is locked, the update applied in memory with the domain rules and
// written back, so concurrent writers cannot interleave.
func (s *PostgresJobStore) UpdateJob(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (*domain.Job, error) {
	var updated *domain.Job
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return MapError(err, store.ErrJobNotFound)
		}
		if err := job.Apply(update, s.now()); err != nil {
			return err
		}
		errs, reviews, err := encodeResults(job)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $2, processed = $3, successful = $4, failed = $5, skipped = $6,
				current_batch = $7, estimated_time_remaining = $8, completed_at = $9,
				errors = $10, reviews = $11, updated_at = $12
			WHERE id = $1`,
			id, job.Status, job.Processed, job.Successful, job.Failed, job.Skipped,
			job.CurrentBatch, job.EstimatedTimeRemaining, job.CompletedAt,
			errs, reviews, job.UpdatedAt,
		)
		if err != nil {
			return MapError(err, store.ErrJobNotFound)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateQueueItem implements store.JobStore.UpdateQueueItem.
func (s *PostgresJobStore) UpdateQueueItem(ctx context.Context, jobID uuid.UUID, name string, update domain.ItemUpdate) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM job_items WHERE job_id = $1 AND name = $2 FOR UPDATE`,
			jobID, name))
		if err != nil {
			return MapError(err, store.ErrJobItemNotFound)
		}
		if err := item.Apply(update, s.now()); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE job_items
			SET status = $3, error = $4, review_id = $5, updated_at = $6
			WHERE job_id = $1 AND name = $2`,
			jobID, name, item.Status, item.Error, item.ReviewID, item.UpdatedAt,
		)
		return MapError(err, store.ErrJobItemNotFound)
	})
}

// AddToQueue implements store.JobStore.AddToQueue.
func (s *PostgresJobStore) AddToQueue(ctx context.Context, jobID uuid.UUID, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&locked); err != nil {
			return MapError(err, store.ErrJobNotFound)
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM job_items WHERE job_id = $1`, jobID).Scan(&next); err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		return insertItems(ctx, tx, domain.NewJobItems(jobID, items, next, s.now()))
	})
}

// ListRunningJobs implements store.JobStore.ListRunningJobs.
func (s *PostgresJobStore) ListRunningJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN ($1, $2) ORDER BY created_at`,
		domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// DeleteJob implements store.JobStore.DeleteJob. Queue rows go with the job
// through the foreign key cascade.
func (s *PostgresJobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return MapError(err, store.ErrJobNotFound)
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// CleanupOldJobs implements store.JobStore.CleanupOldJobs.
func (s *PostgresJobStore) CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND COALESCE(completed_at, updated_at) < $3`,
		domain.JobStatusCompleted, domain.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		logger.FromContext(ctx).Info("deleted old jobs",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// ClaimJob implements store.JobStore.ClaimJob.
func (s *PostgresJobStore) ClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET lease_owner = $2, lease_expires_at = $3
		WHERE id = $1
			AND (lease_owner IS NULL OR lease_owner = $2 OR lease_expires_at IS NULL OR lease_expires_at <= $4)`,
		id, owner, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return false, store.ErrJobNotFound
	}
	return false, nil
}

// ReleaseJob implements store.JobStore.ReleaseJob.
func (s *PostgresJobStore) ReleaseJob(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2`, id, owner)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, items []domain.JobItem) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare job item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.JobID, it.Name, it.Position, it.ExternalRef,
			it.Status, it.Error, it.ReviewID, it.CreatedAt, it.UpdatedAt); err != nil {
			return MapError(err, store.ErrJobItemNotFound)
		}
	}
	return nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		eta                  sql.NullInt64
		completedAt, leaseAt sql.NullTime
		leaseOwner           sql.NullString
		cfg, errs, reviews   []byte
	)
	err := row.Scan(&job.ID, &job.Category, &job.Status, &job.Total, &job.Processed,
		&job.Successful, &job.Failed, &job.Skipped, &job.CurrentBatch, &job.TotalBatches,
		&job.StartTime, &eta, &completedAt, &cfg, &errs, &reviews, &leaseOwner, &leaseAt,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if job.Config, err = domain.UnmarshalConfig(cfg); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(errs, &job.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode job errors: %w", err)
	}
	if err := json.Unmarshal(reviews, &job.Reviews); err != nil {
		return nil, fmt.Errorf("failed to decode job reviews: %w", err)
	}
	if job.Errors == nil {
		job.Errors = []domain.ItemError{}
	}
	if job.Reviews == nil {
		job.Reviews = []domain.ReviewRef{}
	}
	if eta.Valid {
		job.EstimatedTimeRemaining = &eta.Int64
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	if leaseAt.Valid {
		t := leaseAt.Time.UTC()
		job.LeaseExpiresAt = &t
	}
	job.LeaseOwner = leaseOwner.String
	return &job, nil
}

func scanItem(row rowScanner) (*domain.JobItem, error) {
	var (
		item          domain.JobItem
		ref           sql.NullInt64
		itemErr, rvID sql.NullString
	)
	if err := row.Scan(&item.JobID, &item.Name, &item.Position, &ref, &item.Status,
		&itemErr, &rvID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	if ref.Valid {
		item.ExternalRef = &ref.Int64
	}
	if itemErr.Valid {
		item.Error = &itemErr.String
	}
	if rvID.Valid {
		item.ReviewID = &rvID.String
	}
	return &item, nil
}

func encodeResults(job *domain.Job) ([]byte, []byte, error) {
	errs := job.Errors
	if errs == nil {
		errs = []domain.ItemError{}
	}
	reviews := job.Reviews
	if reviews == nil {
		reviews = []domain.ReviewRef{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode job errors: %w", err)
	}
	reviewsJSON, err := json.Marshal(reviews)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode job reviews: %w", err)
	}
	return errsJSON, reviewsJSON, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
