package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/domain"
)

// JobStore defines the interface for bulk job persistence.
// Each job's rows have a single writer at a time, so implementations only need
// safe per-row updates; no cross-job coordination is required.
// Version: 1.0
type JobStore interface {
	// CreateJob saves a new job together with one pending queue row per item
	// in job.Config.Items.
	// Returns ErrDuplicate if a job with the same ID exists.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job and its queue rows in submitted order.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, []domain.JobItem, error)

	// UpdateJob applies a partial update and returns the resulting job.
	// The ETA is recomputed when progress or status changes and a completion
	// time is stamped on terminal statuses.
	// Returns ErrJobNotFound if the job does not exist and
	// domain.ErrInvalidStatusTransition if the status would move backwards.
	UpdateJob(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (*domain.Job, error)

	// UpdateQueueItem applies a partial update to the item named name.
	// Returns ErrJobItemNotFound if no such item exists in the job and
	// domain.ErrInvalidStatusTransition if the status would move backwards.
	UpdateQueueItem(ctx context.Context, jobID uuid.UUID, name string, update domain.ItemUpdate) error

	// AddToQueue appends pending queue rows for items after the existing ones.
	// Returns ErrDuplicate if an item name already exists in the job.
	AddToQueue(ctx context.Context, jobID uuid.UUID, items []domain.Item) error

	// ListRunningJobs returns every job whose status is pending or running,
	// oldest first.
	ListRunningJobs(ctx context.Context) ([]*domain.Job, error)

	// DeleteJob removes a job and its queue rows.
	// Returns ErrJobNotFound if the job does not exist.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// CleanupOldJobs purges completed and failed jobs that finished more than
	// retention ago and returns how many were removed.
	CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error)

	// ClaimJob takes or renews the advisory lease on a job for owner. It
	// succeeds when the job is unleased, the lease expired, or owner already
	// holds it.
	ClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (bool, error)

	// ReleaseJob drops owner's lease on a job. Releasing a lease held by
	// someone else is a no-op.
	ReleaseJob(ctx context.Context, id uuid.UUID, owner string) error
}

// ReviewStore defines the interface for persisting produced reviews.
// Version: 1.0
type ReviewStore interface {
	// Create saves a new review.
	// Returns ErrReviewExists if a review with the same slug exists.
	Create(ctx context.Context, review *domain.Review) error

	// GetBySlug retrieves a review by its slug.
	// Returns ErrReviewNotFound if the review does not exist.
	GetBySlug(ctx context.Context, slug string) (*domain.Review, error)

	// ExistsBySlug reports whether a review with the slug exists.
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
}
