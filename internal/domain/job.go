package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a bulk job
type JobStatus string

// Possible job status values
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrInvalidStatusTransition is returned when a status change would move a job
// or an item backwards in its lifecycle.
var ErrInvalidStatusTransition = errors.New("invalid status transition")

// IsValid reports whether s is a known job status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further processing happens in status s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsResumable reports whether a job left in status s should be restarted after
// a process restart. Cancelled jobs are never revived.
func (s JobStatus) IsResumable() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// CanTransitionTo reports whether a job may move from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case JobStatusPending:
		return true
	case JobStatusRunning:
		return next != JobStatusPending
	default:
		return false
	}
}

// ItemError records why a single item failed.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// ReviewRef is a reference to one successfully produced review.
type ReviewRef struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	ExternalRef *int64 `json:"external_ref,omitempty"`
}

// Job is the persisted aggregate state of one bulk run.
type Job struct {
	ID       uuid.UUID `json:"id"`
	Category Category  `json:"category"`
	Status   JobStatus `json:"status"`

	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`

	CurrentBatch int `json:"current_batch"`
	TotalBatches int `json:"total_batches"`

	StartTime time.Time `json:"start_time"`
	// EstimatedTimeRemaining is in seconds; nil until at least one item is processed.
	EstimatedTimeRemaining *int64     `json:"estimated_time_remaining,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`

	Config  JobConfig   `json:"config"`
	Errors  []ItemError `json:"errors"`
	Reviews []ReviewRef `json:"reviews"`

	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a pending job for the given configuration. The configuration is
// validated and the batch count derived from it.
func NewJob(cfg JobConfig, now time.Time) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now = now.UTC()
	job := &Job{
		ID:           uuid.New(),
		Category:     cfg.Category,
		Status:       JobStatusPending,
		Total:        len(cfg.Items),
		TotalBatches: cfg.TotalBatches(),
		StartTime:    now,
		Config:       cfg,
		Errors:       []ItemError{},
		Reviews:      []ReviewRef{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return job, nil
}

// Validate checks the job's counters and identity.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if !j.Status.IsValid() {
		return ErrInvalidJobStatus
	}
	if j.Processed < 0 || j.Successful < 0 || j.Failed < 0 || j.Skipped < 0 {
		return NewValidationError("counters", "cannot be negative", nil)
	}
	if j.Processed != j.Successful+j.Failed+j.Skipped {
		return NewValidationError("processed",
			fmt.Sprintf("must equal successful+failed+skipped (%d != %d+%d+%d)",
				j.Processed, j.Successful, j.Failed, j.Skipped), nil)
	}
	if j.Processed > j.Total {
		return NewValidationError("processed", "cannot exceed total", nil)
	}
	return nil
}

// JobUpdate is a partial update of a job. Nil fields are left untouched;
// errors and reviews are appended.
type JobUpdate struct {
	Status       *JobStatus
	Processed    *int
	Successful   *int
	Failed       *int
	Skipped      *int
	CurrentBatch *int

	AppendErrors  []ItemError
	AppendReviews []ReviewRef
}

// Counts builds an update carrying all four counters with processed derived
// from the other three.
func Counts(successful, failed, skipped int) JobUpdate {
	processed := successful + failed + skipped
	return JobUpdate{
		Processed:  &processed,
		Successful: &successful,
		Failed:     &failed,
		Skipped:    &skipped,
	}
}

// StatusUpdate builds an update that only changes the job status.
func StatusUpdate(status JobStatus) JobUpdate {
	return JobUpdate{Status: &status}
}

// Apply merges u into the job. It enforces forward-only status transitions and a
// non-decreasing batch cursor, recomputes the ETA when progress or status
// changes, and stamps the completion time on terminal statuses.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	now = now.UTC()
	statusChanged := false
	processedChanged := false

	if u.Status != nil && *u.Status != j.Status {
		if !j.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: job %s cannot move from %s to %s",
				ErrInvalidStatusTransition, j.ID, j.Status, *u.Status)
		}
		j.Status = *u.Status
		statusChanged = true
	}

	if u.CurrentBatch != nil {
		if *u.CurrentBatch < j.CurrentBatch {
			return NewValidationError("current_batch",
				fmt.Sprintf("cannot regress from %d to %d", j.CurrentBatch, *u.CurrentBatch), nil)
		}
		j.CurrentBatch = *u.CurrentBatch
	}

	if u.Successful != nil {
		j.Successful = *u.Successful
	}
	if u.Failed != nil {
		j.Failed = *u.Failed
	}
	if u.Skipped != nil {
		j.Skipped = *u.Skipped
	}
	if u.Processed != nil && *u.Processed != j.Processed {
		j.Processed = *u.Processed
		processedChanged = true
	}

	j.Errors = append(j.Errors, u.AppendErrors...)
	j.Reviews = append(j.Reviews, u.AppendReviews...)

	if err := j.Validate(); err != nil {
		return err
	}

	if processedChanged || statusChanged {
		j.RecomputeETA(now)
	}
	if statusChanged && j.Status.IsTerminal() {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of the job. Stores apply updates to a clone so a
// rejected update never leaks into the stored value.
func (j *Job) Clone() *Job {
	c := *j
	c.Errors = append(make([]ItemError, 0, len(j.Errors)), j.Errors...)
	c.Reviews = append(make([]ReviewRef, 0, len(j.Reviews)), j.Reviews...)
	c.Config.Items = append(make([]Item, 0, len(j.Config.Items)), j.Config.Items...)
	if j.EstimatedTimeRemaining != nil {
		eta := *j.EstimatedTimeRemaining
		c.EstimatedTimeRemaining = &eta
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}
