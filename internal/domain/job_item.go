package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the processing state of one queued item
type ItemStatus string

// Possible item status values
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
)

// IsValid reports whether s is a known item status.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusCompleted,
		ItemStatusFailed, ItemStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the item has reached a final state.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed || s == ItemStatusSkipped
}

// CanTransitionTo reports whether an item may move from s to next. Items only
// move forward; processing may be re-entered after an interrupted run.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	if !next.IsValid() {
		return false
	}
	switch s {
	case ItemStatusPending:
		return true
	case ItemStatusProcessing:
		return next != ItemStatusPending
	default:
		return s == next
	}
}

// JobItem is one unit of work within a job.
type JobItem struct {
	JobID       uuid.UUID  `json:"job_id"`
	Name        string     `json:"name"`
	Position    int        `json:"position"`
	ExternalRef *int64     `json:"external_ref,omitempty"`
	Status      ItemStatus `json:"status"`
	Error       *string    `json:"error,omitempty"`
	ReviewID    *string    `json:"review_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJobItems builds the pending queue rows for a job, one per item in
// submitted order.
func NewJobItems(jobID uuid.UUID, items []Item, offset int, now time.Time) []JobItem {
	now = now.UTC()
	rows := make([]JobItem, 0, len(items))
	for i, item := range items {
		rows = append(rows, JobItem{
			JobID:       jobID,
			Name:        item.Name,
			Position:    offset + i,
			ExternalRef: item.ExternalRef,
			Status:      ItemStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return rows
}

// ItemUpdate is a partial update of a job item.
type ItemUpdate struct {
	Status   *ItemStatus
	Error    *string
	ReviewID *string
}

// Apply merges u into the item, rejecting backwards status moves.
func (i *JobItem) Apply(u ItemUpdate, now time.Time) error {
	if u.Status != nil {
		if !i.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: item %q cannot move from %s to %s",
				ErrInvalidStatusTransition, i.Name, i.Status, *u.Status)
		}
		i.Status = *u.Status
	}
	if u.Error != nil {
		i.Error = u.Error
	}
	if u.ReviewID != nil {
		i.ReviewID = u.ReviewID
	}
	i.UpdatedAt = now.UTC()
	return nil
}
