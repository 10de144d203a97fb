package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the scheduler.
const (
	JobStarted    = "job.started"
	JobResumed    = "job.resumed"
	JobCompleted  = "job.completed"
	JobFailed     = "job.failed"
	JobCancelled  = "job.cancelled"
	JobStopped    = "job.stopped"
	ItemFinished  = "item.finished"
	ItemRetried   = "item.retried"
	JobsCleanedUp = "jobs.cleaned_up"
)

// JobEvent describes one step in a job's lifecycle.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the event type constants above
	Type string `json:"type"`

	JobID    uuid.UUID `json:"job_id"`
	Category string    `json:"category"`

	// Item and Outcome are set for item events. Outcome is the final item
	// status (completed, skipped or failed). For job.stopped, Outcome is why
	// the worker stopped (shutdown or lease_lost).
	Item    string `json:"item,omitempty"`
	Outcome string `json:"outcome,omitempty"`

	// Count carries a quantity for aggregate events such as cleanups.
	Count int64 `json:"count,omitempty"`

	// Duration is how long the item or job took, when known.
	Duration time.Duration `json:"duration,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates a JobEvent of the given type for a job.
func NewJobEvent(eventType string, jobID uuid.UUID, category string) *JobEvent {
	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     jobID,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
}

// WithItem returns the event annotated with an item outcome.
func (e *JobEvent) WithItem(name, outcome string, took time.Duration) *JobEvent {
	e.Item = name
	e.Outcome = outcome
	e.Duration = took
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *JobEvent) error { return nil }
