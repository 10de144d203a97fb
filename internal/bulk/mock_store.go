package bulk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/store"
)

// ItemTransition records one status change of a queue item.
type ItemTransition struct {
	JobID  uuid.UUID
	Name   string
	Status domain.ItemStatus
}

// MockJobStore implements store.JobStore in memory. It follows the same
// semantics as the PostgreSQL store and additionally records every job
// snapshot and item transition so tests can check invariants over a run.
type MockJobStore struct {
	mutex sync.RWMutex
	jobs  map[uuid.UUID]*domain.Job
	items map[uuid.UUID][]domain.JobItem

	snapshots   []domain.Job
	transitions []ItemTransition

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time

	// UpdateJobHook, if set, runs before every UpdateJob. A non-nil error is
	// returned to the caller and the update is not applied.
	UpdateJobHook func(id uuid.UUID, update domain.JobUpdate) error

	// UpdateItemHook, if set, runs before every UpdateQueueItem.
	UpdateItemHook func(jobID uuid.UUID, name string, update domain.ItemUpdate) error
}

var _ store.JobStore = (*MockJobStore)(nil)

// NewMockJobStore creates an empty MockJobStore.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:  make(map[uuid.UUID]*domain.Job),
		items: make(map[uuid.UUID][]domain.JobItem),
		Now:   time.Now,
	}
}

// CreateJob stores a copy of job and one pending row per configured item.
func (s *MockJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicate
	}
	s.jobs[job.ID] = job.Clone()
	s.items[job.ID] = domain.NewJobItems(job.ID, job.Config.Items, 0, s.Now())
	return nil
}

// GetJob returns copies of the job and its items in submitted order.
func (s *MockJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, []domain.JobItem, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil, store.ErrJobNotFound
	}
	items := append(make([]domain.JobItem, 0, len(s.items[id])), s.items[id]...)
	return job.Clone(), items, nil
}

// UpdateJob applies update to a clone and swaps it in on success.
func (s *MockJobStore) UpdateJob(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (*domain.Job, error) {
	if s.UpdateJobHook != nil {
		if err := s.UpdateJobHook(id, update); err != nil {
			return nil, err
		}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	next := job.Clone()
	if err := next.Apply(update, s.Now()); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	s.snapshots = append(s.snapshots, *next.Clone())
	return next.Clone(), nil
}

// UpdateQueueItem applies update to the named item.
func (s *MockJobStore) UpdateQueueItem(ctx context.Context, jobID uuid.UUID, name string, update domain.ItemUpdate) error {
	if s.UpdateItemHook != nil {
		if err := s.UpdateItemHook(jobID, name, update); err != nil {
			return err
		}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows := s.items[jobID]
	for i := range rows {
		if rows[i].Name != name {
			continue
		}
		item := rows[i]
		if err := item.Apply(update, s.Now()); err != nil {
			return err
		}
		rows[i] = item
		if update.Status != nil {
			s.transitions = append(s.transitions, ItemTransition{JobID: jobID, Name: name, Status: *update.Status})
		}
		return nil
	}
	return store.ErrJobItemNotFound
}

// AddToQueue appends pending rows after the existing ones.
func (s *MockJobStore) AddToQueue(ctx context.Context, jobID uuid.UUID, items []domain.Item) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return store.ErrJobNotFound
	}
	rows := s.items[jobID]
	seen := make(map[string]bool, len(rows)+len(items))
	for _, r := range rows {
		seen[r.Name] = true
	}
	for _, it := range items {
		if seen[it.Name] {
			return fmt.Errorf("%w: item %q", store.ErrDuplicate, it.Name)
		}
		seen[it.Name] = true
	}
	s.items[jobID] = append(rows, domain.NewJobItems(jobID, items, len(rows), s.Now())...)
	return nil
}

// ListRunningJobs returns pending and running jobs, oldest first.
func (s *MockJobStore) ListRunningJobs(ctx context.Context) ([]*domain.Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*domain.Job
	for _, job := range s.jobs {
		if job.Status.IsResumable() {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteJob removes a job and its items.
func (s *MockJobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return store.ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.items, id)
	return nil
}

// CleanupOldJobs removes completed and failed jobs that finished before now-retention.
func (s *MockJobStore) CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := s.Now().Add(-retention)
	var removed int64
	for id, job := range s.jobs {
		if job.Status != domain.JobStatusCompleted && job.Status != domain.JobStatusFailed {
			continue
		}
		finished := job.UpdatedAt
		if job.CompletedAt != nil {
			finished = *job.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// ClaimJob takes or renews the lease on a job.
func (s *MockJobStore) ClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, store.ErrJobNotFound
	}
	now := s.Now()
	if job.LeaseOwner != "" && job.LeaseOwner != owner &&
		job.LeaseExpiresAt != nil && job.LeaseExpiresAt.After(now) {
		return false, nil
	}
	expires := now.Add(ttl)
	job.LeaseOwner = owner
	job.LeaseExpiresAt = &expires
	return true, nil
}

// ReleaseJob drops owner's lease.
func (s *MockJobStore) ReleaseJob(ctx context.Context, id uuid.UUID, owner string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.LeaseOwner == owner {
		job.LeaseOwner = ""
		job.LeaseExpiresAt = nil
	}
	return nil
}

// Put stores job and items verbatim, bypassing validation. Tests use it to
// stage a job as a previous process left it.
func (s *MockJobStore) Put(job *domain.Job, items []domain.JobItem) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.jobs[job.ID] = job.Clone()
	s.items[job.ID] = append(make([]domain.JobItem, 0, len(items)), items...)
}

// Snapshots returns every job state written by UpdateJob, in order.
func (s *MockJobStore) Snapshots(jobID uuid.UUID) []domain.Job {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []domain.Job
	for _, snap := range s.snapshots {
		if snap.ID == jobID {
			out = append(out, snap)
		}
	}
	return out
}

// Transitions returns every item status change of a job, in order.
func (s *MockJobStore) Transitions(jobID uuid.UUID) []ItemTransition {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []ItemTransition
	for _, tr := range s.transitions {
		if tr.JobID == jobID {
			out = append(out, tr)
		}
	}
	return out
}
