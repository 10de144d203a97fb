// Package bulk implements the bulk job scheduler.
//
// A job is an ordered list of items processed strictly one at a time, batch by
// batch, by the Producer registered for the job's category. Every item
// transition is persisted through a store.JobStore before the next item starts,
// which lets a job interrupted by a restart be resumed from its stored
// configuration without re-invoking the Producer for finished items.
//
// The main types are:
//   - Producer and Registry: category-specific item producers behind a rate limiter
//   - RetryPolicy: bounded exponential backoff around a single Producer call
//   - Scheduler: submission, cancellation, worker goroutines and the janitor
//   - ResumeManager: once-per-process recovery of interrupted jobs
package bulk
