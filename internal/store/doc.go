// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the scheduler, so the job lifecycle stays independent of specific
// database technologies or persistence details.
package store
