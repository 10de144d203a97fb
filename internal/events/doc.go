// Package events provides job lifecycle events and a simple dispatcher.
//
// The scheduler emits an event whenever a job starts, resumes, finishes an item,
// completes, fails or is cancelled. Handlers such as the metrics collector
// subscribe to these events without the scheduler knowing about them.
//
// The primary components are:
// - JobEvent: a single lifecycle notification
// - EventHandler: interface for components that consume events
// - EventEmitter: interface for components that publish events
package events
