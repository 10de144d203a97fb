// Package domain contains the core business entities of the bulk generation
// service: jobs, their queued items, the persisted job configuration that makes
// a job replayable, and the progress arithmetic derived from them. It is
// independent of any specific infrastructure or delivery mechanism.
package domain
