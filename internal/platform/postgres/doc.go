// Package postgres implements the job and review stores defined in
// internal/store on top of PostgreSQL, and owns the embedded goose
// migrations that create their schema.
package postgres
