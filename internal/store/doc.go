// Package store persists packages, jobs, and validation errors in SQLite.
//
// The database lives at {state_dir}/digipub.db. Schema changes bump
// schemaVersion; an existing database with a different version is refused
// rather than migrated.
package store
