// Package lifecycle owns a package's validation run and the ingest scan that
// discovers new package directories.
//
// Validate always re-derives a package's status from scratch: it clears the
// stored errors, evaluates rights from the on-disk record, runs the
// technical checks, and marks the package valid only when nothing was found.
// Scan walks the ingest root, records moved packages, and creates, records
// and validates every new directory, isolating per-directory failures.
package lifecycle
