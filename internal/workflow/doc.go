// Package workflow schedules the daemon's periodic passes.
//
// A Manager owns a cron scheduler and a set of named passes (scan, partner
// visibility, aggregator report, job rollup, catalog confirmation). Every
// run, scheduled or manual, takes a per-pass file lock under the state
// directory so a CLI invocation and the daemon never run the same pass at
// once. Each run carries a fresh correlation id and its outcome is kept for
// status reporting.
package workflow
