// Package services defines shared utilities consumed by the pipeline passes
// and the external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp package IDs, job IDs, pass names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures so
//     the publisher can tell a retryable upload error from a permanent one.
//
// Collaborator clients (catalog, pid, partner, aggregator) should wrap their
// failures with these markers so retry decisions stay uniform.
package services
