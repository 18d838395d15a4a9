// Package publisher drives the job state machine and publishes batches to
// the preservation partner.
//
// Entering ready_for_aggregator sends the batch's records to the
// aggregator. Entering ready_for_partner or retry starts a publication run:
// the first pass mints identifiers and builds archives, then every pass
// uploads each pending package once. Passes repeat, with a delay, while any
// package is in retry and the attempt bound allows. The attempt counter is
// held in memory only and starts from zero in a new process.
package publisher
