// Package api is the application facade shared by the CLI and the daemon.
//
// Open wires the store, the package lifecycle, the batch publisher, the
// feedback checker and the pass scheduler around one configuration. The
// Service methods translate store models into transport-friendly views that
// the CLI renders as tables or JSON without reaching into internal types.
//
// # Key Types
//
// PackageView: one package with its stored validation errors.
//
// JobView: one job with its member package identifiers.
//
// StatusSummary: counts per status, readiness checks and queue depth.
//
// # Design Notes
//
// Views use snake_case JSON tags matching the status names in the store.
// Timestamps are RFC3339 in UTC.
package api
