// Package feedback reacts to downstream confirmation: partner visibility,
// aggregator reports, job rollup and catalog confirmation. Each check is a
// sweep over the store that is safe to rerun.
package feedback
