// Package logging assembles structured slog loggers for the CLI and daemon.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context-aware helpers that tag log lines with package and job identifiers,
// pass names, and correlation IDs. A no-op logger is provided for tests and
// wiring code that cannot fail.
package logging
