// Package daemon hosts the long-running digipub process: it enforces a
// single instance with a file lock, starts the pass scheduler and, when a
// redis queue is configured, the publish task worker.
package daemon
