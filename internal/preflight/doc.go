// Package preflight provides readiness checks for the directories and
// collaborators digipub depends on.
//
// The daemon runs RunAll at startup and logs every failing check; the CLI
// status command renders the same results. Checks never mutate anything and
// a failed check does not stop the daemon.
package preflight
