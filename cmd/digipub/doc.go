// Command digipub is the operator CLI: it scans and validates packages,
// manages jobs, runs the feedback checks, and reports status.
package main
