// Package logs reads the daemon log for the CLI: the trailing window of a
// file, lines appended after a saved offset, and a follow loop that polls for
// new output until its context ends. Term filters narrow output to one
// package, job or pass without loading the whole file.
package logs
