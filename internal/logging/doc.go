// Package logging assembles the structured slog loggers used across cadpipe.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes small attribute helpers so components tag log lines
// with project ids, versions, and run ids consistently. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
