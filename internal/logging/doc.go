// Package logging assembles structured slog loggers and formatting helpers used
// across studio services.
//
// It owns the console and JSON handlers, routes file output through a rotating
// writer, and exposes context-aware helpers so request handlers and the job
// runner can tag log lines with job and correlation IDs. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
