// Package logs reads the daemon's JSON log file for `studio logs`.
//
// Tail returns the last N lines or everything past a byte offset, and can
// block briefly in follow mode until new lines arrive. ParseEntry decodes a
// single line into an Entry so callers can filter by job, level or component
// and render it in the same shape the console handler prints.
package logs
