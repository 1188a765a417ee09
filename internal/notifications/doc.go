// Package notifications publishes job outcomes to ntfy.
//
// NewService returns a no-op Service when no topic is configured, so callers
// never need to check whether notifications are enabled. Each event kind can
// be switched off individually in the [notifications] config section.
package notifications
