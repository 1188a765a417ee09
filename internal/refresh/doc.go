// Package refresh drives the control panel's polling: a fixed stats ticker, a
// watcher that repolls when the current job changes, explicit refreshes, and
// the mutate-then-repoll chain that follows every queue action.
//
// Results are returned to the caller and also published to subscribers so
// push clients see the same state as the client that triggered it.
package refresh
