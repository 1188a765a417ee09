// Package queuestatus turns the job queue's state into display rows and
// aggregate counts for the control panel.
//
// A Reconciler never mutates the queue. Every poll is an independent read, so
// concurrent triggers need no coordination.
package queuestatus
