// Package jobqueue persists generation jobs in SQLite and owns the single
// in-flight "current job" cell.
//
// The Store handles database connections, schema initialization and row
// mapping. Queue layers the collaborator contract the control panel polls on
// top of it: job listing, pending positions, a mutex-guarded current-job
// snapshot, and the mutating commands (cancel pending, clear finished,
// load/import, export). Runner drains pending jobs one at a time through a
// Generator and reports outcomes to a notifications.Service.
//
// The database is transient working state. Schema changes bump the version in
// schema.go; users clear the database to adopt the new schema.
package jobqueue
