package jobqueue

import "errors"

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrUnsupportedImport is returned for import files that are neither .json nor .zip.
	ErrUnsupportedImport = errors.New("unsupported queue import format")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
