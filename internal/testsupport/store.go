package testsupport

import (
	"context"
	"testing"

	"studio/internal/config"
	"studio/internal/jobqueue"
	"studio/internal/logging"
)

// MustOpenStore opens a jobqueue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobqueue.Store {
	t.Helper()

	store, err := jobqueue.Open(cfg)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewQueue opens a store and wraps it in a Queue using cfg's paths.
func NewQueue(t testing.TB, cfg *config.Config) *jobqueue.Queue {
	t.Helper()
	return jobqueue.NewFromConfig(MustOpenStore(t, cfg), cfg, logging.NewNop())
}

// Enqueue adds a pending job of the given type.
func Enqueue(t testing.TB, q *jobqueue.Queue, generationType string) *jobqueue.Job {
	t.Helper()

	job, err := q.Enqueue(context.Background(), jobqueue.JobRequest{
		GenerationType: generationType,
		ParamsJSON:     `{"prompt":"test"}`,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}
