package jobqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studio/internal/jobqueue"
	"studio/internal/testsupport"
)

func TestOpenCreatesSchemaAndInserts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := &jobqueue.Job{ID: "job-1", Status: jobqueue.StatusPending, ParamsJSON: `{"prompt":"a cat"}`}
	if err := store.Insert(ctx, job); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if job.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to default")
	}

	fetched, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.ParamsJSON != job.ParamsJSON || fetched.Status != jobqueue.StatusPending {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if fetched.StartedAt != nil || fetched.CompletedAt != nil {
		t.Fatalf("expected nil timestamps, got %#v", fetched)
	}
	if !fetched.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("created_at round trip: got %v want %v", fetched.CreatedAt, job.CreatedAt)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListKeepsInsertionOrderAndFilters(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, seed := range []struct {
		id     string
		status jobqueue.Status
	}{
		{"c", jobqueue.StatusPending},
		{"a", jobqueue.StatusCompleted},
		{"b", jobqueue.StatusPending},
	} {
		// Later jobs carry earlier timestamps; ordering follows insertion.
		job := &jobqueue.Job{ID: seed.id, Status: seed.status, CreatedAt: base.Add(-time.Duration(i) * time.Minute)}
		if err := store.Insert(ctx, job); err != nil {
			t.Fatalf("Insert %s: %v", seed.id, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got := ids(all); got != "c,a,b" {
		t.Fatalf("unexpected order %s", got)
	}

	pending, err := store.List(ctx, jobqueue.StatusPending)
	if err != nil {
		t.Fatalf("List pending failed: %v", err)
	}
	if got := ids(pending); got != "c,b" {
		t.Fatalf("unexpected pending %s", got)
	}

	next, err := store.NextPending(ctx)
	if err != nil || next == nil || next.ID != "c" {
		t.Fatalf("NextPending = %#v, %v", next, err)
	}
}

func TestPendingPosition(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for _, seed := range []struct {
		id     string
		status jobqueue.Status
	}{
		{"p1", jobqueue.StatusPending},
		{"r1", jobqueue.StatusRunning},
		{"p2", jobqueue.StatusPending},
	} {
		if err := store.Insert(ctx, &jobqueue.Job{ID: seed.id, Status: seed.status}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	cases := map[string]int{"p1": 1, "p2": 2, "r1": 0}
	for id, want := range cases {
		got, err := store.PendingPosition(ctx, id)
		if err != nil {
			t.Fatalf("PendingPosition(%s): %v", id, err)
		}
		if got != want {
			t.Fatalf("PendingPosition(%s) = %d, want %d", id, got, want)
		}
	}
	if _, err := store.PendingPosition(ctx, "missing"); !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelPendingAndDeleteTerminal(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for _, seed := range []struct {
		id     string
		status jobqueue.Status
	}{
		{"p", jobqueue.StatusPending},
		{"r", jobqueue.StatusRunning},
		{"f", jobqueue.StatusFailed},
	} {
		if err := store.Insert(ctx, &jobqueue.Job{ID: seed.id, Status: seed.status}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := store.CancelPending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CancelPending = %d, %v", n, err)
	}
	cancelled, err := store.Get(ctx, "p")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cancelled.Status != jobqueue.StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("expected cancelled job with completed_at, got %#v", cancelled)
	}

	removed, err := store.DeleteTerminal(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("DeleteTerminal = %d, %v", removed, err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 || stats[jobqueue.StatusRunning] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestResetRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	started := time.Now().UTC()
	if err := store.Insert(ctx, &jobqueue.Job{ID: "r", Status: jobqueue.StatusRunning, StartedAt: &started}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := store.ResetRunning(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetRunning = %d, %v", n, err)
	}
	job, err := store.Get(ctx, "r")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != jobqueue.StatusPending || job.StartedAt != nil {
		t.Fatalf("expected pending job without start time, got %#v", job)
	}
}

func TestInsertManySkipsExisting(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := store.Insert(ctx, &jobqueue.Job{ID: "dup", Status: jobqueue.StatusPending}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	added, err := store.InsertMany(ctx, []*jobqueue.Job{
		{ID: "dup", Status: jobqueue.StatusCompleted},
		{ID: "new", Status: jobqueue.StatusPending},
	})
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
	existing, err := store.Get(ctx, "dup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if existing.Status != jobqueue.StatusPending {
		t.Fatalf("existing job overwritten: %#v", existing)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	err := store.Update(context.Background(), &jobqueue.Job{ID: "ghost", Status: jobqueue.StatusFailed})
	if !errors.Is(err, jobqueue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func ids(jobs []*jobqueue.Job) string {
	out := ""
	for i, job := range jobs {
		if i > 0 {
			out += ","
		}
		out += job.ID
	}
	return out
}
