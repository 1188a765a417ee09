package queuestatus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studio/internal/jobqueue"
	"studio/internal/logging"
	"studio/internal/queuestatus"
	"studio/internal/testsupport"
)

type fakeQueue struct {
	jobs       []jobqueue.Job
	positions  map[string]int
	current    *jobqueue.CurrentSnapshot
	err        error
	block      chan struct{}
	positioned []string
}

func (f *fakeQueue) GetAllJobs(ctx context.Context) ([]jobqueue.Job, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]jobqueue.Job(nil), f.jobs...), nil
}

func (f *fakeQueue) GetQueuePosition(_ context.Context, id string) (int, error) {
	f.positioned = append(f.positioned, id)
	return f.positions[id], nil
}

func (f *fakeQueue) CurrentJob() (jobqueue.CurrentSnapshot, bool) {
	if f.current == nil {
		return jobqueue.CurrentSnapshot{}, false
	}
	return *f.current, true
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newReconciler(q queuestatus.Queue) *queuestatus.Reconciler {
	return queuestatus.New(q, queuestatus.Options{
		Logger:   logging.NewNop(),
		Now:      func() time.Time { return fixedNow },
		Location: time.UTC,
	})
}

func TestPollCountsByStatus(t *testing.T) {
	statuses := []jobqueue.Status{
		jobqueue.StatusCompleted,
		jobqueue.StatusPending,
		jobqueue.StatusRunning,
		jobqueue.StatusCompleted,
		jobqueue.StatusPending,
		jobqueue.StatusFailed,
	}
	q := &fakeQueue{}
	for i, status := range statuses {
		q.jobs = append(q.jobs, jobqueue.Job{ID: string(rune('a' + i)), Status: status})
	}

	snap := newReconciler(q).Poll(context.Background())
	want := queuestatus.Counts{Pending: 2, Running: 1, Completed: 2}
	if snap.Counts != want {
		t.Fatalf("counts = %+v, want %+v", snap.Counts, want)
	}
	if len(snap.Rows) != len(statuses) {
		t.Fatalf("expected %d rows, got %d", len(statuses), len(snap.Rows))
	}
	if snap.Counts.StatsText() != "Queue: 2 | Running: 1 | Completed: 2" {
		t.Fatalf("unexpected stats text %q", snap.Counts.StatsText())
	}
}

func TestPollAssignsPositionsToPendingOnly(t *testing.T) {
	q := &fakeQueue{
		jobs: []jobqueue.Job{
			{ID: "p1", Status: jobqueue.StatusPending},
			{ID: "c1", Status: jobqueue.StatusCompleted},
			{ID: "p2", Status: jobqueue.StatusPending},
		},
		positions: map[string]int{"p1": 1, "p2": 2},
	}
	snap := newReconciler(q).Poll(context.Background())
	if len(q.positioned) != 2 || q.positioned[0] != "p1" || q.positioned[1] != "p2" {
		t.Fatalf("positions queried for %v", q.positioned)
	}
	if snap.Rows[0].QueuePosition != 1 || snap.Rows[2].QueuePosition != 2 || snap.Rows[1].QueuePosition != 0 {
		t.Fatalf("unexpected positions %+v", snap.Rows)
	}
}

func TestPollForcesCurrentJobRunning(t *testing.T) {
	q := &fakeQueue{
		jobs: []jobqueue.Job{
			{ID: "stale-job", Status: jobqueue.StatusCompleted},
			{ID: "other", Status: jobqueue.StatusCompleted},
		},
		current: &jobqueue.CurrentSnapshot{ID: "stale-job"},
	}
	snap := newReconciler(q).Poll(context.Background())
	if snap.Rows[0].Status != jobqueue.StatusRunning {
		t.Fatalf("expected current job forced to running, got %s", snap.Rows[0].Status)
	}
	if snap.Rows[1].Status != jobqueue.StatusCompleted {
		t.Fatalf("other job should keep its status, got %s", snap.Rows[1].Status)
	}
	if snap.Counts != (queuestatus.Counts{Running: 1, Completed: 1}) {
		t.Fatalf("unexpected counts %+v", snap.Counts)
	}
	if snap.CurrentJobID != "stale-job" {
		t.Fatalf("unexpected current id %q", snap.CurrentJobID)
	}
	if q.jobs[0].Status != jobqueue.StatusCompleted {
		t.Fatal("poll must not mutate the queue's jobs")
	}
}

func TestPollRowFormatting(t *testing.T) {
	created := fixedNow.Add(-time.Minute)
	started := fixedNow.Add(-30 * time.Second)
	completed := started.Add(12345 * time.Millisecond)
	running := fixedNow.Add(-5 * time.Second)
	q := &fakeQueue{jobs: []jobqueue.Job{
		{
			ID:          "0123456789abcdef",
			Status:      jobqueue.StatusCompleted,
			CreatedAt:   created,
			StartedAt:   &started,
			CompletedAt: &completed,
			Thumbnail:   "data:image/png;base64,AA==",
		},
		{ID: "abc", GenerationType: "Extend", Status: jobqueue.StatusRunning, CreatedAt: created, StartedAt: &running},
		{ID: "pending-job", Status: jobqueue.StatusPending, CreatedAt: created},
	}}

	snap := newReconciler(q).Poll(context.Background())
	done := snap.Rows[0]
	if done.ShortID != "012345..." || done.Type != "Original" {
		t.Fatalf("unexpected id/type %q %q", done.ShortID, done.Type)
	}
	if done.Created != "11:59:00" || done.Started != "11:59:30" || done.Completed != "11:59:42" {
		t.Fatalf("unexpected clock columns %q %q %q", done.Created, done.Started, done.Completed)
	}
	if done.Elapsed != "12.35s" {
		t.Fatalf("unexpected elapsed %q", done.Elapsed)
	}
	wantPreview := `<img src="data:image/png;base64,AA==" width="64" height="64" style="object-fit: contain;">`
	if done.Preview != wantPreview {
		t.Fatalf("unexpected preview %q", done.Preview)
	}

	live := snap.Rows[1]
	if live.Elapsed != "5.00s (running)" || live.Type != "Extend" || live.ShortID != "abc..." {
		t.Fatalf("unexpected running row %+v", live)
	}

	queued := snap.Rows[2]
	if queued.Elapsed != "" || queued.Started != "" || queued.Preview != "" {
		t.Fatalf("unexpected pending row %+v", queued)
	}
}

func TestPollDegradesOnError(t *testing.T) {
	q := &fakeQueue{err: errors.New("database is locked")}
	snap := newReconciler(q).Poll(context.Background())
	if len(snap.Rows) != 0 || snap.Counts != (queuestatus.Counts{}) {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if snap.Rows == nil {
		t.Fatal("rows should be an empty slice, not nil")
	}
}

func TestPollDegradesOnTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	q := &fakeQueue{block: block, jobs: []jobqueue.Job{{ID: "x", Status: jobqueue.StatusPending}}}
	r := queuestatus.New(q, queuestatus.Options{Timeout: 50 * time.Millisecond, Logger: logging.NewNop()})

	start := time.Now()
	snap := r.Poll(context.Background())
	if time.Since(start) > 2*time.Second {
		t.Fatal("poll did not honour its deadline")
	}
	if len(snap.Rows) != 0 {
		t.Fatalf("expected empty snapshot on timeout, got %+v", snap)
	}
}

func TestCurrentJobCopiesProgress(t *testing.T) {
	q := &fakeQueue{current: &jobqueue.CurrentSnapshot{
		ID:       "job-1",
		Result:   "",
		Progress: jobqueue.ProgressData{Preview: "data:image/png;base64,AA==", Desc: "Sampling 3/30", HTML: "<progress>"},
	}}
	state := newReconciler(q).CurrentJob(context.Background())
	if !state.Active || state.JobID != "job-1" || state.Desc != "Sampling 3/30" || state.HTML != "<progress>" {
		t.Fatalf("unexpected monitor state %+v", state)
	}

	idle := newReconciler(&fakeQueue{}).CurrentJob(context.Background())
	if idle.Active || idle.JobID != "" {
		t.Fatalf("expected inactive state, got %+v", idle)
	}
}

func TestPollAgainstRealQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.NewQueue(t, cfg)
	first := testsupport.Enqueue(t, q, "")
	testsupport.Enqueue(t, q, "")

	r := queuestatus.New(q, queuestatus.Options{Timeout: cfg.PollTimeout(), Logger: logging.NewNop()})
	snap := r.Poll(context.Background())
	if snap.Counts.Pending != 2 || len(snap.Rows) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Rows[0].ID != first.ID || snap.Rows[0].QueuePosition != 1 || snap.Rows[1].QueuePosition != 2 {
		t.Fatalf("unexpected rows %+v", snap.Rows)
	}
}
