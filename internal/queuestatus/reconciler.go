package queuestatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studio/internal/jobqueue"
	"studio/internal/logging"
)

// Queue is the read side of the job-queue collaborator.
type Queue interface {
	GetAllJobs(ctx context.Context) ([]jobqueue.Job, error)
	GetQueuePosition(ctx context.Context, id string) (int, error)
	CurrentJob() (jobqueue.CurrentSnapshot, bool)
}

// Counts aggregates jobs by display status.
type Counts struct {
	Pending   int
	Running   int
	Completed int
}

// Snapshot is the result of one poll.
type Snapshot struct {
	Rows   []Row
	Counts Counts
	// CurrentJobID is the queue's in-flight job at poll time, empty when idle.
	CurrentJobID string
	PolledAt     time.Time
}

// MonitorState is the in-progress monitor for the current job.
type MonitorState struct {
	Active  bool
	JobID   string
	Result  string
	Preview string
	Desc    string
	HTML    string
	Percent float64
}

// Options configures a Reconciler.
type Options struct {
	// Timeout bounds a whole poll. Zero disables the deadline.
	Timeout time.Duration
	Logger  *slog.Logger
	// Now and Location default to time.Now and time.Local.
	Now      func() time.Time
	Location *time.Location
}

// Reconciler polls a Queue. The queue handle is fixed at construction.
type Reconciler struct {
	queue    Queue
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	location *time.Location
}

// New constructs a reconciler over queue.
func New(queue Queue, opts Options) *Reconciler {
	r := &Reconciler{
		queue:    queue,
		timeout:  opts.Timeout,
		logger:   logging.NewComponentLogger(opts.Logger, "queuestatus"),
		now:      opts.Now,
		location: opts.Location,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.location == nil {
		r.location = time.Local
	}
	return r
}

type pollResult struct {
	jobs      []jobqueue.Job
	currentID string
	err       error
}

// Poll reads every job, assigns queue positions to pending jobs and forces the
// current job to Running. Any queue error, or the poll deadline expiring,
// yields an empty snapshot.
func (r *Reconciler) Poll(ctx context.Context) Snapshot {
	if r.queue == nil {
		return Snapshot{Rows: []Row{}, PolledAt: r.now()}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// The fetch runs apart from the caller so a collaborator that ignores ctx
	// still cannot hold the poll past its deadline.
	done := make(chan pollResult, 1)
	go func() {
		done <- r.fetch(ctx)
	}()

	var res pollResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = pollResult{err: ctx.Err()}
	}
	if res.err != nil {
		attrs := []logging.Attr{
			logging.Error(res.err),
			logging.String(logging.FieldImpact, "queue view shows no jobs until the next poll"),
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			attrs = append(attrs,
				logging.Duration("timeout", r.timeout),
				logging.String(logging.FieldErrorHint, "queue did not answer in time; raise queue.poll_timeout_seconds if this persists"),
			)
		}
		logging.WarnWithContext(r.logger, "queue poll failed", "queue_poll_failed", attrs...)
		return Snapshot{Rows: []Row{}, PolledAt: r.now()}
	}

	now := r.now()
	snap := Snapshot{
		Rows:         make([]Row, 0, len(res.jobs)),
		CurrentJobID: res.currentID,
		PolledAt:     now,
	}
	for _, job := range res.jobs {
		switch job.Status {
		case jobqueue.StatusPending:
			snap.Counts.Pending++
		case jobqueue.StatusRunning:
			snap.Counts.Running++
		case jobqueue.StatusCompleted:
			snap.Counts.Completed++
		}
		snap.Rows = append(snap.Rows, r.row(job, now))
	}
	return snap
}

func (r *Reconciler) fetch(ctx context.Context) pollResult {
	jobs, err := r.queue.GetAllJobs(ctx)
	if err != nil {
		return pollResult{err: fmt.Errorf("get all jobs: %w", err)}
	}
	for i := range jobs {
		if jobs[i].Status != jobqueue.StatusPending {
			continue
		}
		pos, err := r.queue.GetQueuePosition(ctx, jobs[i].ID)
		if err != nil {
			return pollResult{err: fmt.Errorf("queue position for %s: %w", jobs[i].ID, err)}
		}
		jobs[i].QueuePosition = pos
	}
	current, ok := r.queue.CurrentJob()
	if !ok {
		return pollResult{jobs: jobs}
	}
	for i := range jobs {
		if jobs[i].ID == current.ID {
			jobs[i].Status = jobqueue.StatusRunning
			jobs[i].QueuePosition = 0
		}
	}
	return pollResult{jobs: jobs, currentID: current.ID}
}

// CurrentJob copies the in-flight job's id, result and progress. The returned
// state is inactive when nothing is running.
func (r *Reconciler) CurrentJob(ctx context.Context) MonitorState {
	if r.queue == nil || ctx.Err() != nil {
		return MonitorState{}
	}
	current, ok := r.queue.CurrentJob()
	if !ok {
		return MonitorState{}
	}
	return MonitorState{
		Active:  true,
		JobID:   current.ID,
		Result:  current.Result,
		Preview: current.Progress.Preview,
		Desc:    current.Progress.Desc,
		HTML:    current.Progress.HTML,
		Percent: current.Progress.Percent,
	}
}

// StatsText renders the toolbar summary.
func (c Counts) StatsText() string {
	return fmt.Sprintf("Queue: %d | Running: %d | Completed: %d", c.Pending, c.Running, c.Completed)
}
