package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio/internal/config"
	"studio/internal/logging"
)

// Queue is the job-queue collaborator polled by the control panel. All job
// rows live in the Store; the in-flight job is additionally held in a
// mutex-guarded cell that only the runner writes.
type Queue struct {
	store     *Store
	logger    *slog.Logger
	stateFile string
	exportDir string
	exportTTL time.Duration

	mu       sync.Mutex
	current  *Job
	cancel   context.CancelFunc
	stopping bool

	wake chan struct{}
}

// Options configures a Queue.
type Options struct {
	// StateFile is the default path for LoadQueueFromJSON and the resume file
	// rewritten after every mutation. Empty disables the resume file.
	StateFile string
	ExportDir string
	// ExportRetention bounds the age of archives kept in ExportDir. Zero
	// disables pruning.
	ExportRetention time.Duration
	Logger          *slog.Logger
}

// New wraps store with the queue collaborator API.
func New(store *Store, opts Options) *Queue {
	return &Queue{
		store:     store,
		logger:    logging.NewComponentLogger(opts.Logger, "queue"),
		stateFile: strings.TrimSpace(opts.StateFile),
		exportDir: strings.TrimSpace(opts.ExportDir),
		exportTTL: opts.ExportRetention,
		wake:      make(chan struct{}, 1),
	}
}

// NewFromConfig builds a Queue using the configured resume file and export directory.
func NewFromConfig(store *Store, cfg *config.Config, logger *slog.Logger) *Queue {
	return New(store, Options{
		StateFile:       cfg.Queue.StateFile,
		ExportDir:       cfg.Paths.ExportDir,
		ExportRetention: time.Duration(cfg.Queue.ExportRetentionDays) * 24 * time.Hour,
		Logger:          logger,
	})
}

// Store exposes the underlying persistence layer.
func (q *Queue) Store() *Store {
	return q.store
}

// GetAllJobs returns every job in insertion order. The current job carries a
// copy of its live progress.
func (q *Queue) GetAllJobs(ctx context.Context) ([]Job, error) {
	rows, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, hasCurrent := q.CurrentJob()
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		job := *row
		if hasCurrent && job.ID == snapshot.ID {
			progress := snapshot.Progress
			job.Progress = &progress
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetQueuePosition returns the 1-based position of a pending job, 0 otherwise.
func (q *Queue) GetQueuePosition(ctx context.Context, id string) (int, error) {
	return q.store.PendingPosition(ctx, id)
}

// CurrentJob copies the in-flight job's id, result and progress out of the
// cell. The lock is held only for the copy.
func (q *Queue) CurrentJob() (CurrentSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return CurrentSnapshot{}, false
	}
	snapshot := CurrentSnapshot{
		ID:     q.current.ID,
		Result: q.current.Result,
	}
	if q.current.Progress != nil {
		snapshot.Progress = *q.current.Progress
	}
	if q.current.StartedAt != nil {
		snapshot.StartedAt = *q.current.StartedAt
	}
	return snapshot, true
}

// Enqueue inserts a pending job and wakes the runner.
func (q *Queue) Enqueue(ctx context.Context, req JobRequest) (*Job, error) {
	job := &Job{
		ID:             uuid.NewString(),
		GenerationType: strings.TrimSpace(req.GenerationType),
		Status:         StatusPending,
		ParamsJSON:     strings.TrimSpace(req.ParamsJSON),
		Thumbnail:      strings.TrimSpace(req.Thumbnail),
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, err
	}
	q.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("generation_type", job.TypeLabel()),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	q.signal()
	q.persistState(ctx)
	return job, nil
}

// ClearQueue cancels every pending job. The running job is left alone.
func (q *Queue) ClearQueue(ctx context.Context) (int, error) {
	n, err := q.store.CancelPending(ctx)
	if err != nil {
		return 0, err
	}
	q.logger.Info("pending jobs cancelled",
		logging.Int64("count", n),
		logging.String(logging.FieldEventType, "queue_cleared"),
	)
	q.persistState(ctx)
	return int(n), nil
}

// ClearCompletedJobs removes completed, failed and cancelled jobs.
func (q *Queue) ClearCompletedJobs(ctx context.Context) (int, error) {
	n, err := q.store.DeleteTerminal(ctx)
	if err != nil {
		return 0, err
	}
	q.logger.Info("finished jobs cleared",
		logging.Int64("count", n),
		logging.String(logging.FieldEventType, "queue_finished_cleared"),
	)
	return int(n), nil
}

// CancelCurrent requests that the running job stop and returns immediately.
// It reports whether a job was running.
func (q *Queue) CancelCurrent() bool {
	q.mu.Lock()
	cancel := q.cancel
	id := ""
	if q.current != nil {
		id = q.current.ID
		q.stopping = true
	}
	q.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	q.logger.Info("cancel requested for running job",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldEventType, "job_cancel_requested"),
	)
	return true
}

// Wake returns the channel signalled whenever new work is queued.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// begin marks job running and installs it as the current job.
func (q *Queue) begin(ctx context.Context, job *Job, cancel context.CancelFunc) error {
	q.mu.Lock()
	if q.current != nil {
		q.mu.Unlock()
		return fmt.Errorf("job %s already running", q.current.ID)
	}
	q.mu.Unlock()

	started := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	job.CompletedAt = nil
	job.Result = ""
	job.ErrorMessage = ""
	if err := q.store.Update(ctx, job); err != nil {
		return err
	}

	cell := *job
	cell.Progress = &ProgressData{}
	q.mu.Lock()
	q.current = &cell
	q.cancel = cancel
	q.stopping = false
	q.mu.Unlock()
	q.persistState(ctx)
	return nil
}

// setProgress replaces the live progress of the current job.
func (q *Queue) setProgress(progress ProgressData) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return
	}
	p := progress
	q.current.Progress = &p
}

// cancelRequested reports whether CancelCurrent was called for the current job.
func (q *Queue) cancelRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopping
}

// finish records the outcome and clears the current cell.
func (q *Queue) finish(ctx context.Context, job *Job, status Status, result, errMsg string) error {
	job.Status = status
	job.Result = ""
	job.ErrorMessage = strings.TrimSpace(errMsg)
	if status == StatusCompleted {
		job.Result = result
	}
	if status == StatusPending {
		job.StartedAt = nil
		job.CompletedAt = nil
	} else {
		completed := time.Now().UTC()
		job.CompletedAt = &completed
	}

	err := q.store.Update(ctx, job)

	q.mu.Lock()
	q.current = nil
	q.cancel = nil
	q.stopping = false
	q.mu.Unlock()

	if err != nil {
		return err
	}
	q.persistState(ctx)
	return nil
}

// persistState rewrites the resume file. Failures are logged, not returned.
func (q *Queue) persistState(ctx context.Context) {
	if q.stateFile == "" {
		return
	}
	if err := q.SaveQueueToJSON(ctx, q.stateFile); err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(q.logger, "queue state save failed; resume file is stale", "queue_state_save_failed",
			logging.String("path", q.stateFile),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on queue.state_file"),
			logging.String(logging.FieldImpact, "load queue may restore an older job list"),
		)
	}
}
