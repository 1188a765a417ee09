package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"studio/internal/config"
	"studio/internal/logging"
	"studio/internal/notifications"
)

const notifyTimeout = 15 * time.Second

// Generator produces the output for a single job. progress may be called any
// number of times from the Generate goroutine.
type Generator interface {
	Generate(ctx context.Context, job *Job, progress func(ProgressData)) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, job *Job, progress func(ProgressData)) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, job *Job, progress func(ProgressData)) (string, error) {
	return f(ctx, job, progress)
}

// Runner drains pending jobs one at a time through a Generator.
type Runner struct {
	queue        *Queue
	generator    Generator
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service

	// batch counters are owned by the loop goroutine.
	batchStarted   time.Time
	batchProcessed int
	batchFailed    int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner constructs a runner. A non-positive pollInterval defaults to two seconds.
func NewRunner(queue *Queue, generator Generator, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		queue:        queue,
		generator:    generator,
		logger:       logging.NewComponentLogger(logger, "runner"),
		pollInterval: pollInterval,
	}
}

// NewRunnerFromConfig wires a CommandGenerator from the runner section.
func NewRunnerFromConfig(queue *Queue, cfg *config.Config, logger *slog.Logger) *Runner {
	gen := NewCommandGenerator(cfg.Runner.Command, time.Duration(cfg.Runner.StopGraceSeconds)*time.Second, cfg.Paths.OutputDir)
	runner := NewRunner(queue, gen, time.Duration(cfg.Runner.PollIntervalSeconds)*time.Second, logger)
	runner.SetNotifier(notifications.NewService(cfg))
	return runner
}

// SetNotifier installs the service told about job outcomes. Call before Start.
func (r *Runner) SetNotifier(notifier notifications.Service) {
	r.notifier = notifier
}

// Start requeues jobs a previous process left running and begins the worker loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already running")
	}
	if r.generator == nil {
		r.mu.Unlock()
		return errors.New("runner generator not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	if n, err := r.queue.store.ResetRunning(ctx); err != nil {
		r.logger.Warn("failed to requeue interrupted jobs",
			logging.Error(err),
			logging.String(logging.FieldEventType, "runner_reset_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	} else if n > 0 {
		r.logger.Info("requeued interrupted jobs", logging.Int64("count", n))
	}

	go r.loop(runCtx)
	return nil
}

// Stop cancels the in-flight job and waits for the loop to exit. The job is
// returned to pending so the next start picks it up again.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := r.queue.store.NextPending(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("failed to fetch next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			r.wait(ctx)
			continue
		}
		if job == nil {
			r.finishBatch(ctx)
			r.wait(ctx)
			continue
		}
		r.process(ctx, job)
	}
}

func (r *Runner) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-r.queue.Wake():
	case <-time.After(r.pollInterval):
	}
}

func (r *Runner) process(ctx context.Context, job *Job) {
	logger := r.logger.With(logging.String(logging.FieldJobID, job.ID))
	jobCtx, cancel := context.WithCancel(logging.WithJobID(ctx, job.ID))
	defer cancel()

	if err := r.queue.begin(ctx, job, cancel); err != nil {
		logger.Error("failed to start job",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_start_failed"),
		)
		r.wait(ctx)
		return
	}
	logger.Info("job started",
		logging.String("generation_type", job.TypeLabel()),
		logging.String(logging.FieldEventType, "job_started"),
	)

	sampler := logging.NewProgressSampler(10)
	started := time.Now()
	result, genErr := r.generator.Generate(jobCtx, job, func(p ProgressData) {
		r.queue.setProgress(p)
		if sampler.ShouldLog(p.Percent, p.Desc) {
			logger.Info("job progress",
				logging.Float64("percent", p.Percent),
				logging.String("desc", p.Desc),
			)
		}
	})

	status, errMsg := StatusCompleted, ""
	switch {
	case genErr == nil:
	case r.queue.cancelRequested():
		status, errMsg = StatusCancelled, UserCancelReason
	case ctx.Err() != nil:
		status = StatusPending
	default:
		status, errMsg = StatusFailed, genErr.Error()
	}

	// ctx may already be cancelled on shutdown; the outcome still has to land.
	if err := r.queue.finish(context.WithoutCancel(ctx), job, status, result, errMsg); err != nil {
		logger.Error("failed to record job outcome",
			logging.Error(err),
			logging.String("status", string(status)),
			logging.String(logging.FieldEventType, "job_finish_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}

	r.recordOutcome(ctx, job, status, time.Since(started))

	attrs := []logging.Attr{
		logging.String("status", string(status)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "job_finished"),
	}
	switch status {
	case StatusFailed:
		logging.WarnWithContext(logger, "job failed", "job_failed", append(attrs[:2],
			logging.Error(genErr),
			logging.String(logging.FieldErrorHint, "check the generator command output"),
		)...)
	case StatusCompleted:
		logger.Info("job completed", logging.Args(append(attrs, logging.String("result", result))...)...)
	default:
		logger.Info("job stopped", logging.Args(attrs...)...)
	}
}

// recordOutcome counts terminal jobs toward the current batch and publishes
// per-job notifications. Failures to notify are logged only.
func (r *Runner) recordOutcome(ctx context.Context, job *Job, status Status, elapsed time.Duration) {
	if !status.IsTerminal() {
		return
	}
	if r.batchProcessed == 0 {
		r.batchStarted = time.Now().Add(-elapsed)
	}
	r.batchProcessed++
	if status == StatusFailed {
		r.batchFailed++
	}
	if r.notifier == nil {
		return
	}

	outcome := notifications.JobOutcome{
		ID:             job.ID,
		GenerationType: job.TypeLabel(),
		Result:         job.Result,
		Error:          job.ErrorMessage,
		Elapsed:        elapsed,
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	var err error
	switch status {
	case StatusCompleted:
		err = r.notifier.NotifyJobCompleted(notifyCtx, outcome)
	case StatusFailed:
		err = r.notifier.NotifyJobFailed(notifyCtx, outcome)
	}
	if err != nil {
		r.logNotifyFailure(job.ID, err)
	}
}

// finishBatch reports a drained queue once after a run of jobs.
func (r *Runner) finishBatch(ctx context.Context) {
	if r.batchProcessed == 0 {
		return
	}
	processed, failed, duration := r.batchProcessed, r.batchFailed, time.Since(r.batchStarted)
	r.batchProcessed, r.batchFailed = 0, 0
	r.logger.Info("queue drained",
		logging.Int("processed", processed),
		logging.Int("failed", failed),
		logging.Duration("duration", duration),
		logging.String(logging.FieldEventType, "queue_drained"),
	)
	if r.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := r.notifier.NotifyQueueDrained(notifyCtx, processed, failed, duration); err != nil {
		r.logNotifyFailure("", err)
	}
}

func (r *Runner) logNotifyFailure(jobID string, err error) {
	attrs := []logging.Attr{
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
	}
	if jobID != "" {
		attrs = append(attrs, logging.String(logging.FieldJobID, jobID))
	}
	logging.WarnWithContext(r.logger, "notification failed", "notification_failed", attrs...)
}
