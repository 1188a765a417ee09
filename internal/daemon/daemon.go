package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"studio/internal/config"
	"studio/internal/deps"
	"studio/internal/gallery"
	"studio/internal/jobqueue"
	"studio/internal/logging"
	"studio/internal/queuestatus"
	"studio/internal/refresh"
	"studio/internal/sysstats"
)

// Daemon owns the queue, its runner and the refresh cadence, and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *jobqueue.Store

	queue      *jobqueue.Queue
	runner     *jobqueue.Runner
	reconciler *queuestatus.Reconciler
	stats      refresh.StatsSource
	driver     *refresh.Driver
	gallery    *gallery.Resolver
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	QueueDBPath   string
	LockFilePath  string
	RunnerEnabled bool
	CurrentJobID  string
	QueueStats    map[jobqueue.Status]int
	Subscribers   int
	Dependencies  []deps.Status
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	generator jobqueue.Generator
	stats     refresh.StatsSource
}

// WithGenerator replaces the configured command generator.
func WithGenerator(gen jobqueue.Generator) Option {
	return func(o *options) { o.generator = gen }
}

// WithStatsSource replaces the nvidia-smi/sysinfo sampler.
func WithStatsSource(src refresh.StatsSource) Option {
	return func(o *options) { o.stats = src }
}

// New constructs a daemon over an open store.
func New(cfg *config.Config, store *jobqueue.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	queue := jobqueue.NewFromConfig(store, cfg, logger)
	reconciler := queuestatus.New(queue, queuestatus.Options{
		Timeout: cfg.PollTimeout(),
		Logger:  logger,
	})
	stats := o.stats
	if stats == nil {
		stats = sysstats.NewSampler(sysstats.Options{Logger: logger})
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		queue:      queue,
		reconciler: reconciler,
		stats:      stats,
		driver:     refresh.NewFromConfig(reconciler, queue, stats, cfg, logger),
		gallery:    gallery.NewResolverFromConfig(cfg, logger),
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
	}
	switch {
	case o.generator != nil:
		d.runner = jobqueue.NewRunner(queue, o.generator, 0, logger)
	case cfg.Runner.Enabled:
		d.runner = jobqueue.NewRunnerFromConfig(queue, cfg, logger)
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, then starts the runner, the refresh driver
// and the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another studio daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		d.stopComponents()
		_ = d.lock.Unlock()
		return err
	}

	if d.runner != nil {
		if err := d.runner.Start(runCtx); err != nil {
			return fail(fmt.Errorf("start runner: %w", err))
		}
	}
	if err := d.driver.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start refresh driver: %w", err))
	}
	if err := d.api.start(runCtx); err != nil {
		return fail(err)
	}
	d.driver.Refresh(runCtx)

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("studio daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("runner_enabled", d.runner != nil),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts background work and releases the daemon lock. A job that is
// still generating goes back to pending.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopComponents()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("studio daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) stopComponents() {
	d.api.stop()
	d.driver.Stop()
	if d.runner != nil {
		d.runner.Stop()
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Queue exposes the job queue.
func (d *Daemon) Queue() *jobqueue.Queue {
	return d.queue
}

// Driver exposes the refresh driver.
func (d *Daemon) Driver() *refresh.Driver {
	return d.driver
}

// Handler returns the API router.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler()
}

// APIAddress returns the bound listener address, empty before Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	}
	current := ""
	if snapshot, ok := d.queue.CurrentJob(); ok {
		current = snapshot.ID
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		QueueDBPath:   d.cfg.QueueDBPath(),
		LockFilePath:  d.lockPath,
		RunnerEnabled: d.runner != nil,
		CurrentJobID:  current,
		QueueStats:    stats,
		Subscribers:   d.driver.Hub().Subscribers(),
		Dependencies:  deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
}
