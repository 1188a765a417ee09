package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"studio/internal/config"
	"studio/internal/logging"
	"studio/internal/queuestatus"
	"studio/internal/sysstats"
)

// Poller is the reconciler surface the driver repolls.
type Poller interface {
	Poll(ctx context.Context) queuestatus.Snapshot
	CurrentJob(ctx context.Context) queuestatus.MonitorState
}

// Mutator is the mutating side of the job-queue collaborator.
type Mutator interface {
	ClearQueue(ctx context.Context) (int, error)
	ClearCompletedJobs(ctx context.Context) (int, error)
	LoadQueueFromJSON(ctx context.Context, path string) (int, error)
	ExportQueueToZip(ctx context.Context) (string, error)
	CancelCurrent() bool
}

// StatsSource samples host resources.
type StatsSource interface {
	Sample(ctx context.Context) sysstats.Stats
}

// Action is a mutating queue command.
type Action string

const (
	ActionClearQueue     Action = "clear"
	ActionClearCompleted Action = "clear-completed"
	ActionLoad           Action = "load"
	ActionImport         Action = "import"
	ActionExport         Action = "export"
	ActionEndProcess     Action = "end-process"
)

// ParseAction maps a route or CLI name to an Action.
func ParseAction(value string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(value))); a {
	case ActionClearQueue, ActionClearCompleted, ActionLoad, ActionImport, ActionExport, ActionEndProcess:
		return a, true
	}
	return "", false
}

// Layout says which of the two preview locations is active.
type Layout struct {
	DisplayTop           bool
	TopPreviewVisible    bool
	InlinePreviewVisible bool
}

// EndButton is the end-process control state after an action.
type EndButton struct {
	Label   string
	Enabled bool
}

// CancellingLabel is shown on the end control until a poll sees the job stop.
const CancellingLabel = "Cancelling..."

// Result is the outcome of an action chain.
type Result struct {
	Action Action
	// Affected counts jobs cleared or loaded.
	Affected int
	// Path is the archive written by export.
	Path    string
	Err     error
	Queue   queuestatus.Snapshot
	Monitor queuestatus.MonitorState
	Layout  Layout
	// EndButton is set only by EndProcess.
	EndButton *EndButton
}

// Options configures a Driver.
type Options struct {
	StatsInterval      time.Duration
	CurrentJobInterval time.Duration
	// LatentsDisplayTop is read on every layout recompute.
	LatentsDisplayTop func() bool
	Logger            *slog.Logger
}

// Driver owns the refresh cadence.
type Driver struct {
	poller  Poller
	mutator Mutator
	stats   StatsSource
	hub     *Hub
	logger  *slog.Logger

	statsInterval      time.Duration
	currentJobInterval time.Duration
	displayTop         func() bool

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	lastStats sysstats.Stats
	lastJobID string
	lastQueue queuestatus.Snapshot
	wg        sync.WaitGroup
}

// New constructs a driver. Any of mutator and stats may be nil.
func New(poller Poller, mutator Mutator, stats StatsSource, opts Options) *Driver {
	d := &Driver{
		poller:             poller,
		mutator:            mutator,
		stats:              stats,
		hub:                NewHub(),
		logger:             logging.NewComponentLogger(opts.Logger, "refresh"),
		statsInterval:      opts.StatsInterval,
		currentJobInterval: opts.CurrentJobInterval,
		displayTop:         opts.LatentsDisplayTop,
	}
	if d.statsInterval <= 0 {
		d.statsInterval = 2 * time.Second
	}
	if d.currentJobInterval <= 0 {
		d.currentJobInterval = time.Second
	}
	if d.displayTop == nil {
		d.displayTop = func() bool { return false }
	}
	return d
}

// NewFromConfig reads intervals and the preview layout from cfg.
func NewFromConfig(poller Poller, mutator Mutator, stats StatsSource, cfg *config.Config, logger *slog.Logger) *Driver {
	return New(poller, mutator, stats, Options{
		StatsInterval:      cfg.StatsInterval(),
		CurrentJobInterval: cfg.CurrentJobInterval(),
		LatentsDisplayTop:  func() bool { return cfg.UI.LatentsDisplayTop },
		Logger:             logger,
	})
}

// Hub exposes the event fan-out.
func (d *Driver) Hub() *Hub {
	return d.hub
}

// Start launches the stats ticker and the current-job watcher.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("refresh driver already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	loops := 1
	if d.stats != nil {
		loops++
	}
	d.wg.Add(loops)
	d.mu.Unlock()

	if d.stats != nil {
		go d.statsLoop(runCtx)
	}
	go d.watchCurrentJob(runCtx)
	return nil
}

// Stop terminates the loops and waits for them.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

func (d *Driver) statsLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.statsInterval)
	defer ticker.Stop()
	d.sampleStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sampleStats(ctx)
		}
	}
}

func (d *Driver) sampleStats(ctx context.Context) {
	stats := d.stats.Sample(ctx)
	d.mu.Lock()
	d.lastStats = stats
	d.mu.Unlock()
	d.hub.Publish(Event{Kind: EventStats, Stats: &stats})
}

// LatestStats returns the most recent stats sample and whether one exists.
func (d *Driver) LatestStats() (sysstats.Stats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastStats, !d.lastStats.SampledAt.IsZero()
}

// watchCurrentJob repolls whenever the current job id changes.
func (d *Driver) watchCurrentJob(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.currentJobInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		monitor := d.poller.CurrentJob(ctx)
		d.mu.Lock()
		changed := monitor.JobID != d.lastJobID
		d.lastJobID = monitor.JobID
		d.mu.Unlock()
		if !changed {
			if monitor.Active {
				d.hub.Publish(Event{Kind: EventCurrentJob, Monitor: &monitor})
			}
			continue
		}
		d.logger.Debug("current job changed", logging.String(logging.FieldJobID, monitor.JobID))
		snap := d.poll(ctx)
		layout := d.Layout()
		d.hub.Publish(Event{Kind: EventCurrentJob, Monitor: &monitor, Queue: &snap, Layout: &layout})
	}
}

// Refresh polls the queue on explicit request.
func (d *Driver) Refresh(ctx context.Context) queuestatus.Snapshot {
	snap := d.poll(ctx)
	d.hub.Publish(Event{Kind: EventQueue, Queue: &snap})
	return snap
}

// LastSnapshot returns the most recent poll result without polling.
func (d *Driver) LastSnapshot() queuestatus.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastQueue
}

func (d *Driver) poll(ctx context.Context) queuestatus.Snapshot {
	snap := d.poller.Poll(ctx)
	d.mu.Lock()
	d.lastQueue = snap
	d.mu.Unlock()
	return snap
}

// Layout derives preview visibility from the display-top setting.
func (d *Driver) Layout() Layout {
	top := d.displayTop()
	return Layout{DisplayTop: top, TopPreviewVisible: top, InlinePreviewVisible: !top}
}

// Mutate runs action, then polls, then re-reads the current job, then
// recomputes the layout, in that order. A failed mutation is reported on the
// result; the remaining steps still run so the view reflects real state.
// path is the import source for ActionImport and an optional override for
// ActionLoad.
func (d *Driver) Mutate(ctx context.Context, action Action, path string) Result {
	if action == ActionEndProcess {
		return d.EndProcess(ctx)
	}
	res := Result{Action: action}
	if d.mutator == nil {
		res.Err = errors.New("queue actions unavailable")
	} else {
		res.Affected, res.Path, res.Err = d.apply(ctx, action, path)
	}
	if res.Err != nil {
		logging.WarnWithContext(d.logger, "queue action failed", "queue_action_failed",
			logging.String("action", string(action)),
			logging.Error(res.Err),
			logging.String(logging.FieldImpact, "queue left unchanged"),
		)
	} else {
		d.logger.Info("queue action applied",
			logging.String("action", string(action)),
			logging.Int("affected", res.Affected),
			logging.String(logging.FieldEventType, "queue_action"),
		)
	}
	return d.finishChain(ctx, res)
}

func (d *Driver) apply(ctx context.Context, action Action, path string) (int, string, error) {
	switch action {
	case ActionClearQueue:
		n, err := d.mutator.ClearQueue(ctx)
		return n, "", err
	case ActionClearCompleted:
		n, err := d.mutator.ClearCompletedJobs(ctx)
		return n, "", err
	case ActionLoad:
		n, err := d.mutator.LoadQueueFromJSON(ctx, strings.TrimSpace(path))
		return n, "", err
	case ActionImport:
		// An empty import is a no-op; it must not fall through to the resume file.
		if strings.TrimSpace(path) == "" {
			return 0, "", nil
		}
		n, err := d.mutator.LoadQueueFromJSON(ctx, path)
		return n, "", err
	case ActionExport:
		out, err := d.mutator.ExportQueueToZip(ctx)
		return 0, out, err
	default:
		return 0, "", fmt.Errorf("unknown queue action %q", action)
	}
}

// EndProcess requests cancellation of the running job without waiting for it
// to stop. The end control is returned disabled with the cancelling label;
// a later poll reflects the job's real terminal state.
func (d *Driver) EndProcess(ctx context.Context) Result {
	res := Result{Action: ActionEndProcess}
	if d.mutator != nil && d.mutator.CancelCurrent() {
		res.Affected = 1
	}
	d.logger.Info("end process requested",
		logging.Bool("job_running", res.Affected > 0),
		logging.String(logging.FieldEventType, "end_process"),
	)
	res.EndButton = &EndButton{Label: CancellingLabel, Enabled: false}
	res = d.finishChain(ctx, res)

	// The current job id is cleared optimistically; if the job is still
	// winding down the watcher sees it as a change and repolls.
	d.mu.Lock()
	d.lastJobID = ""
	d.mu.Unlock()
	return res
}

func (d *Driver) finishChain(ctx context.Context, res Result) Result {
	res.Queue = d.poll(ctx)
	res.Monitor = d.poller.CurrentJob(ctx)
	res.Layout = d.Layout()

	d.mu.Lock()
	d.lastJobID = res.Monitor.JobID
	d.mu.Unlock()

	d.hub.Publish(Event{Kind: EventQueue, Queue: &res.Queue, Monitor: &res.Monitor, Layout: &res.Layout})
	return res
}
