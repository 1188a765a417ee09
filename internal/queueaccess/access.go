package queueaccess

import (
	"context"
	"errors"
	"log/slog"

	"studio/internal/api"
	"studio/internal/config"
	"studio/internal/ipc"
	"studio/internal/jobqueue"
	"studio/internal/logging"
	"studio/internal/queuestatus"
	"studio/internal/refresh"
)

// ErrDaemonRequired is returned for operations that only a running daemon can
// perform, such as stopping the job it is generating.
var ErrDaemonRequired = errors.New("studio daemon is not running")

// Access provides queue operations regardless of daemon or direct store backing.
type Access interface {
	View(ctx context.Context) (*api.QueueView, error)
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.Job, error)
	Describe(ctx context.Context, id string) (*api.Job, error)
	Enqueue(ctx context.Context, req api.EnqueueRequest) (*api.Job, error)
	// Action runs a mutating queue action and returns the refreshed view.
	Action(ctx context.Context, action refresh.Action, path string) (*api.ActionResponse, error)
	EndProcess(ctx context.Context) (*api.ActionResponse, error)
	Remote() bool
}

// NewIPCAccess returns an Access backed by the daemon API.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access. Queue actions
// run through the same refresh chain the daemon uses.
func NewStoreAccess(store *jobqueue.Store, cfg *config.Config, logger *slog.Logger) Access {
	if logger == nil {
		logger = logging.NewNop()
	}
	queue := jobqueue.NewFromConfig(store, cfg, logger)
	reconciler := queuestatus.New(queue, queuestatus.Options{Timeout: cfg.PollTimeout(), Logger: logger})
	return &storeAccess{
		queue:   queue,
		service: api.NewQueueService(store),
		driver:  refresh.NewFromConfig(reconciler, queue, nil, cfg, logger),
	}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) View(ctx context.Context) (*api.QueueView, error) {
	return a.client.Queue(ctx)
}

func (a *ipcAccess) Stats(ctx context.Context) (map[string]int, error) {
	resp, err := a.client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return resp.QueueStats, nil
}

func (a *ipcAccess) List(ctx context.Context, statuses []string) ([]api.Job, error) {
	return a.client.Jobs(ctx, statuses)
}

func (a *ipcAccess) Describe(ctx context.Context, id string) (*api.Job, error) {
	return a.client.Job(ctx, id)
}

func (a *ipcAccess) Enqueue(ctx context.Context, req api.EnqueueRequest) (*api.Job, error) {
	return a.client.Enqueue(ctx, req)
}

func (a *ipcAccess) Action(ctx context.Context, action refresh.Action, path string) (*api.ActionResponse, error) {
	switch action {
	case refresh.ActionImport:
		return a.client.Import(ctx, path)
	case refresh.ActionEndProcess:
		return a.client.EndProcess(ctx)
	default:
		return a.client.Action(ctx, string(action), path)
	}
}

func (a *ipcAccess) EndProcess(ctx context.Context) (*api.ActionResponse, error) {
	return a.client.EndProcess(ctx)
}

func (a *ipcAccess) Remote() bool { return true }

type storeAccess struct {
	queue   *jobqueue.Queue
	service *api.QueueService
	driver  *refresh.Driver
}

func (a *storeAccess) View(ctx context.Context) (*api.QueueView, error) {
	view := api.FromSnapshot(a.driver.Refresh(ctx))
	return &view, nil
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]api.Job, error) {
	var filters []jobqueue.Status
	for _, s := range statuses {
		if parsed, ok := jobqueue.ParseStatus(s); ok {
			filters = append(filters, parsed)
		}
	}
	return a.service.List(ctx, filters...)
}

func (a *storeAccess) Describe(ctx context.Context, id string) (*api.Job, error) {
	job, err := a.service.Describe(ctx, id)
	if errors.Is(err, jobqueue.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (a *storeAccess) Enqueue(ctx context.Context, req api.EnqueueRequest) (*api.Job, error) {
	job, err := a.queue.Enqueue(ctx, api.ToJobRequest(req))
	if err != nil {
		return nil, err
	}
	dto := api.FromJob(*job)
	return &dto, nil
}

func (a *storeAccess) Action(ctx context.Context, action refresh.Action, path string) (*api.ActionResponse, error) {
	if action == refresh.ActionEndProcess {
		return a.EndProcess(ctx)
	}
	res := a.driver.Mutate(ctx, action, path)
	resp := api.FromResult(res)
	return &resp, res.Err
}

// EndProcess needs the process that owns the running job.
func (a *storeAccess) EndProcess(context.Context) (*api.ActionResponse, error) {
	return nil, ErrDaemonRequired
}

func (a *storeAccess) Remote() bool { return false }
