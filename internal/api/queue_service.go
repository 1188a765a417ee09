package api

import (
	"context"

	"studio/internal/jobqueue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, statuses ...jobqueue.Status) ([]*jobqueue.Job, error)
	Stats(ctx context.Context) (map[jobqueue.Status]int, error)
	Get(ctx context.Context, id string) (*jobqueue.Job, error)
	PendingPosition(ctx context.Context, id string) (int, error)
}

// QueueService exposes read-only job queries returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns jobs filtered by status, in queue order.
func (s *QueueService) List(ctx context.Context, statuses ...jobqueue.Status) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := FromJobs(jobs)
	position := 0
	for i := range out {
		if out[i].Status == string(jobqueue.StatusPending) {
			position++
			out[i].QueuePosition = position
		}
	}
	return out, nil
}

// Stats returns job counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single job.
func (s *QueueService) Describe(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(*job)
	if job.Status == jobqueue.StatusPending {
		if pos, err := s.store.PendingPosition(ctx, id); err == nil {
			dto.QueuePosition = pos
		}
	}
	return &dto, nil
}
