package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const insertJobTail = ` INTO jobs (
    id, generation_type, status, params_json, thumbnail,
    created_at, started_at, completed_at, result, error_message, updated_at, seq
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM jobs))`

const (
	insertJobSQL         = `INSERT` + insertJobTail
	insertJobIfAbsentSQL = `INSERT OR IGNORE` + insertJobTail
)

// Insert persists a new job. CreatedAt and UpdatedAt default to now.
func (s *Store) Insert(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if _, err := s.execWithRetry(ctx, insertJobSQL, insertArgs(job)...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// InsertMany inserts jobs in one transaction, skipping ids that already exist.
// It returns the number of rows added.
func (s *Store) InsertMany(ctx context.Context, jobs []*Job) (int, error) {
	ctx = ensureContext(ctx)
	added := 0
	err := retryOnBusy(ctx, func() error {
		added = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, insertJobIfAbsentSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, job := range jobs {
			if job == nil {
				continue
			}
			if job.CreatedAt.IsZero() {
				job.CreatedAt = now
			}
			job.UpdatedAt = now
			res, err := stmt.ExecContext(ctx, insertArgs(job)...)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				added++
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert jobs: %w", err)
	}
	return added, nil
}

func insertArgs(job *Job) []any {
	return []any{
		job.ID,
		nullableString(job.GenerationType),
		string(job.Status),
		nullableString(job.ParamsJSON),
		nullableString(job.Thumbnail),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableString(job.Result),
		nullableString(job.ErrorMessage),
		formatTime(job.UpdatedAt),
	}
}

// Get fetches a job by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists status, timestamps and outcome fields of an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, started_at = ?, completed_at = ?, result = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		string(job.Status),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableString(job.Result),
		nullableString(job.ErrorMessage),
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, job.ID)
	}
	return nil
}

// List returns jobs in insertion order, filtered by status when any are given.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, statusArgs(statuses)...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}

// NextPending returns the oldest pending job or nil when none is waiting.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY seq LIMIT 1`, string(StatusPending))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	return job, nil
}

// PendingPosition returns the 1-based position of id among pending jobs, or 0
// when the job is not pending.
func (s *Store) PendingPosition(ctx context.Context, id string) (int, error) {
	var (
		status string
		seq    int64
	)
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT status, seq FROM jobs WHERE id = ?`, id).Scan(&status, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	if Status(status) != StatusPending {
		return 0, nil
	}
	var ahead int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM jobs WHERE status = ? AND seq < ?`, string(StatusPending), seq,
	).Scan(&ahead); err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead + 1, nil
}

// CancelPending marks every pending job cancelled.
func (s *Store) CancelPending(ctx context.Context) (int64, error) {
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, updated_at = ? WHERE status = ?`,
		string(StatusCancelled), now, now, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("cancel pending: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminal removes completed, failed and cancelled jobs.
func (s *Store) DeleteTerminal(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status IN (`+makePlaceholders(len(terminalStatuses))+`)`,
		statusArgs(terminalStatuses)...)
	if err != nil {
		return 0, fmt.Errorf("clear finished: %w", err)
	}
	return res.RowsAffected()
}

// ResetRunning moves jobs left running by a previous process back to pending.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, started_at = NULL, updated_at = ? WHERE status = ?`,
		string(StatusPending), formatTime(time.Now().UTC()), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("reset running: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}
