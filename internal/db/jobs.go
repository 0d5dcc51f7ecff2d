package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"admin-activead/internal/common"
)

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrStatusConflict is returned when a job changed status concurrently.
	ErrStatusConflict = errors.New("job status changed")
)

// Job is a persisted deferred action against an AD account.
type Job struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	SAM       string         `json:"sam"`
	RunAt     time.Time      `json:"runAt"`
	Status    string         `json:"status"`
	CreatedBy int64          `json:"createdBy"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

const jobColumns = "id, job_type, sam, run_at, status, created_by, meta, created_at"

// InsertJob stores a new SCHEDULED job. When a SCHEDULED job for the same
// sam and runAt already exists it is returned instead and created is false.
func (d *DB) InsertJob(ctx context.Context, jobType, sam string, runAt time.Time, createdBy int64, meta map[string]any) (job Job, created bool, err error) {
	var metaText sql.NullString
	if len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			return Job{}, false, fmt.Errorf("marshal job meta: %w", err)
		}
		metaText = sql.NullString{String: string(data), Valid: true}
	}

	// The existing row can leave SCHEDULED between the ignored insert and
	// the lookup, so retry a few times.
	for attempt := 0; attempt < 3; attempt++ {
		createdAt := d.now()
		res, err := d.sql.ExecContext(ctx,
			"INSERT INTO jobs(job_type, sam, run_at, status, created_by, meta, created_at) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
			jobType, sam, runAt.Unix(), common.JobStatusScheduled, createdBy, metaText, createdAt.Unix())
		if err != nil {
			return Job{}, false, fmt.Errorf("insert job for %s: %w", sam, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Job{}, false, fmt.Errorf("insert job for %s: %w", sam, err)
		}
		if n == 1 {
			id, err := res.LastInsertId()
			if err != nil {
				return Job{}, false, fmt.Errorf("insert job for %s: %w", sam, err)
			}
			return Job{
				ID:        id,
				Type:      jobType,
				SAM:       sam,
				RunAt:     time.Unix(runAt.Unix(), 0).In(d.loc),
				Status:    common.JobStatusScheduled,
				CreatedBy: createdBy,
				Meta:      meta,
				CreatedAt: time.Unix(createdAt.Unix(), 0).In(d.loc),
			}, true, nil
		}

		existing, ok, err := d.FindScheduledJob(ctx, sam, runAt)
		if err != nil {
			return Job{}, false, err
		}
		if ok {
			return existing, false, nil
		}
	}
	return Job{}, false, fmt.Errorf("insert job for %s: conflicting job kept changing", sam)
}

// FindScheduledJob returns the SCHEDULED job for sam at runAt, if any.
func (d *DB) FindScheduledJob(ctx context.Context, sam string, runAt time.Time) (Job, bool, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE sam = ? AND run_at = ? AND status = ? ORDER BY id LIMIT 1",
		sam, runAt.Unix(), common.JobStatusScheduled)
	job, err := d.scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("find job for %s: %w", sam, err)
	}
	return job, true, nil
}

// GetJob loads a job by id.
func (d *DB) GetJob(ctx context.Context, id int64) (Job, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := d.scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// SetJobStatus moves a job from status from to status to. It fails with
// ErrStatusConflict when the job is no longer in from.
func (d *DB) SetJobStatus(ctx context.Context, id int64, from, to string) error {
	res, err := d.sql.ExecContext(ctx, "UPDATE jobs SET status = ? WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		return fmt.Errorf("set job %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set job %d status: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	job, err := d.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %d is %s, not %s: %w", id, job.Status, from, ErrStatusConflict)
}

// FailInterruptedJobs marks jobs left RUNNING by a previous process as
// FAILED and returns them.
func (d *DB) FailInterruptedJobs(ctx context.Context) ([]Job, error) {
	jobs, err := d.queryJobs(ctx, "SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY id", common.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	var failed []Job
	for _, job := range jobs {
		err := d.SetJobStatus(ctx, job.ID, common.JobStatusRunning, common.JobStatusFailed)
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			return failed, err
		}
		job.Status = common.JobStatusFailed
		failed = append(failed, job)
	}
	return failed, nil
}

// ScheduledJobs returns every SCHEDULED job ordered by run time.
func (d *DB) ScheduledJobs(ctx context.Context) ([]Job, error) {
	return d.queryJobs(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY run_at, id", common.JobStatusScheduled)
}

// RecentJobs returns the newest jobs of any status.
func (d *DB) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return d.queryJobs(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY id DESC LIMIT ?", limit)
}

func (d *DB) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := d.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (d *DB) scanJob(s scanner) (Job, error) {
	var (
		job     Job
		runAt   int64
		created int64
		meta    sql.NullString
	)
	if err := s.Scan(&job.ID, &job.Type, &job.SAM, &runAt, &job.Status, &job.CreatedBy, &meta, &created); err != nil {
		return Job{}, err
	}
	job.RunAt = time.Unix(runAt, 0).In(d.loc)
	job.CreatedAt = time.Unix(created, 0).In(d.loc)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &job.Meta); err != nil {
			return Job{}, fmt.Errorf("decode meta of job %d: %w", job.ID, err)
		}
	}
	return job, nil
}
