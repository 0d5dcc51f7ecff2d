// Package scheduler runs deferred account blocks. Jobs live in the database
// so they survive restarts; in memory each armed job owns one timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"admin-activead/internal/common"
	"admin-activead/internal/db"
	"admin-activead/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ErrNotScheduled is returned when cancelling a job that already ran or was
// cancelled.
var ErrNotScheduled = errors.New("job is not scheduled")

// DefaultOverdueDelay is the grace period before jobs whose time passed
// while the bot was down are executed.
const DefaultOverdueDelay = 5 * time.Second

// Store is the job persistence the scheduler needs.
type Store interface {
	InsertJob(ctx context.Context, jobType, sam string, runAt time.Time, createdBy int64, meta map[string]any) (db.Job, bool, error)
	GetJob(ctx context.Context, id int64) (db.Job, error)
	SetJobStatus(ctx context.Context, id int64, from, to string) error
	ScheduledJobs(ctx context.Context) ([]db.Job, error)
	FailInterruptedJobs(ctx context.Context) ([]db.Job, error)
	Audit(ctx context.Context, actor int64, action, target string, details map[string]any) error
}

// Disabler blocks an AD account.
type Disabler interface {
	DisableAccount(ctx context.Context, sam string) error
}

// Notifier is told about every executed job; err is nil on success.
type Notifier func(job db.Job, err error)

// Scheduler arms and executes disable jobs.
type Scheduler struct {
	mu       sync.Mutex
	store    Store
	ad       Disabler
	loc      *time.Location
	metrics  *metrics.Metrics
	notify   Notifier
	timers   map[int64]*time.Timer
	stopped  bool
	wg       sync.WaitGroup
	now      func() time.Time
	overdue  time.Duration
	execTime time.Duration
}

// New creates a scheduler. Nothing is armed until Schedule or Restore.
func New(store Store, ad Disabler, loc *time.Location, m *metrics.Metrics) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:    store,
		ad:       ad,
		loc:      loc,
		metrics:  m,
		timers:   make(map[int64]*time.Timer),
		now:      time.Now,
		overdue:  DefaultOverdueDelay,
		execTime: 5 * time.Minute,
	}
}

// SetNotifier sets the callback invoked after each execution.
func (s *Scheduler) SetNotifier(fn Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Schedule persists a disable job for sam at runAt and arms it. A second
// request for the same account and time returns the existing job.
func (s *Scheduler) Schedule(ctx context.Context, sam string, runAt time.Time, createdBy int64, meta map[string]any) (db.Job, error) {
	runAt = runAt.In(s.loc).Truncate(time.Second)

	job, created, err := s.store.InsertJob(ctx, common.JobTypeDisableAccount, sam, runAt, createdBy, meta)
	if err != nil {
		return db.Job{}, err
	}
	if !created {
		s.arm(job)
		log.Info().Int64("job_id", job.ID).Str("sam", sam).Time("run_at", runAt).Msg("Disable already scheduled")
		return job, nil
	}
	s.arm(job)
	s.metrics.JobScheduled()

	log.Info().
		Int64("job_id", job.ID).
		Str("sam", sam).
		Time("run_at", runAt).
		Int64("created_by", createdBy).
		Msg("Disable scheduled")
	return job, nil
}

// Restore re-arms every SCHEDULED job from the database and returns how
// many were armed.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	// A job still RUNNING was interrupted mid-call; its AD state is unknown.
	interrupted, err := s.store.FailInterruptedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore jobs: %w", err)
	}
	for _, job := range interrupted {
		log.Warn().Int64("job_id", job.ID).Str("sam", job.SAM).Msg("Job interrupted by restart, marked failed")
	}

	jobs, err := s.store.ScheduledJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore jobs: %w", err)
	}
	now := s.now()
	overdue := 0
	for _, job := range jobs {
		if job.RunAt.Before(now) {
			overdue++
		}
		s.arm(job)
	}
	log.Info().Int("jobs", len(jobs)).Int("overdue", overdue).Msg("Scheduled jobs restored")
	return len(jobs), nil
}

// Cancel marks a scheduled job CANCELLED and disarms it. A job that already
// started running cannot be cancelled and yields ErrNotScheduled.
func (s *Scheduler) Cancel(ctx context.Context, id, actor int64) (db.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return db.Job{}, err
	}
	if job.Status != common.JobStatusScheduled {
		return job, fmt.Errorf("job %d is %s: %w", id, job.Status, ErrNotScheduled)
	}

	s.disarm(id)
	if err := s.store.SetJobStatus(ctx, id, common.JobStatusScheduled, common.JobStatusCancelled); err != nil {
		if errors.Is(err, db.ErrStatusConflict) {
			if current, getErr := s.store.GetJob(ctx, id); getErr == nil {
				job = current
			}
			return job, fmt.Errorf("job %d is %s: %w", id, job.Status, ErrNotScheduled)
		}
		return job, err
	}
	job.Status = common.JobStatusCancelled
	s.metrics.JobCancelled()

	if err := s.store.Audit(ctx, actor, common.AuditCancelJob, job.SAM, map[string]any{"job_id": id}); err != nil {
		log.Warn().Err(err).Int64("job_id", id).Msg("Failed to audit job cancellation")
	}
	log.Info().Int64("job_id", id).Str("sam", job.SAM).Int64("actor", actor).Msg("Job cancelled")
	return job, nil
}

// List returns the scheduled jobs ordered by run time.
func (s *Scheduler) List(ctx context.Context) ([]db.Job, error) {
	return s.store.ScheduledJobs(ctx)
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms all timers and waits for executions in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.metrics.SetPending(0)

	s.wg.Wait()
}

func (s *Scheduler) arm(job db.Job) {
	delay := job.RunAt.Sub(s.now())
	if delay < 0 {
		delay = s.overdue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[job.ID]; ok {
		return
	}
	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
	s.metrics.SetPending(len(s.timers))
}

func (s *Scheduler) disarm(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.metrics.SetPending(len(s.timers))
}

func (s *Scheduler) fire(id int64) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.metrics.SetPending(len(s.timers))
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.execute(id)
}

func (s *Scheduler) execute(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.execTime)
	defer cancel()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("job_id", id).Msg("Failed to load job")
		return
	}
	// claim the job so a concurrent Cancel cannot succeed after AD is called
	if err := s.store.SetJobStatus(ctx, id, common.JobStatusScheduled, common.JobStatusRunning); err != nil {
		if errors.Is(err, db.ErrStatusConflict) {
			log.Debug().Err(err).Int64("job_id", id).Msg("Skipping job")
		} else {
			log.Error().Err(err).Int64("job_id", id).Msg("Failed to claim job")
		}
		return
	}

	runErr := s.ad.DisableAccount(ctx, job.SAM)
	status := common.JobStatusDone
	details := map[string]any{"job_id": id}
	if runErr != nil {
		status = common.JobStatusFailed
		details["error"] = runErr.Error()
	}
	details["status"] = status

	if err := s.store.SetJobStatus(ctx, id, common.JobStatusRunning, status); err != nil {
		log.Error().Err(err).Int64("job_id", id).Msg("Failed to update job status")
	}
	job.Status = status
	if err := s.store.Audit(ctx, 0, common.AuditJobDisable, job.SAM, details); err != nil {
		log.Warn().Err(err).Int64("job_id", id).Msg("Failed to audit job")
	}
	s.metrics.JobFinished(runErr)

	if runErr != nil {
		log.Error().Err(runErr).Int64("job_id", id).Str("sam", job.SAM).Msg("Scheduled disable failed")
	} else {
		log.Info().Int64("job_id", id).Str("sam", job.SAM).Msg("Scheduled disable done")
	}

	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		notify(job, runErr)
	}
}
