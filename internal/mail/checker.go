// Package mail watches the HR mailbox for dismissal notices and schedules the
// matching account blocks.
package mail

import (
	"context"
	"time"

	"admin-activead/internal/ad"
	"admin-activead/internal/ai/nlp"
	"admin-activead/internal/common"
	"admin-activead/internal/db"
	"admin-activead/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Scheduler creates disable jobs.
type Scheduler interface {
	Schedule(ctx context.Context, sam string, runAt time.Time, createdBy int64, meta map[string]any) (db.Job, error)
}

// Directory resolves a full name to AD accounts.
type Directory interface {
	SearchCandidates(ctx context.Context, query string, limit int) ([]ad.User, error)
}

// Checker polls the mailbox on a fixed interval.
type Checker struct {
	dial         Dialer
	scheduler    Scheduler
	directory    Directory
	loc          *time.Location
	disableHour  int
	superAdminID int64
	interval     time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// Options configures a Checker.
type Options struct {
	Dial         Dialer // nil disables polling
	Scheduler    Scheduler
	Directory    Directory
	Location     *time.Location
	DisableHour  int
	SuperAdminID int64
	Interval     time.Duration
	Metrics      *metrics.Metrics
}

func NewChecker(opts Options) *Checker {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = common.DefaultIMAPPoll * time.Second
	}
	return &Checker{
		dial:         opts.Dial,
		scheduler:    opts.Scheduler,
		directory:    opts.Directory,
		loc:          loc,
		disableHour:  opts.DisableHour,
		superAdminID: opts.SuperAdminID,
		interval:     interval,
		metrics:      opts.Metrics,
		now:          time.Now,
	}
}

// Run polls until ctx is done. Poll failures are logged and retried on the
// next tick.
func (c *Checker) Run(ctx context.Context) error {
	if c.dial == nil {
		log.Info().Msg("IMAP disabled")
		return nil
	}
	log.Info().Dur("interval", c.interval).Msg("HR mailbox checker started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("IMAP poll failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("HR mailbox checker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one mailbox session and returns how many mails were scheduled.
func (c *Checker) Poll(ctx context.Context) (int, error) {
	mb, err := c.dial(ctx)
	if err != nil {
		c.metrics.MailPoll(err)
		return 0, err
	}
	defer mb.Close()

	msgs, err := mb.FetchUnseen(ctx)
	if err != nil {
		c.metrics.MailPoll(err)
		if len(msgs) == 0 {
			return 0, err
		}
		log.Warn().Err(err).Int("fetched", len(msgs)).Msg("Partial IMAP fetch")
	} else {
		c.metrics.MailPoll(nil)
	}

	var seen []uint32
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		if c.process(ctx, msg) {
			seen = append(seen, msg.UID)
		}
	}

	if len(seen) > 0 {
		if err := mb.MarkSeen(ctx, seen); err != nil {
			return len(seen), err
		}
	}
	return len(seen), nil
}

func (c *Checker) process(ctx context.Context, msg Message) bool {
	logger := log.With().Str("message_id", msg.MessageID).Uint32("uid", msg.UID).Logger()
	logger.Info().Str("subject", msg.Subject).Msgf("processing mail %s", msg.MessageID)

	notice, ok := nlp.ParseHRMail(msg.Subject, msg.Body, c.now().In(c.loc))
	if !ok {
		logger.Debug().Msg("No dismissal notice in mail")
		return false
	}

	sam := notice.SAM
	if sam == "" {
		users, err := c.directory.SearchCandidates(ctx, notice.FIO, 1)
		if err != nil {
			logger.Error().Err(err).Str("fio", notice.FIO).Msg("AD lookup for HR mail failed")
			return false
		}
		if len(users) == 0 {
			logger.Warn().Str("fio", notice.FIO).Msg("No AD account for HR mail")
			return false
		}
		sam = users[0].SamAccountName
	}

	runAt := nlp.AtHour(notice.Date, c.disableHour, c.loc)
	meta := map[string]any{"source": common.SourceEmail, "message_id": msg.MessageID}
	if notice.FIO != "" {
		meta["fio"] = notice.FIO
	}
	job, err := c.scheduler.Schedule(ctx, sam, runAt, c.superAdminID, meta)
	if err != nil {
		logger.Error().Err(err).Str("sam", sam).Msg("Failed to schedule disable from HR mail")
		return false
	}

	c.metrics.MailHandled()
	logger.Info().
		Int64("job_id", job.ID).
		Str("sam", sam).
		Time("run_at", runAt).
		Msgf("processed mail %s", msg.MessageID)
	return true
}
