// Package bot routes Telegram updates to the AD workflows: password resets,
// scheduled blocks and admin management.
package bot

import (
	"context"
	"fmt"
	"time"

	"admin-activead/internal/ad"
	"admin-activead/internal/common"
	"admin-activead/internal/db"
	"admin-activead/internal/metrics"
	"admin-activead/internal/storage"
	"admin-activead/internal/telegram"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	maxCandidates    = 10
	maxButtonRunes   = 60
	purgeInterval    = time.Minute
	notifyTimeout    = 15 * time.Second
	dateTimeLayout   = "02.01.2006 15:04"
	defaultRevealTTL = 10 * time.Minute
)

// Messenger is the subset of the Bot API the handlers talk to.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup any) (telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, id, text string, alert bool) error
}

// Directory looks up and changes AD accounts.
type Directory interface {
	SearchCandidates(ctx context.Context, query string, limit int) ([]ad.User, error)
	ResetPassword(ctx context.Context, sam, password string, forceChange bool) error
	DisableAccount(ctx context.Context, sam string) error
}

// JobScheduler manages deferred account blocks.
type JobScheduler interface {
	Schedule(ctx context.Context, sam string, runAt time.Time, createdBy int64, meta map[string]any) (db.Job, error)
	Cancel(ctx context.Context, id, actor int64) (db.Job, error)
	List(ctx context.Context) ([]db.Job, error)
}

// Updates delivers incoming updates until ctx is done.
type Updates interface {
	Run(ctx context.Context, handle func(telegram.Update)) error
}

type Options struct {
	Messenger      Messenger
	DB             *db.DB
	Sessions       *storage.Store
	Directory      Directory
	Scheduler      JobScheduler
	Metrics        *metrics.Metrics
	Location       *time.Location
	DisableHour    int
	PasswordLength int
	RevealTTL      time.Duration
	Workers        int
}

type Bot struct {
	tg          Messenger
	db          *db.DB
	sessions    *storage.Store
	dir         Directory
	jobs        JobScheduler
	metrics     *metrics.Metrics
	loc         *time.Location
	disableHour int
	pwLength    int
	revealTTL   time.Duration
	workers     int
	now         func() time.Time
}

func New(opts Options) *Bot {
	b := &Bot{
		tg:          opts.Messenger,
		db:          opts.DB,
		sessions:    opts.Sessions,
		dir:         opts.Directory,
		jobs:        opts.Scheduler,
		metrics:     opts.Metrics,
		loc:         opts.Location,
		disableHour: opts.DisableHour,
		pwLength:    opts.PasswordLength,
		revealTTL:   opts.RevealTTL,
		workers:     opts.Workers,
		now:         time.Now,
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.pwLength <= 0 {
		b.pwLength = common.DefaultPasswordLength
	}
	if b.revealTTL <= 0 {
		b.revealTTL = defaultRevealTTL
	}
	if b.workers <= 0 {
		b.workers = common.DefaultUpdateWorkers
	}
	return b
}

// Run consumes updates until ctx is cancelled. Each update is handled on its
// own goroutine, at most Workers at a time; Run waits for them before
// returning.
func (b *Bot) Run(ctx context.Context, updates Updates) error {
	var handlers errgroup.Group
	handlers.SetLimit(b.workers)

	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		b.purgeLoop(ctx)
	}()

	log.Info().Int("workers", b.workers).Msg("Bot started")
	err := updates.Run(ctx, func(u telegram.Update) {
		handlers.Go(func() error {
			b.HandleUpdate(ctx, u)
			return nil
		})
	})
	_ = handlers.Wait()
	<-purgeDone
	log.Info().Msg("Bot stopped")
	return err
}

// HandleUpdate dispatches a single update. Panics are recovered so one bad
// update cannot take the worker pool down.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("update_id", u.UpdateID).Msg("Update handler panicked")
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && u.Message.Text != "":
		b.handleMessage(ctx, u.Message)
	}
}

// NotifyJob tells the job's creator how a scheduled block ended. HR mail
// jobs belong to the superadmin; jobs with no creator are not reported.
func (b *Bot) NotifyJob(job db.Job, jobErr error) {
	if job.CreatedBy == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	text := fmt.Sprintf("Блокировка %s выполнена (задача #%d).", job.SAM, job.ID)
	if jobErr != nil {
		text = fmt.Sprintf("Не удалось заблокировать %s (задача #%d): %v", job.SAM, job.ID, jobErr)
	}
	b.send(ctx, job.CreatedBy, text, nil)
}

func (b *Bot) purgeLoop(ctx context.Context) {
	if b.sessions == nil {
		return
	}
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.sessions.PurgeExpired(b.now())
			if err != nil {
				log.Warn().Err(err).Msg("Failed to purge expired reveals")
				continue
			}
			if n > 0 {
				log.Debug().Int("count", n).Msg("Purged expired reveals")
			}
		}
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup any) {
	if _, err := b.tg.SendMessage(ctx, chatID, text, markup); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) edit(ctx context.Context, msg *telegram.Message, text string, markup *telegram.InlineKeyboardMarkup) {
	if msg == nil {
		return
	}
	if err := b.tg.EditMessageText(ctx, msg.Chat.ID, msg.MessageID, text, markup); err != nil {
		log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to edit message")
	}
}

func (b *Bot) answer(ctx context.Context, id, text string, alert bool) {
	if err := b.tg.AnswerCallbackQuery(ctx, id, text, alert); err != nil {
		log.Warn().Err(err).Str("callback_id", id).Msg("Failed to answer callback")
	}
}

func (b *Bot) isAdmin(ctx context.Context, uid int64) bool {
	ok, err := b.db.IsAdmin(ctx, uid)
	if err != nil {
		log.Error().Err(err).Int64("user_id", uid).Msg("Admin check failed")
		return false
	}
	return ok
}

func (b *Bot) audit(ctx context.Context, actor int64, action, target string, details map[string]any) {
	if err := b.db.Audit(ctx, actor, action, target, details); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to write audit record")
	}
}

func mainKeyboard() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: common.ButtonResetPassword}, {Text: common.ButtonScheduleBlock}},
			{{Text: common.ButtonListJobs}, {Text: common.ButtonAdminMenu}},
		},
		ResizeKeyboard: true,
	}
}

func superMenu() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "Добавить админа", CallbackData: common.CallbackSuper + ":add"}},
		{{Text: "Удалить админа", CallbackData: common.CallbackSuper + ":remove"}},
		{{Text: "Список админов", CallbackData: common.CallbackSuper + ":list"}},
	}}
}

// candidateKeyboard builds one button per user. Users whose callback data
// would not fit Telegram's limit are left out; nil means none fit.
func candidateKeyboard(users []ad.User, data func(ad.User) string) *telegram.InlineKeyboardMarkup {
	markup := &telegram.InlineKeyboardMarkup{}
	for i, u := range users {
		if i == maxCandidates {
			break
		}
		cb := data(u)
		if len(cb) > common.MaxCallbackData {
			log.Warn().Str("sam", u.SamAccountName).Msg("Callback data too long, skipping candidate")
			continue
		}
		label := u.SamAccountName
		if u.DisplayName != "" {
			label = u.DisplayName + " / " + u.SamAccountName
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, []telegram.InlineKeyboardButton{
			{Text: truncateRunes(label, maxButtonRunes), CallbackData: cb},
		})
	}
	if len(markup.InlineKeyboard) == 0 {
		return nil
	}
	return markup
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func displayName(u ad.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.SamAccountName
}
