package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"admin-activead/internal/ad"
	"admin-activead/internal/ai/nlp"
	"admin-activead/internal/common"
	"admin-activead/internal/telegram"

	"github.com/rs/zerolog/log"
)

const (
	msgADError      = "Ошибка обращения к AD. Подробности в логах."
	msgResetFailed  = "Ошибка при смене пароля. Подробности в логах."
	msgUserNotFound = "Пользователь не найден."
)

func (b *Bot) resetFlow(ctx context.Context, uid, chatID int64, query string) {
	if query == "" {
		b.send(ctx, chatID, "Кого именно? Укажите фамилию и имя.", nil)
		return
	}

	users, err := b.dir.SearchCandidates(ctx, query, maxCandidates)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("AD search failed")
		b.send(ctx, chatID, msgADError, nil)
		return
	}

	switch len(users) {
	case 0:
		b.send(ctx, chatID, msgUserNotFound, nil)
	case 1:
		b.resetPassword(ctx, uid, chatID, users[0])
	default:
		markup := candidateKeyboard(users, func(u ad.User) string {
			return common.CallbackReset + ":" + u.SamAccountName
		})
		if markup == nil {
			b.send(ctx, chatID, msgUserNotFound, nil)
			return
		}
		b.send(ctx, chatID, "Найдено несколько, уточните:", markup)
	}
}

// resetPassword sets a fresh password that must be changed at next logon.
// The password itself is only shown through a one-shot reveal button.
func (b *Bot) resetPassword(ctx context.Context, uid, chatID int64, user ad.User) {
	sam := user.SamAccountName
	// without the reveal store the new password could never be shown
	if b.sessions == nil {
		log.Error().Str("sam", sam).Msg("Session store unavailable, refusing password reset")
		b.send(ctx, chatID, msgResetFailed, nil)
		return
	}
	password, err := ad.GeneratePassword(b.pwLength)
	if err != nil {
		log.Error().Err(err).Msg("Password generation failed")
		b.send(ctx, chatID, msgResetFailed, nil)
		return
	}

	if err := b.dir.ResetPassword(ctx, sam, password, true); err != nil {
		log.Error().Err(err).Str("sam", sam).Int64("actor", uid).Msg("Password reset failed")
		b.send(ctx, chatID, msgResetFailed, nil)
		return
	}
	b.audit(ctx, uid, common.AuditResetPassword, sam, map[string]any{"force_change": true})
	log.Info().Str("sam", sam).Int64("actor", uid).Msg("Password reset")

	text := fmt.Sprintf("Пароль для %s (%s) сброшен. Пользователю будет предложена смена при входе.", displayName(user), sam)
	token, err := b.sessions.PutReveal(uid, sam, password, b.revealTTL)
	if err != nil {
		log.Error().Err(err).Str("sam", sam).Msg("Failed to store password reveal")
		b.send(ctx, chatID, text+"\nНе удалось сохранить пароль для показа, сбросьте его ещё раз.", nil)
		return
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "Показать пароль", CallbackData: common.CallbackShowPwd + ":" + token}},
	}}
	b.send(ctx, chatID, text, markup)
}

// disableFlow schedules a block for the account named in text on the date
// found in text, or today, at the configured hour.
func (b *Bot) disableFlow(ctx context.Context, uid, chatID int64, text string) {
	query := nlp.NameQuery(text)
	if query == "" {
		b.send(ctx, chatID, "Кого именно? Укажите фамилию и имя.", nil)
		return
	}

	now := b.now().In(b.loc)
	day, ok := nlp.ExtractDate(text, now)
	if !ok {
		day = now
	}
	runAt := nlp.AtHour(day, b.disableHour, b.loc)

	users, err := b.dir.SearchCandidates(ctx, query, maxCandidates)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("AD search failed")
		b.send(ctx, chatID, msgADError, nil)
		return
	}

	switch len(users) {
	case 0:
		b.send(ctx, chatID, msgUserNotFound, nil)
	case 1:
		reply, scheduled := b.scheduleDisable(ctx, uid, users[0], runAt)
		var markup any
		if kb := disableNowKeyboard(users[0].SamAccountName); scheduled && kb != nil {
			markup = kb
		}
		b.send(ctx, chatID, reply, markup)
	default:
		unix := strconv.FormatInt(runAt.Unix(), 10)
		markup := candidateKeyboard(users, func(u ad.User) string {
			return common.CallbackDisableSel + ":" + u.SamAccountName + ":" + unix
		})
		if markup == nil {
			b.send(ctx, chatID, msgUserNotFound, nil)
			return
		}
		b.send(ctx, chatID, "Уточните пользователя для блокировки:", markup)
	}
}

// scheduleDisable creates the job and returns the reply text and whether
// the job exists.
func (b *Bot) scheduleDisable(ctx context.Context, uid int64, user ad.User, runAt time.Time) (string, bool) {
	sam := user.SamAccountName
	job, err := b.jobs.Schedule(ctx, sam, runAt, uid, map[string]any{"source": common.SourceChat})
	if err != nil {
		log.Error().Err(err).Str("sam", sam).Msg("Failed to schedule disable")
		return "Не удалось запланировать блокировку. Подробности в логах.", false
	}
	b.audit(ctx, uid, common.AuditScheduleDisable, sam, map[string]any{
		"when":   job.RunAt.In(b.loc).Format(time.RFC3339),
		"job_id": job.ID,
	})
	return fmt.Sprintf("Запланирована блокировка %s в %s.", displayName(user), job.RunAt.In(b.loc).Format(dateTimeLayout)), true
}

func (b *Bot) disableNow(ctx context.Context, uid int64, sam string) error {
	if err := b.dir.DisableAccount(ctx, sam); err != nil {
		log.Error().Err(err).Str("sam", sam).Int64("actor", uid).Msg("Disable failed")
		return err
	}
	b.audit(ctx, uid, common.AuditDisableAccount, sam, nil)
	log.Info().Str("sam", sam).Int64("actor", uid).Msg("Account disabled")
	return nil
}

func disableNowKeyboard(sam string) *telegram.InlineKeyboardMarkup {
	data := common.CallbackDisable + ":" + sam
	if len(data) > common.MaxCallbackData {
		return nil
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "Заблокировать сейчас", CallbackData: data}},
	}}
}
