package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admin-activead/internal/ad"
	"admin-activead/internal/common"
	"admin-activead/internal/storage"
	"admin-activead/internal/telegram"

	"github.com/rs/zerolog/log"
)

const (
	msgAccessDenied = "Access denied"
	msgRevealGone   = "Пароль больше недоступен."
)

func (b *Bot) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	prefix, rest, _ := strings.Cut(cq.Data, ":")
	b.metrics.Callback(callbackLabel(prefix))
	log.Debug().Int64("user_id", cq.From.ID).Str("data", cq.Data).Msg("Callback received")

	switch prefix {
	case common.CallbackSuper:
		b.superCallback(ctx, cq, rest)
	case common.CallbackShowPwd:
		b.showPasswordCallback(ctx, cq, rest)
	case common.CallbackReset, common.CallbackDisableSel, common.CallbackDisable:
		if !b.isAdmin(ctx, cq.From.ID) {
			b.deny(ctx, cq)
			return
		}
		switch prefix {
		case common.CallbackReset:
			b.resetCallback(ctx, cq, rest)
		case common.CallbackDisableSel:
			b.disableSelectCallback(ctx, cq, rest)
		default:
			b.disableCallback(ctx, cq, rest)
		}
	default:
		b.answer(ctx, cq.ID, "Unknown action", false)
	}
}

func callbackLabel(prefix string) string {
	switch prefix {
	case common.CallbackSuper, common.CallbackShowPwd, common.CallbackReset,
		common.CallbackDisableSel, common.CallbackDisable:
		return prefix
	}
	return metricOther
}

func (b *Bot) deny(ctx context.Context, cq *telegram.CallbackQuery) {
	b.metrics.Denied()
	log.Warn().Int64("user_id", cq.From.ID).Str("data", cq.Data).Msg("Unauthorized callback")
	b.answer(ctx, cq.ID, msgAccessDenied, true)
}

// superCallback handles super:add[:id], super:remove[:id] (alias del) and
// super:list.
func (b *Bot) superCallback(ctx context.Context, cq *telegram.CallbackQuery, rest string) {
	uid := cq.From.ID
	parts := strings.Split(rest, ":")
	action := parts[0]
	if action == "del" {
		action = "remove"
	}

	switch action {
	case "add", "remove":
		if !b.db.IsSuperAdmin(uid) {
			b.deny(ctx, cq)
			return
		}
		if len(parts) < 2 || parts[1] == "" {
			b.askForUserID(ctx, cq, action)
			return
		}
		target, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || target <= 0 {
			b.answer(ctx, cq.ID, "Bad id", true)
			return
		}
		b.answer(ctx, cq.ID, b.changeAdmin(ctx, action, target, uid), false)
	case "list":
		if !b.isAdmin(ctx, uid) {
			b.deny(ctx, cq)
			return
		}
		ids, err := b.db.ListAdmins(ctx, uid)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list admins")
			b.answer(ctx, cq.ID, "Error", true)
			return
		}
		if len(ids) == 0 {
			b.answer(ctx, cq.ID, "No admins", true)
			return
		}
		list := make([]string, len(ids))
		for i, id := range ids {
			list[i] = strconv.FormatInt(id, 10)
		}
		b.answer(ctx, cq.ID, strings.Join(list, ", "), true)
	default:
		b.answer(ctx, cq.ID, "Unknown action", false)
	}
}

func (b *Bot) askForUserID(ctx context.Context, cq *telegram.CallbackQuery, action string) {
	if b.sessions == nil {
		b.answer(ctx, cq.ID, "Sessions unavailable", true)
		return
	}
	if err := b.sessions.SetPending(cq.From.ID, action); err != nil {
		log.Error().Err(err).Int64("user_id", cq.From.ID).Msg("Failed to store pending action")
		b.answer(ctx, cq.ID, "Error", true)
		return
	}
	b.answer(ctx, cq.ID, "", false)
	b.edit(ctx, cq.Message, "Отправьте числовой ID пользователя для изменения роли.", nil)
}

// changeAdmin applies add or remove and returns the short callback answer.
func (b *Bot) changeAdmin(ctx context.Context, action string, target, actor int64) string {
	if action == "add" {
		added, err := b.db.AddAdmin(ctx, target, actor)
		switch {
		case err != nil:
			log.Error().Err(err).Int64("target", target).Msg("Failed to add admin")
			return "Error"
		case added:
			return "Added"
		default:
			return "Already"
		}
	}
	removed, err := b.db.RemoveAdmin(ctx, target, actor)
	switch {
	case err != nil:
		log.Error().Err(err).Int64("target", target).Msg("Failed to remove admin")
		return "Error"
	case removed:
		return "Removed"
	default:
		return "Missing"
	}
}

func (b *Bot) showPasswordCallback(ctx context.Context, cq *telegram.CallbackQuery, token string) {
	uid := cq.From.ID
	if b.sessions == nil {
		b.answer(ctx, cq.ID, msgRevealGone, true)
		return
	}
	reveal, err := b.sessions.TakeReveal(token, uid, b.now())
	switch {
	case errors.Is(err, storage.ErrRevealForbidden):
		b.deny(ctx, cq)
		return
	case errors.Is(err, storage.ErrRevealExpired), errors.Is(err, storage.ErrRevealNotFound):
		b.answer(ctx, cq.ID, msgRevealGone, true)
		b.edit(ctx, cq.Message, "Пароль больше недоступен. Сбросьте его заново при необходимости.", nil)
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to read password reveal")
		b.answer(ctx, cq.ID, "Error", true)
		return
	}

	b.answer(ctx, cq.ID, "", false)
	b.edit(ctx, cq.Message, fmt.Sprintf("Учётка: %s\nПароль: %s", reveal.SAM, reveal.Password), nil)
	b.audit(ctx, uid, common.AuditRevealPassword, reveal.SAM, nil)
}

func (b *Bot) resetCallback(ctx context.Context, cq *telegram.CallbackQuery, sam string) {
	if sam == "" {
		b.answer(ctx, cq.ID, "Unknown action", false)
		return
	}
	b.answer(ctx, cq.ID, "", false)
	user := b.lookupUser(ctx, sam)
	b.edit(ctx, cq.Message, "Выбран: "+user.Label(), nil)
	b.resetPassword(ctx, cq.From.ID, callbackChat(cq), user)
}

func (b *Bot) disableSelectCallback(ctx context.Context, cq *telegram.CallbackQuery, rest string) {
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		b.answer(ctx, cq.ID, "Unknown action", false)
		return
	}
	unix, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		b.answer(ctx, cq.ID, "Unknown action", false)
		return
	}
	sam := rest[:i]
	runAt := time.Unix(unix, 0).In(b.loc)

	b.answer(ctx, cq.ID, "", false)
	reply, scheduled := b.scheduleDisable(ctx, cq.From.ID, b.lookupUser(ctx, sam), runAt)
	var markup *telegram.InlineKeyboardMarkup
	if scheduled {
		markup = disableNowKeyboard(sam)
	}
	b.edit(ctx, cq.Message, reply, markup)
}

func (b *Bot) disableCallback(ctx context.Context, cq *telegram.CallbackQuery, sam string) {
	if sam == "" {
		b.answer(ctx, cq.ID, "Unknown action", false)
		return
	}
	if err := b.disableNow(ctx, cq.From.ID, sam); err != nil {
		b.answer(ctx, cq.ID, "Ошибка при блокировке. Подробности в логах.", true)
		return
	}
	b.answer(ctx, cq.ID, "", false)
	b.edit(ctx, cq.Message, fmt.Sprintf("Учётная запись %s заблокирована.", sam), nil)
}

// lookupUser resolves sam to a directory entry for display purposes. When
// the directory is unreachable the bare login is used.
func (b *Bot) lookupUser(ctx context.Context, sam string) ad.User {
	users, err := b.dir.SearchCandidates(ctx, sam, maxCandidates)
	if err != nil {
		log.Warn().Err(err).Str("sam", sam).Msg("AD lookup failed")
	}
	for _, u := range users {
		if strings.EqualFold(u.SamAccountName, sam) {
			return u
		}
	}
	return ad.User{SamAccountName: sam}
}

func callbackChat(cq *telegram.CallbackQuery) int64 {
	if cq.Message != nil {
		return cq.Message.Chat.ID
	}
	return cq.From.ID
}
