package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admin-activead/internal/ai/nlp"
	"admin-activead/internal/common"
	"admin-activead/internal/db"
	"admin-activead/internal/scheduler"
	"admin-activead/internal/telegram"

	"github.com/rs/zerolog/log"
)

const helpText = `Команды:
/start - главное меню
/menu - показать клавиатуру
/whoami - ваш id и роль
/jobs - запланированные блокировки
/cancel <id> - отменить блокировку
/super - управление админами

Свободные фразы:
• Смени пароль Устиновой Наталье
• Заблокируй Иванова с 01.09.2025
• Отключи petrov завтра`

const (
	msgNoAccess      = "Недостаточно прав."
	msgNotUnderstood = "Не понял запрос. Пример: ‘Смени пароль Устиновой Наталье’."
)

// metricOther replaces label values that did not come from a known command
// or callback, keeping the series set bounded.
const metricOther = "other"

var knownCommands = map[string]bool{
	"start": true, "whoami": true, "menu": true, "help": true,
	"jobs": true, "cancel": true, "super": true, "admin_menu": true,
}

func commandLabel(name string) string {
	if knownCommands[name] {
		return name
	}
	return metricOther
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	b.handleText(ctx, msg, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	// "/jobs@ad_bot" in group chats
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	args := fields[1:]
	uid, chatID := msg.From.ID, msg.Chat.ID

	b.metrics.Command(commandLabel(name))
	log.Debug().Int64("user_id", uid).Str("command", name).Msg("Command received")

	switch name {
	case "start":
		if !b.isAdmin(ctx, uid) {
			b.send(ctx, chatID, "Доступ ограничен. Попросите супер-админа выдать права.", nil)
			return
		}
		b.clearPending(uid)
		b.send(ctx, chatID, "Готов к работе. Введите задачу свободной фразой или /help.", mainKeyboard())
	case "whoami":
		role, err := b.db.Role(ctx, uid)
		if err != nil {
			log.Error().Err(err).Int64("user_id", uid).Msg("Role lookup failed")
			role = common.RoleUser
		}
		b.send(ctx, chatID, fmt.Sprintf("Ваш id: %d\nРоль: %s", uid, role), nil)
	default:
		if !b.isAdmin(ctx, uid) {
			b.metrics.Denied()
			b.send(ctx, chatID, msgNoAccess, nil)
			return
		}
		b.handleAdminCommand(ctx, msg, name, args)
	}
}

func (b *Bot) handleAdminCommand(ctx context.Context, msg *telegram.Message, name string, args []string) {
	uid, chatID := msg.From.ID, msg.Chat.ID
	switch name {
	case "menu":
		b.clearPending(uid)
		b.send(ctx, chatID, "Меню:", mainKeyboard())
	case "help":
		b.send(ctx, chatID, helpText, nil)
	case "jobs":
		b.listJobs(ctx, chatID)
	case "cancel":
		b.cancelJob(ctx, uid, chatID, args)
	case "super", "admin_menu":
		b.send(ctx, chatID, "Админские действия:", superMenu())
	default:
		b.send(ctx, chatID, "Неизвестная команда. Наберите /help.", nil)
	}
}

func (b *Bot) handleText(ctx context.Context, msg *telegram.Message, text string) {
	uid, chatID := msg.From.ID, msg.Chat.ID
	if !b.isAdmin(ctx, uid) {
		b.metrics.Denied()
		b.send(ctx, chatID, msgNoAccess, nil)
		return
	}

	if b.handlePending(ctx, uid, chatID, text) {
		return
	}

	switch nlp.DetectIntent(text) {
	case nlp.IntentResetPassword:
		b.metrics.Command(string(nlp.IntentResetPassword))
		b.resetFlow(ctx, uid, chatID, nlp.ExtractNameQuery(text))
		return
	case nlp.IntentDisableAccount:
		b.metrics.Command(string(nlp.IntentDisableAccount))
		b.disableFlow(ctx, uid, chatID, text)
		return
	}

	cmd, args := nlp.ParseCommand(text)
	if cmd != "" {
		b.metrics.Command(cmd)
	}
	switch cmd {
	case nlp.CommandReset:
		if len(args) == 0 {
			b.send(ctx, chatID, "Использование: reset <фамилия или логин>. Или фразой: ‘Смени пароль Иванову’.", nil)
			return
		}
		b.resetFlow(ctx, uid, chatID, strings.Join(args, " "))
	case nlp.CommandDisable:
		if len(args) == 0 {
			b.send(ctx, chatID, "Использование: block <фамилия или логин> [дата]. Например: block petrov 01.09.2025.", nil)
			return
		}
		b.disableFlow(ctx, uid, chatID, strings.Join(args, " "))
	case nlp.CommandJobs:
		b.listJobs(ctx, chatID)
	case nlp.CommandAdmin:
		b.send(ctx, chatID, "Админские действия:", superMenu())
	default:
		b.send(ctx, chatID, msgNotUnderstood, nil)
	}
}

// handlePending completes a superadmin's add/remove that is waiting for a
// user id. It reports whether text was consumed.
func (b *Bot) handlePending(ctx context.Context, uid, chatID int64, text string) bool {
	if b.sessions == nil || !b.db.IsSuperAdmin(uid) {
		return false
	}
	action, err := b.sessions.TakePending(uid)
	if err != nil {
		log.Error().Err(err).Int64("user_id", uid).Msg("Failed to read pending action")
		return false
	}
	if action == "" {
		return false
	}

	target, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || target <= 0 {
		if err := b.sessions.SetPending(uid, action); err != nil {
			log.Error().Err(err).Int64("user_id", uid).Msg("Failed to restore pending action")
		}
		b.send(ctx, chatID, "Нужно число: Telegram user id.", nil)
		return true
	}

	switch action {
	case "add":
		added, err := b.db.AddAdmin(ctx, target, uid)
		switch {
		case err != nil:
			log.Error().Err(err).Int64("target", target).Msg("Failed to add admin")
			b.send(ctx, chatID, "Не удалось добавить админа. Подробности в логах.", nil)
		case added:
			b.send(ctx, chatID, fmt.Sprintf("Добавлен админ %d", target), nil)
		default:
			b.send(ctx, chatID, fmt.Sprintf("%d уже админ", target), nil)
		}
	case "remove":
		removed, err := b.db.RemoveAdmin(ctx, target, uid)
		switch {
		case err != nil:
			log.Error().Err(err).Int64("target", target).Msg("Failed to remove admin")
			b.send(ctx, chatID, "Не удалось удалить админа. Подробности в логах.", nil)
		case removed:
			b.send(ctx, chatID, fmt.Sprintf("Удалён админ %d", target), nil)
		default:
			b.send(ctx, chatID, fmt.Sprintf("%d не был админом", target), nil)
		}
	}
	return true
}

func (b *Bot) clearPending(uid int64) {
	if b.sessions == nil {
		return
	}
	if err := b.sessions.ClearPending(uid); err != nil {
		log.Warn().Err(err).Int64("user_id", uid).Msg("Failed to clear pending action")
	}
}

func (b *Bot) listJobs(ctx context.Context, chatID int64) {
	jobs, err := b.jobs.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		b.send(ctx, chatID, "Не удалось получить список задач.", nil)
		return
	}
	b.send(ctx, chatID, formatJobs(jobs, b.loc), nil)
}

func formatJobs(jobs []db.Job, loc *time.Location) string {
	if len(jobs) == 0 {
		return "Нет запланированных задач."
	}
	var sb strings.Builder
	for i, j := range jobs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "#%d %s %s → %s", j.ID, j.Type, j.SAM, j.RunAt.In(loc).Format(dateTimeLayout))
	}
	return sb.String()
}

func (b *Bot) cancelJob(ctx context.Context, uid, chatID int64, args []string) {
	if len(args) != 1 {
		b.send(ctx, chatID, "Использование: /cancel <id>", nil)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		b.send(ctx, chatID, "Использование: /cancel <id>", nil)
		return
	}

	job, err := b.jobs.Cancel(ctx, id, uid)
	switch {
	case errors.Is(err, db.ErrJobNotFound):
		b.send(ctx, chatID, fmt.Sprintf("Задача #%d не найдена.", id), nil)
	case errors.Is(err, scheduler.ErrNotScheduled):
		b.send(ctx, chatID, fmt.Sprintf("Задача #%d уже не запланирована (%s).", id, job.Status), nil)
	case err != nil:
		log.Error().Err(err).Int64("job_id", id).Msg("Failed to cancel job")
		b.send(ctx, chatID, "Не удалось отменить задачу. Подробности в логах.", nil)
	default:
		b.send(ctx, chatID, fmt.Sprintf("Задача #%d (%s) отменена.", id, job.SAM), nil)
	}
}
