package nlp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		args []string
	}{
		{"Reset Password", CommandReset, []string{}},
		{"reset password ivanov", CommandReset, []string{"ivanov"}},
		{"  RESET ivanov  ", CommandReset, []string{"ivanov"}},
		{"Schedule Block", CommandDisable, []string{}},
		{"block petrov 01.09.2025", CommandDisable, []string{"petrov", "01.09.2025"}},
		{"disable sidorov", CommandDisable, []string{"sidorov"}},
		{"List Jobs", CommandJobs, []string{}},
		{"jobs", CommandJobs, []string{}},
		{"Admin Menu", CommandAdmin, []string{}},
		{"admin", CommandAdmin, []string{}},
		{"привет", "", []string{"привет"}},
		{"", "", []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args := ParseCommand(tt.text)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Смени пароль Устиновой Наталье", IntentResetPassword},
		{"сбрось пароль ivanov", IntentResetPassword},
		{"Сбросить  пароль Петрову", IntentResetPassword},
		{"reset password for ivanov", IntentResetPassword},
		{"RESET PASS ivanov", IntentResetPassword},
		{"Заблокируй Иванова", IntentDisableAccount},
		{"отключи petrov завтра", IntentDisableAccount},
		{"disable account sidorov", IntentDisableAccount},
		{"Сидоров уволен с 01.09.2025", IntentDisableAccount},
		{"надо уволить Петрова", IntentDisableAccount},
		{"привет, как дела?", IntentNone},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.text))
		})
	}
}

func TestExtractNameQuery(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Смени пароль Устиновой Наталье", "Устиновой Наталье"},
		{"сбрось пароль   ivanov ", "ivanov"},
		{"заблокируй Иванова с 01.09.2025", "Иванова"},
		{"Заблокируй Петрова 5 сентября", "Петрова"},
		{"отключи sidorov завтра", "sidorov"},
		{"смени пароль", ""},
		{"заблокируй 01.09.2025", ""},
		{"ничего не делай", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractNameQuery(tt.text))
		})
	}
}

func TestRemoveDates(t *testing.T) {
	assert.Equal(t, "petrov", RemoveDates("petrov 01.09.2025"))
	assert.Equal(t, "Иванов Иван", RemoveDates("Иванов Иван до завтра"))
	assert.Empty(t, RemoveDates("с 1 июля"))
}

func TestNameQuery(t *testing.T) {
	assert.Equal(t, "Иванова", NameQuery("Заблокируй Иванова завтра"))
	assert.Equal(t, "Сидоров", NameQuery("Сидоров уволен с 01.09.2025"))
	assert.Equal(t, "petrov", NameQuery("petrov 01.09.2025"))
	assert.Empty(t, NameQuery("заблокируй"))
}

func TestExtractDate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2025, 8, 20, 14, 30, 0, 0, loc)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, loc) }

	tests := []struct {
		text string
		want time.Time
		ok   bool
	}{
		{"с 31.08.2025", day(2025, 8, 31), true},
		{"31-08-2025", day(2025, 8, 31), true},
		{"31/08/25", day(2025, 8, 31), true},
		{"2025-09-01", day(2025, 9, 1), true},
		{"1 июля 2024", day(2024, 7, 1), true},
		{"5 Сентября", day(2025, 9, 5), true},
		{"сегодня", day(2025, 8, 20), true},
		{"Завтра", day(2025, 8, 21), true},
		{"послезавтра", day(2025, 8, 22), true},
		{"через 3 дня", day(2025, 8, 23), true},
		{"через 10 дней", day(2025, 8, 30), true},
		{"через 2 недели", day(2025, 9, 3), true},
		{"31.02.2025", time.Time{}, false},
		{"30 февраля 2025", time.Time{}, false},
		{"1.1.202", time.Time{}, false},
		{"без даты", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractDate(tt.text, now)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
				assert.Equal(t, loc, got.Location())
			}
		})
	}
}

func TestParseDate_WholeText(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	got, ok := ParseDate("  15.01.2025 ", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), got)

	_, ok = ParseDate("до 15.01.2025", now)
	assert.False(t, ok)
}

func TestAtHour(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	date := time.Date(2024, 7, 1, 0, 0, 0, 0, loc)
	got := AtHour(date, 16, loc)
	assert.Equal(t, time.Date(2024, 7, 1, 16, 0, 0, 0, loc), got)
}

func TestParseHRMail(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("full name", func(t *testing.T) {
		notice, ok := ParseHRMail("", "Просьба уволить Иванов Иван Иванович 1 июля 2024", now)
		require.True(t, ok)
		assert.Equal(t, "Иванов Иван Иванович", notice.FIO)
		assert.Empty(t, notice.SAM)
		assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), notice.Date)
	})

	t.Run("explicit sam", func(t *testing.T) {
		notice, ok := ParseHRMail("Увольнение сотрудника", "Последний рабочий день 15.07.2024\nsam: I.Petrov", now)
		require.True(t, ok)
		assert.Equal(t, "i.petrov", notice.SAM)
		assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), notice.Date)
	})

	t.Run("stop words before name", func(t *testing.T) {
		notice, ok := ParseHRMail("Увольнение Сидоров Пётр", "дата: 2024-08-01", now)
		require.True(t, ok)
		assert.Equal(t, "Сидоров Пётр", notice.FIO)
	})

	t.Run("no data", func(t *testing.T) {
		_, ok := ParseHRMail("", "Неразборчивое письмо без нужных данных", now)
		assert.False(t, ok)
	})

	t.Run("no date", func(t *testing.T) {
		_, ok := ParseHRMail("", "Просьба уволить Иванов Иван", now)
		assert.False(t, ok)
	})

	t.Run("no name", func(t *testing.T) {
		_, ok := ParseHRMail("", "уволить с 01.07.2024", now)
		assert.False(t, ok)
	})
}
