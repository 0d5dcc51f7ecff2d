package cfg

import (
	"strings"
	"testing"
	"time"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		TelegramToken:  "123:ABC",
		TelegramAPIURL: "https://api.telegram.org",
		PollTimeout:    30 * time.Second,
		RequestTimeout: 45 * time.Second,
		UpdateWorkers:  8,
		SuperAdminID:   1,
		Timezone:       "UTC",
		DBPath:         "bot.db",
		SessionPath:    "sessions.db",
		AD: ADSettings{
			Connection: "local",
			Port:       5985,
			SearchBase: "DC=corp,DC=local",
			Timeout:    time.Minute,
		},
		IMAP: IMAPSettings{
			Port:         993,
			Folder:       "INBOX",
			PollInterval: 300 * time.Second,
		},
		DisableHour:    16,
		PasswordLength: 12,
		RevealTTL:      10 * time.Minute,
		MetricsPort:    8080,
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
	if settings.Location == nil || settings.Location.String() != "UTC" {
		t.Errorf("Expected UTC location to be resolved, got %v", settings.Location)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"empty token", func(s *Settings) { s.TelegramToken = "" }, "token"},
		{"empty API URL", func(s *Settings) { s.TelegramAPIURL = "" }, "API URL"},
		{"poll timeout too small", func(s *Settings) { s.PollTimeout = 0 }, "poll timeout"},
		{"poll timeout too large", func(s *Settings) { s.PollTimeout = 2 * time.Minute; s.RequestTimeout = 3 * time.Minute }, "poll timeout"},
		{"request timeout not above poll", func(s *Settings) { s.RequestTimeout = 30 * time.Second }, "request timeout"},
		{"no workers", func(s *Settings) { s.UpdateWorkers = 0 }, "workers"},
		{"too many workers", func(s *Settings) { s.UpdateWorkers = 65 }, "workers"},
		{"negative superadmin", func(s *Settings) { s.SuperAdminID = -5 }, "superadmin"},
		{"bad timezone", func(s *Settings) { s.Timezone = "Nowhere/City" }, "timezone"},
		{"empty db path", func(s *Settings) { s.DBPath = "" }, "database path"},
		{"empty session path", func(s *Settings) { s.SessionPath = "" }, "session path"},
		{"winrm without credentials", func(s *Settings) { s.AD.Connection = "winrm" }, "winrm"},
		{"winrm bad port", func(s *Settings) {
			s.AD = ADSettings{Connection: "winrm", Host: "h", User: "u", Pass: "p", Port: 0, SearchBase: "DC=x", Timeout: time.Minute}
		}, "AD port"},
		{"unknown connection", func(s *Settings) { s.AD.Connection = "ssh" }, "unknown AD connection"},
		{"empty search base", func(s *Settings) { s.AD.SearchBase = "" }, "search base"},
		{"AD timeout too short", func(s *Settings) { s.AD.Timeout = 0 }, "AD timeout"},
		{"IMAP poll too short", func(s *Settings) {
			s.IMAP.Host, s.IMAP.User, s.IMAP.Pass = "h", "u", "p"
			s.IMAP.PollInterval = time.Second
		}, "IMAP poll"},
		{"IMAP bad port", func(s *Settings) {
			s.IMAP.Host, s.IMAP.User, s.IMAP.Pass = "h", "u", "p"
			s.IMAP.Port = 70000
		}, "IMAP port"},
		{"disable hour out of range", func(s *Settings) { s.DisableHour = 24 }, "disable hour"},
		{"password too long", func(s *Settings) { s.PasswordLength = 500 }, "password length"},
		{"reveal TTL too short", func(s *Settings) { s.RevealTTL = time.Second }, "reveal TTL"},
		{"privileged metrics port", func(s *Settings) { s.MetricsPort = 80 }, "metrics port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSettings_IMAPIgnoredWhenDisabled(t *testing.T) {
	settings := createValidSettings()
	settings.IMAP.PollInterval = 0
	settings.IMAP.Port = 0

	if err := validateSettings(settings); err != nil {
		t.Errorf("IMAP limits should not apply when IMAP is disabled, got %v", err)
	}
}

func TestValidateSettings_MetricsDisabled(t *testing.T) {
	settings := createValidSettings()
	settings.MetricsPort = 0

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected metrics port 0 to be accepted, got %v", err)
	}
}
