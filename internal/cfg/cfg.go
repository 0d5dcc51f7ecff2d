package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admin-activead/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	TelegramToken  string
	TelegramAPIURL string
	PollTimeout    time.Duration
	RequestTimeout time.Duration
	UpdateWorkers  int

	SuperAdminID int64
	Timezone     string
	Location     *time.Location

	DBPath      string
	SessionPath string
	LogPath     string
	LogLevel    string

	AD   ADSettings
	IMAP IMAPSettings

	DisableHour    int
	PasswordLength int
	RevealTTL      time.Duration

	MetricsPort    int
	DashboardToken string
}

type ADSettings struct {
	Connection string
	Host       string
	Port       int
	HTTPS      bool
	Insecure   bool
	User       string
	Pass       string
	SearchBase string
	Timeout    time.Duration
}

type IMAPSettings struct {
	Host         string
	Port         int
	User         string
	Pass         string
	Folder       string
	PollInterval time.Duration
}

// Enabled reports whether the HR mailbox is fully configured.
func (s IMAPSettings) Enabled() bool {
	return s.Host != "" && s.User != "" && s.Pass != ""
}

// Addr returns host:port for dialing.
func (s IMAPSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ConfigFile struct {
	Telegram struct {
		Token          string `yaml:"token"`
		APIURL         string `yaml:"apiURL"`
		PollTimeout    string `yaml:"pollTimeout"`
		RequestTimeout string `yaml:"requestTimeout"`
		UpdateWorkers  int    `yaml:"updateWorkers"`
	} `yaml:"telegram"`

	Access struct {
		SuperAdminID int64 `yaml:"superAdminID"`
	} `yaml:"access"`

	AD struct {
		Connection string `yaml:"connection"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		HTTPS      bool   `yaml:"https"`
		Insecure   bool   `yaml:"insecure"`
		User       string `yaml:"user"`
		Pass       string `yaml:"pass"`
		SearchBase string `yaml:"searchBase"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"ad"`

	IMAP struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		User        string `yaml:"user"`
		Pass        string `yaml:"pass"`
		Folder      string `yaml:"folder"`
		PollSeconds int    `yaml:"pollSeconds"`
	} `yaml:"imap"`

	Jobs struct {
		DisableHour    int    `yaml:"disableHour"`
		PasswordLength int    `yaml:"passwordLength"`
		RevealTTL      string `yaml:"revealTTL"`
	} `yaml:"jobs"`

	System struct {
		Timezone       string `yaml:"timezone"`
		DBPath         string `yaml:"dbPath"`
		SessionPath    string `yaml:"sessionPath"`
		LogPath        string `yaml:"logPath"`
		LogLevel       string `yaml:"logLevel"`
		MetricsPort    *int   `yaml:"metricsPort"`
		DashboardToken string `yaml:"dashboardToken"`
	} `yaml:"system"`
}

// Load reads settings from CONFIG_FILE (with environment overrides) or from
// the environment alone. A .env file in the working directory is applied
// first without overriding variables that are already set.
func Load() (Settings, error) {
	_ = godotenv.Load()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	metricsPort := common.DefaultMetricsPort
	if config.System.MetricsPort != nil {
		metricsPort = *config.System.MetricsPort
	}

	imapPoll := config.IMAP.PollSeconds
	if imapPoll == 0 {
		imapPoll = common.DefaultIMAPPoll
	}

	settings := Settings{
		TelegramToken:  getEnvOrDefault(common.EnvTelegramToken, config.Telegram.Token),
		TelegramAPIURL: getEnvOrDefault(common.EnvTelegramAPIURL, orDefault(config.Telegram.APIURL, common.DefaultTelegramAPIURL)),
		PollTimeout:    getDurationOrDefault(common.EnvPollTimeout, parseDurationOr(config.Telegram.PollTimeout, 30*time.Second)),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, parseDurationOr(config.Telegram.RequestTimeout, 45*time.Second)),
		UpdateWorkers:  getIntFromEnvOrConfig(common.EnvUpdateWorkers, config.Telegram.UpdateWorkers, common.DefaultUpdateWorkers),
		SuperAdminID:   getInt64OrDefault(common.EnvSuperAdminID, config.Access.SuperAdminID),
		Timezone:       getEnvOrDefault(common.EnvTimezone, orDefault(config.System.Timezone, common.DefaultTimezone)),
		DBPath:         getEnvOrDefault(common.EnvDBPath, orDefault(config.System.DBPath, common.DefaultDBPath)),
		SessionPath:    getEnvOrDefault(common.EnvSessionPath, orDefault(config.System.SessionPath, common.DefaultSessionPath)),
		LogPath:        getEnvOrDefault(common.EnvLogPath, orDefault(config.System.LogPath, common.DefaultLogPath)),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		AD: ADSettings{
			Connection: getEnvOrDefault(common.EnvADConnection, orDefault(config.AD.Connection, common.DefaultADConnection)),
			Host:       getEnvOrDefault(common.EnvADHost, config.AD.Host),
			Port:       getIntFromEnvOrConfig(common.EnvADPort, config.AD.Port, common.DefaultADPort),
			HTTPS:      getBoolFromEnvOrConfig(common.EnvADHTTPS, config.AD.HTTPS),
			Insecure:   getBoolFromEnvOrConfig(common.EnvADInsecure, config.AD.Insecure),
			User:       getEnvOrDefault(common.EnvADUser, config.AD.User),
			Pass:       getEnvOrDefault(common.EnvADPass, config.AD.Pass),
			SearchBase: getEnvOrDefault(common.EnvADSearchBase, orDefault(config.AD.SearchBase, common.DefaultADSearchBase)),
			Timeout:    getDurationOrDefault(common.EnvADTimeout, parseDurationOr(config.AD.Timeout, time.Minute)),
		},
		IMAP: IMAPSettings{
			Host:         getEnvOrDefault(common.EnvIMAPHost, config.IMAP.Host),
			Port:         getIntFromEnvOrConfig(common.EnvIMAPPort, config.IMAP.Port, common.DefaultIMAPPort),
			User:         getEnvOrDefault(common.EnvIMAPUser, config.IMAP.User),
			Pass:         getEnvOrDefault(common.EnvIMAPPass, config.IMAP.Pass),
			Folder:       getEnvOrDefault(common.EnvIMAPFolder, orDefault(config.IMAP.Folder, common.DefaultIMAPFolder)),
			PollInterval: time.Duration(getIntOrDefault(common.EnvIMAPPollSeconds, imapPoll)) * time.Second,
		},
		DisableHour:    getIntFromEnvOrConfig(common.EnvDisableHour, config.Jobs.DisableHour, common.DefaultDisableHour),
		PasswordLength: getIntFromEnvOrConfig(common.EnvPasswordLength, config.Jobs.PasswordLength, common.DefaultPasswordLength),
		RevealTTL:      getDurationOrDefault(common.EnvRevealTTL, parseDurationOr(config.Jobs.RevealTTL, 10*time.Minute)),
		MetricsPort:    getIntOrDefault(common.EnvMetricsPort, metricsPort),
		DashboardToken: getEnvOrDefault(common.EnvDashboardToken, config.System.DashboardToken),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	token, err := getEnvRequired(common.EnvTelegramToken)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		TelegramToken:  token,
		TelegramAPIURL: getEnvOrDefault(common.EnvTelegramAPIURL, common.DefaultTelegramAPIURL),
		PollTimeout:    getDurationOrDefault(common.EnvPollTimeout, 30*time.Second),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, 45*time.Second),
		UpdateWorkers:  getIntOrDefault(common.EnvUpdateWorkers, common.DefaultUpdateWorkers),
		SuperAdminID:   getInt64OrDefault(common.EnvSuperAdminID, 0),
		Timezone:       getEnvOrDefault(common.EnvTimezone, common.DefaultTimezone),
		DBPath:         getEnvOrDefault(common.EnvDBPath, common.DefaultDBPath),
		SessionPath:    getEnvOrDefault(common.EnvSessionPath, common.DefaultSessionPath),
		LogPath:        getEnvOrDefault(common.EnvLogPath, common.DefaultLogPath),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		AD: ADSettings{
			Connection: getEnvOrDefault(common.EnvADConnection, common.DefaultADConnection),
			Host:       os.Getenv(common.EnvADHost),
			Port:       getIntOrDefault(common.EnvADPort, common.DefaultADPort),
			HTTPS:      getBoolOrDefault(common.EnvADHTTPS, false),
			Insecure:   getBoolOrDefault(common.EnvADInsecure, false),
			User:       os.Getenv(common.EnvADUser),
			Pass:       os.Getenv(common.EnvADPass),
			SearchBase: getEnvOrDefault(common.EnvADSearchBase, common.DefaultADSearchBase),
			Timeout:    getDurationOrDefault(common.EnvADTimeout, time.Minute),
		},
		IMAP: IMAPSettings{
			Host:         os.Getenv(common.EnvIMAPHost),
			Port:         getIntOrDefault(common.EnvIMAPPort, common.DefaultIMAPPort),
			User:         os.Getenv(common.EnvIMAPUser),
			Pass:         os.Getenv(common.EnvIMAPPass),
			Folder:       getEnvOrDefault(common.EnvIMAPFolder, common.DefaultIMAPFolder),
			PollInterval: time.Duration(getIntOrDefault(common.EnvIMAPPollSeconds, common.DefaultIMAPPoll)) * time.Second,
		},
		DisableHour:    getIntOrDefault(common.EnvDisableHour, common.DefaultDisableHour),
		PasswordLength: getIntOrDefault(common.EnvPasswordLength, common.DefaultPasswordLength),
		RevealTTL:      getDurationOrDefault(common.EnvRevealTTL, 10*time.Minute),
		MetricsPort:    getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		DashboardToken: os.Getenv(common.EnvDashboardToken),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// LoadStorage reads only what the offline CLI commands need: the timezone,
// database path and superadmin id. The Telegram token is not required.
func LoadStorage() (Settings, error) {
	_ = godotenv.Load()

	s := Settings{
		SuperAdminID: getInt64OrDefault(common.EnvSuperAdminID, 0),
		Timezone:     getEnvOrDefault(common.EnvTimezone, common.DefaultTimezone),
		DBPath:       getEnvOrDefault(common.EnvDBPath, common.DefaultDBPath),
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	s.Location = loc
	return s, nil
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings checks ranges and cross-field constraints and resolves
// the timezone into Location.
func validateSettings(settings *Settings) error {
	if settings.TelegramToken == "" {
		return fmt.Errorf("telegram token is required")
	}
	if settings.TelegramAPIURL == "" {
		return fmt.Errorf("telegram API URL cannot be empty")
	}

	if settings.PollTimeout < time.Second || settings.PollTimeout > time.Minute {
		return fmt.Errorf("poll timeout must be between 1s and 1m, got %v", settings.PollTimeout)
	}
	if settings.RequestTimeout <= settings.PollTimeout {
		return fmt.Errorf("request timeout (%v) must exceed poll timeout (%v)", settings.RequestTimeout, settings.PollTimeout)
	}
	if settings.UpdateWorkers < 1 || settings.UpdateWorkers > 64 {
		return fmt.Errorf("update workers must be between 1 and 64, got %d", settings.UpdateWorkers)
	}
	if settings.SuperAdminID < 0 {
		return fmt.Errorf("superadmin id cannot be negative, got %d", settings.SuperAdminID)
	}

	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", settings.Timezone, err)
	}
	settings.Location = loc

	if settings.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if settings.SessionPath == "" {
		return fmt.Errorf("session path cannot be empty")
	}

	switch settings.AD.Connection {
	case common.ADConnectionLocal:
	case common.ADConnectionWinRM:
		if settings.AD.Host == "" || settings.AD.User == "" || settings.AD.Pass == "" {
			return fmt.Errorf("winrm connection requires AD_HOST, AD_USER and AD_PASS")
		}
		if settings.AD.Port < 1 || settings.AD.Port > 65535 {
			return fmt.Errorf("AD port must be between 1 and 65535, got %d", settings.AD.Port)
		}
	default:
		return fmt.Errorf("unknown AD connection %q (want local or winrm)", settings.AD.Connection)
	}
	if settings.AD.SearchBase == "" {
		return fmt.Errorf("AD search base cannot be empty")
	}
	if settings.AD.Timeout < time.Second || settings.AD.Timeout > 10*time.Minute {
		return fmt.Errorf("AD timeout must be between 1s and 10m, got %v", settings.AD.Timeout)
	}

	if settings.IMAP.Enabled() {
		if settings.IMAP.Port < 1 || settings.IMAP.Port > 65535 {
			return fmt.Errorf("IMAP port must be between 1 and 65535, got %d", settings.IMAP.Port)
		}
		if settings.IMAP.PollInterval < 10*time.Second || settings.IMAP.PollInterval > 24*time.Hour {
			return fmt.Errorf("IMAP poll interval must be between 10s and 24h, got %v", settings.IMAP.PollInterval)
		}
	}

	if settings.DisableHour < 0 || settings.DisableHour > 23 {
		return fmt.Errorf("disable hour must be between 0 and 23, got %d", settings.DisableHour)
	}
	if settings.PasswordLength > 128 {
		return fmt.Errorf("password length must not exceed 128, got %d", settings.PasswordLength)
	}
	if settings.RevealTTL < time.Minute || settings.RevealTTL > 24*time.Hour {
		return fmt.Errorf("reveal TTL must be between 1m and 24h, got %v", settings.RevealTTL)
	}

	if settings.MetricsPort != 0 && (settings.MetricsPort < 1024 || settings.MetricsPort > 65535) {
		return fmt.Errorf("metrics port must be 0 or between 1024 and 65535, got %d", settings.MetricsPort)
	}

	return nil
}
