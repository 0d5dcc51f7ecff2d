package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramAPIURL = "TELEGRAM_API_URL"
	EnvPollTimeout    = "POLL_TIMEOUT"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvUpdateWorkers  = "UPDATE_WORKERS"
	EnvSuperAdminID   = "SUPERADMIN_ID"
	EnvTimezone       = "TIMEZONE"
	EnvDBPath         = "DB_PATH"
	EnvSessionPath    = "SESSION_PATH"
	EnvLogPath        = "LOG_PATH"
	EnvLogLevel       = "LOG_LEVEL"
	EnvDisableHour    = "DISABLE_HOUR"
	EnvPasswordLength = "PASSWORD_LENGTH"
	EnvRevealTTL      = "REVEAL_TTL"
	EnvMetricsPort    = "METRICS_PORT"
	EnvDashboardToken = "DASHBOARD_TOKEN"
)

// Active Directory connection keys
const (
	EnvADConnection = "AD_CONNECTION"
	EnvADHost       = "AD_HOST"
	EnvADPort       = "AD_PORT"
	EnvADHTTPS      = "AD_HTTPS"
	EnvADInsecure   = "AD_INSECURE"
	EnvADUser       = "AD_USER"
	EnvADPass       = "AD_PASS"
	EnvADSearchBase = "AD_SEARCH_BASE"
	EnvADTimeout    = "AD_TIMEOUT"
)

// HR mailbox keys
const (
	EnvIMAPHost        = "IMAP_HOST"
	EnvIMAPPort        = "IMAP_PORT"
	EnvIMAPUser        = "IMAP_USER"
	EnvIMAPPass        = "IMAP_PASS"
	EnvIMAPFolder      = "IMAP_FOLDER"
	EnvIMAPPollSeconds = "IMAP_POLL_SECONDS"
)

// Configuration defaults
const (
	DefaultTelegramAPIURL = "https://api.telegram.org"
	DefaultTimezone       = "Europe/Berlin"
	DefaultDBPath         = "bot.db"
	DefaultSessionPath    = "sessions.db"
	DefaultLogPath        = "logs/bot.log"
	DefaultLogLevel       = "info"
	DefaultADConnection   = ADConnectionLocal
	DefaultADPort         = 5985
	DefaultADSearchBase   = "DC=corp,DC=local"
	DefaultIMAPPort       = 993
	DefaultIMAPFolder     = "INBOX"
	DefaultIMAPPoll       = 300
	DefaultDisableHour    = 16
	DefaultPasswordLength = 12
	DefaultUpdateWorkers  = 8
	DefaultMetricsPort    = 8080
)

// AD connection modes
const (
	ADConnectionLocal = "local"
	ADConnectionWinRM = "winrm"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	CallbackSuper      = "super"
	CallbackReset      = "reset"
	CallbackShowPwd    = "showpwd"
	CallbackDisableSel = "disablesel"
	CallbackDisable    = "disable"
	MaxCallbackData    = 64
)

// Job types and statuses
const (
	JobTypeDisableAccount = "DISABLE_ACCOUNT"

	JobStatusScheduled = "SCHEDULED"
	JobStatusRunning   = "RUNNING"
	JobStatusDone      = "DONE"
	JobStatusFailed    = "FAILED"
	JobStatusCancelled = "CANCELLED"
)

// Audit actions
const (
	AuditAddAdmin        = "add_admin"
	AuditRemoveAdmin     = "remove_admin"
	AuditListAdmins      = "list_admins"
	AuditResetPassword   = "reset_password"
	AuditScheduleDisable = "schedule_disable"
	AuditDisableAccount  = "disable_account"
	AuditJobDisable      = "job_disable"
	AuditCancelJob       = "cancel_job"
	AuditRevealPassword  = "reveal_password"
)

// Roles
const (
	RoleSuperAdmin = "superadmin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// Reply keyboard labels
const (
	ButtonResetPassword = "Reset Password"
	ButtonScheduleBlock = "Schedule Block"
	ButtonListJobs      = "List Jobs"
	ButtonAdminMenu     = "Admin Menu"
)

// Job meta sources
const (
	SourceChat  = "chat"
	SourceEmail = "email"
)
