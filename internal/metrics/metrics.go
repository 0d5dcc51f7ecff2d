// Package metrics provides Prometheus metrics collection for the AD admin bot.
// It defines the counters, gauges and histograms exposed on the metrics
// endpoint: Telegram traffic, Active Directory operations, scheduled jobs and
// the HR mailbox poller.
//
// All recording helpers are safe to call on a nil *Metrics so that
// components can run without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Telegram metrics
	UpdatesReceived prometheus.Counter     // Total number of updates received
	CommandsTotal   *prometheus.CounterVec // Handled commands and intents by name
	CallbacksTotal  *prometheus.CounterVec // Handled callback queries by action
	AccessDenied    prometheus.Counter     // Requests rejected for missing role
	PollErrors      prometheus.Counter     // Failed getUpdates calls

	// Active Directory metrics
	ADOperations *prometheus.CounterVec   // AD operations by op and result
	ADLatency    *prometheus.HistogramVec // AD script latency by op

	// Scheduler metrics
	JobsScheduled prometheus.Counter // Disable jobs created
	JobsDone      prometheus.Counter // Disable jobs executed successfully
	JobsFailed    prometheus.Counter // Disable jobs that failed
	JobsCancelled prometheus.Counter // Disable jobs cancelled
	JobsPending   prometheus.Gauge   // Currently armed jobs

	// Mail metrics
	MailPolls     prometheus.Counter // IMAP poll cycles
	MailProcessed prometheus.Counter // HR mails that produced a job
	MailErrors    prometheus.Counter // IMAP poll failures

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		UpdatesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_updates_total",
			Help: "Total number of Telegram updates received",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Handled commands and free-text intents by name",
		}, []string{"command"}),
		CallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_callbacks_total",
			Help: "Handled callback queries by action",
		}, []string{"action"}),
		AccessDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "bot_access_denied_total",
			Help: "Requests rejected because the user lacks the required role",
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_poll_errors_total",
			Help: "Total number of failed getUpdates calls",
		}),
		ADOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ad_operations_total",
			Help: "Active Directory operations by operation and result",
		}, []string{"op", "result"}),
		ADLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ad_operation_duration_seconds",
			Help:    "Active Directory script latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op"}),
		JobsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobs_scheduled_total",
			Help: "Total number of disable jobs scheduled",
		}),
		JobsDone: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobs_done_total",
			Help: "Total number of disable jobs executed successfully",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of disable jobs that failed",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Total number of disable jobs cancelled",
		}),
		JobsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_pending",
			Help: "Number of armed disable jobs",
		}),
		MailPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_polls_total",
			Help: "Total number of HR mailbox poll cycles",
		}),
		MailProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_processed_total",
			Help: "Total number of HR mails that produced a disable job",
		}),
		MailErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_errors_total",
			Help: "Total number of HR mailbox poll failures",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

func (m *Metrics) UpdateReceived() {
	if m == nil {
		return
	}
	m.UpdatesReceived.Inc()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) Callback(action string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) Denied() {
	if m == nil {
		return
	}
	m.AccessDenied.Inc()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.PollErrors.Inc()
	m.ErrorsTotal.Inc()
}

// ObserveAD records one Active Directory operation.
func (m *Metrics) ObserveAD(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.ErrorsTotal.Inc()
	}
	m.ADOperations.WithLabelValues(op, result).Inc()
	m.ADLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) JobScheduled() {
	if m == nil {
		return
	}
	m.JobsScheduled.Inc()
}

// JobFinished records the outcome of an executed job.
func (m *Metrics) JobFinished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.JobsFailed.Inc()
		m.ErrorsTotal.Inc()
		return
	}
	m.JobsDone.Inc()
}

func (m *Metrics) JobCancelled() {
	if m == nil {
		return
	}
	m.JobsCancelled.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.JobsPending.Set(float64(n))
}

func (m *Metrics) MailPoll(err error) {
	if m == nil {
		return
	}
	m.MailPolls.Inc()
	if err != nil {
		m.MailErrors.Inc()
		m.ErrorsTotal.Inc()
	}
}

func (m *Metrics) MailHandled() {
	if m == nil {
		return
	}
	m.MailProcessed.Inc()
}
