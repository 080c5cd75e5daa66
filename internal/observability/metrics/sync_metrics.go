package metrics

import (
	"strings"
	"sync"
	"time"

	"crm-platform/internal/calls"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SweepResultOK      = "ok"
	SweepResultError   = "error"
	SweepResultSkipped = "skipped"

	ConfigResultOK          = "ok"
	ConfigResultAuthError   = "auth_error"
	ConfigResultTransient   = "transient_error"
	ConfigResultClientError = "client_error"

	WebhookResultOK       = "ok"
	WebhookResultInvalid  = "invalid"
	WebhookResultIgnored  = "ignored"
	WebhookResultDeferred = "deferred"
)

type Config struct {
	ServiceName string
	Environment string
}

// SyncMetrics captures call sync health: how many updates land, how many
// activities are derived and whether sweeps keep up.
type SyncMetrics struct {
	updatesApplied    *prometheus.CounterVec
	activitiesCreated *prometheus.CounterVec
	sweepRuns         *prometheus.CounterVec
	sweepConfigs      *prometheus.CounterVec
	sweepCalls        *prometheus.CounterVec
	sweepDuration     prometheus.Observer
	webhookEvents     *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registered on the default registerer.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = NewSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// NewSyncMetrics registers a fresh set of collectors on registerer. Tests pass a
// prometheus.NewRegistry() to stay isolated from the default registry.
func NewSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "crm-platform"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SyncMetrics{
		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsync_updates_applied_total",
			Help:        "Call updates applied to the call record store by source and result.",
			ConstLabels: constLabels,
		}, []string{"source", "result"}),
		activitiesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsync_activities_created_total",
			Help:        "Contact activities derived from terminal call transitions.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsync_sweep_runs_total",
			Help:        "Polling sweep runs by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		sweepConfigs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsync_sweep_config_results_total",
			Help:        "Per provider configuration sweep outcomes.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		sweepCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsync_sweep_calls_total",
			Help:        "Calls fetched by the polling sweep by apply result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "callsync_webhook_events_total",
			Help:        "Voice status callbacks by handling result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "callsync_sweep_duration_seconds",
		Help:        "Wall time of one polling sweep across every active configuration.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	m.sweepDuration = sweepDuration

	registerer.MustRegister(
		m.updatesApplied,
		m.activitiesCreated,
		m.sweepRuns,
		m.sweepConfigs,
		m.sweepCalls,
		sweepDuration,
		m.webhookEvents,
	)
	return m
}

func (m *SyncMetrics) UpdateApplied(source calls.Source, result string) {
	if m == nil {
		return
	}
	m.updatesApplied.WithLabelValues(sourceLabel(source), result).Inc()
}

func (m *SyncMetrics) ActivityCreated(source calls.Source) {
	if m == nil {
		return
	}
	m.activitiesCreated.WithLabelValues(sourceLabel(source)).Inc()
}

func (m *SyncMetrics) WebhookEvent(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) SweepRun(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	if result != SweepResultSkipped {
		m.sweepDuration.Observe(took.Seconds())
	}
}

func (m *SyncMetrics) SweepConfig(result string) {
	if m == nil {
		return
	}
	m.sweepConfigs.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) SweepCalls(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepCalls.WithLabelValues(result).Add(float64(n))
}

func sourceLabel(s calls.Source) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}
