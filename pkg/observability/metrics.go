package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Login metrics
	LoginsTotal        *prometheus.CounterVec
	LoginDuration      prometheus.Histogram
	AccountsCreated    prometheus.Counter
	ProfileFieldWrites prometheus.Counter

	// Group sync metrics
	GroupSyncOpsTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsync_logins_total",
				Help: "Total number of reconciled logins by result",
			},
			[]string{"result"},
		),
		LoginDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "idsync_login_duration_seconds",
				Help:    "Duration of a full login reconciliation in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AccountsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idsync_accounts_created_total",
				Help: "Total number of local accounts created from external identities",
			},
		),
		ProfileFieldWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idsync_profile_field_writes_total",
				Help: "Total number of profile field updates written during sync",
			},
		),
		GroupSyncOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsync_group_sync_ops_total",
				Help: "Total number of group membership operations by op (add, remove, skip)",
			},
			[]string{"op"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsync_store_operations_total",
				Help: "Total number of record store operations",
			},
			[]string{"operation"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idsync_store_operation_duration_seconds",
				Help:    "Record store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idsync_store_errors_total",
				Help: "Total number of record store errors",
			},
			[]string{"operation"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idsync_sessions_active",
				Help: "Number of currently active login sessions",
			},
		),
	}

	registry.MustRegister(
		m.LoginsTotal,
		m.LoginDuration,
		m.AccountsCreated,
		m.ProfileFieldWrites,
		m.GroupSyncOpsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.SessionsActive,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
