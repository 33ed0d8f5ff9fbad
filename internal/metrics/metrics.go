package metrics

import (
	"strconv"
	"time"

	"github.com/alecgard/roster/internal/account"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for roster.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sign-in metrics.
	ChallengesTotal          *prometheus.CounterVec
	ChallengeRejectionsTotal prometheus.Counter
	AuthFailuresTotal        *prometheus.CounterVec
	AuthSuccessesTotal       *prometheus.CounterVec

	// Account state machine metrics.
	AccountState        *prometheus.GaugeVec
	AccountTransitions  *prometheus.CounterVec
	SessionValidations  *prometheus.CounterVec
	ProfileResolutions  *prometheus.CounterVec
	ProfileRetriesTotal prometheus.Counter

	// Upload metrics.
	UploadBatchesTotal    *prometheus.CounterVec
	UploadOperationsTotal *prometheus.CounterVec
	UploadTerminalTotal   *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		ChallengesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_challenges_total",
			Help: "Total number of sign-in challenges issued, by delivery result.",
		}, []string{"result"}),

		ChallengeRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roster_challenge_rejections_total",
			Help: "Total number of challenge requests rejected by the rate limiter.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		AccountState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roster_auth_state",
			Help: "Current account state; 1 for the active state, 0 otherwise.",
		}, []string{"state"}),

		AccountTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_auth_transitions_total",
			Help: "Total number of account state transitions.",
		}, []string{"from", "to"}),

		SessionValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_session_validations_total",
			Help: "Total number of session validations by result.",
		}, []string{"result"}),

		ProfileResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_profile_resolutions_total",
			Help: "Total number of profile resolutions by outcome.",
		}, []string{"outcome"}),

		ProfileRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roster_profile_retry_attempts_total",
			Help: "Total number of profile fetch retries.",
		}),

		UploadBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_upload_batches_total",
			Help: "Total number of upload batch attempts by status.",
		}, []string{"status"}),

		UploadOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_upload_operations_total",
			Help: "Total number of mutations sent to the remote by kind and result.",
		}, []string{"kind", "result"}),

		UploadTerminalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_upload_terminal_failures_total",
			Help: "Total number of batches dropped on a terminal failure.",
		}, []string{"table", "kind"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roster_server_start_time_seconds",
			Help: "Unix timestamp when the process started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChallengesTotal,
		m.ChallengeRejectionsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.AccountState,
		m.AccountTransitions,
		m.SessionValidations,
		m.ProfileResolutions,
		m.ProfileRetriesTotal,
		m.UploadBatchesTotal,
		m.UploadOperationsTotal,
		m.UploadTerminalTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PoolStats is a point-in-time view of the database connection pool.
type PoolStats struct {
	Total    int32
	Idle     int32
	Acquired int32
}

// RegisterDBPool exposes connection pool gauges read from stat at scrape time.
func (m *Metrics) RegisterDBPool(stat func() PoolStats) {
	gauge := func(name, help string, pick func(PoolStats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(pick(stat())) })
	}
	m.registry.MustRegister(
		gauge("roster_db_pool_total_conns", "Total connections held by the pool.",
			func(s PoolStats) int32 { return s.Total }),
		gauge("roster_db_pool_idle_conns", "Idle connections in the pool.",
			func(s PoolStats) int32 { return s.Idle }),
		gauge("roster_db_pool_acquired_conns", "Connections currently checked out of the pool.",
			func(s PoolStats) int32 { return s.Acquired }),
	)
}

// RegisterOutboxDepth exposes the number of batches waiting to upload.
func (m *Metrics) RegisterOutboxDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "roster_outbox_depth",
		Help: "Number of mutation batches waiting to upload.",
	}, func() float64 { return float64(depth()) }))
}

// ObserveHTTP records a completed HTTP request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(seconds)
}

// IncChallenge counts an issued challenge by delivery result.
func (m *Metrics) IncChallenge(result string) {
	m.ChallengesTotal.WithLabelValues(result).Inc()
}

// IncChallengeRejection increments the challenge rate limit counter.
func (m *Metrics) IncChallengeRejection() {
	m.ChallengeRejectionsTotal.Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// ObserveTransition implements account.Observer.
func (m *Metrics) ObserveTransition(from, to account.State) {
	m.AccountTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.AccountState.WithLabelValues(from.String()).Set(0)
	m.AccountState.WithLabelValues(to.String()).Set(1)
}

// ObserveValidation implements account.Observer.
func (m *Metrics) ObserveValidation(result string) {
	m.SessionValidations.WithLabelValues(result).Inc()
}

// ObserveResolution implements account.Observer.
func (m *Metrics) ObserveResolution(outcome string) {
	m.ProfileResolutions.WithLabelValues(outcome).Inc()
}

// ObserveRetry implements account.Observer.
func (m *Metrics) ObserveRetry() {
	m.ProfileRetriesTotal.Inc()
}

// ObserveBatch implements upload.Observer.
func (m *Metrics) ObserveBatch(status string) {
	m.UploadBatchesTotal.WithLabelValues(status).Inc()
}

// ObserveOperation implements upload.Observer.
func (m *Metrics) ObserveOperation(kind, result string) {
	m.UploadOperationsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveTerminal implements upload.Observer.
func (m *Metrics) ObserveTerminal(table, kind string) {
	m.UploadTerminalTotal.WithLabelValues(table, kind).Inc()
}
