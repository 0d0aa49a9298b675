package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. A nil receiver is a
// no-op so services can be constructed without metrics in tests.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	rateLimits      *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	blacklistChecks *prometheus.CounterVec
	pruned          *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	rateLimits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_rate_limit_rejections_total",
		Help: "Requests rejected by the security checkpoint",
	}, []string{"reason"})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sessions_total",
		Help: "Session lifecycle transitions",
	}, []string{"action"})

	rotations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Refresh token rotations by outcome",
	}, []string{"outcome"})

	blacklistChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_blacklist_checks_total",
		Help: "Access token blacklist lookups by result",
	}, []string{"result"})

	pruned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_prune_deleted_total",
		Help: "Rows removed by background pruning",
	}, []string{"target"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginAttempts, rateLimits, sessions, rotations, blacklistChecks, pruned, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginAttempts:   loginAttempts,
		rateLimits:      rateLimits,
		sessions:        sessions,
		rotations:       rotations,
		blacklistChecks: blacklistChecks,
		pruned:          pruned,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

func (m *MetricsService) RecordLoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *MetricsService) RecordRateLimit(reason string) {
	if m == nil {
		return
	}
	m.rateLimits.WithLabelValues(reason).Inc()
}

func (m *MetricsService) RecordSession(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessions.WithLabelValues(action).Add(float64(n))
}

func (m *MetricsService) RecordRotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

func (m *MetricsService) RecordBlacklistCheck(result string) {
	if m == nil {
		return
	}
	m.blacklistChecks.WithLabelValues(result).Inc()
}

func (m *MetricsService) RecordPruned(target string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.WithLabelValues(target).Add(float64(n))
}
