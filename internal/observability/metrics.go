package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightcast/brightcast/internal/authz"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authzChecks     *prometheus.CounterVec
	authzFallbacks  *prometheus.CounterVec
	tokensIssued    *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightcast_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brightcast_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightcast_authz_decisions_total",
		Help: "Hasil pemeriksaan otorisasi per resource dan action.",
	}, []string{"resource", "action", "decision"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightcast_authz_fallback_total",
		Help: "Degradasi role resolver berdasarkan alasan.",
	}, []string{"reason"})
	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "brightcast_tokens_issued_total",
		Help: "Token yang diterbitkan per kelas principal.",
	}, []string{"class"})
	registry.MustRegister(requests, duration, checks, fallbacks, tokens)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		authzChecks:     checks,
		authzFallbacks:  fallbacks,
		tokensIssued:    tokens,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAuthzCheck menghitung hasil pemeriksaan permission. Middleware
// auth memanggilnya lewat interface auth.CheckObserver.
func (m *Metrics) ObserveAuthzCheck(resource authz.Resource, action authz.Action, outcome string) {
	if m == nil {
		return
	}
	m.authzChecks.WithLabelValues(string(resource), string(action), outcome).Inc()
}

// ObserveTokenIssued menghitung token yang diterbitkan per kelas.
func (m *Metrics) ObserveTokenIssued(class string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(class).Inc()
}

// RecordDecision mengimplementasikan authz.DecisionRecorder untuk sisi
// metrik: hanya fallback resolver yang dihitung di sini, karena denial
// sudah tercatat lewat ObserveAuthzCheck.
func (m *Metrics) RecordDecision(_ context.Context, d authz.Decision) {
	if m == nil || d.Outcome != authz.DecisionFallback {
		return
	}
	m.authzFallbacks.WithLabelValues(d.Reason).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
