// Package metrics exposes Prometheus instrumentation for the orchestrator:
// HTTP request counters/histograms, plus counters and gauges over
// domain-specific events (captures, scans, arbiter leases).
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nightwatch_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// CapturesTotal counts every CaptureResult the scheduler produces,
	// labeled by satellite and outcome.
	CapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightwatch_captures_total",
			Help: "Total number of pass captures, by satellite and success.",
		},
		[]string{"satellite", "success"},
	)

	// CaptureDurationSeconds observes wall-clock capture duration
	// (RecordPass start to finish), labeled by satellite.
	CaptureDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nightwatch_capture_duration_seconds",
			Help:    "Capture duration in seconds, by satellite.",
			Buckets: []float64{10, 30, 60, 120, 180, 300, 600},
		},
		[]string{"satellite"},
	)

	// SSTVScansTotal counts ground-SSTV scanner sweeps, labeled by whether
	// a signal was detected.
	SSTVScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightwatch_sstv_scans_total",
			Help: "Total number of SstvScanner sweeps, by detection outcome.",
		},
		[]string{"detected"},
	)

	// ArbiterLeaseAcquisitionsTotal counts Arbiter.Acquire calls, labeled
	// by the requesting intent and whether the lease was granted.
	ArbiterLeaseAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightwatch_arbiter_lease_acquisitions_total",
			Help: "Total Arbiter lease acquisition attempts, by intent and outcome.",
		},
		[]string{"intent", "granted"},
	)

	// FFTSubscribersGauge tracks the live fft_subscribe count.
	FFTSubscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightwatch_fft_subscribers",
			Help: "Current number of active FFT WebSocket subscribers.",
		},
	)

	// SDRConnectedGauge is 1 when the configured SDR is present, 0
	// otherwise.
	SDRConnectedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightwatch_sdr_connected",
			Help: "1 if the SDR device is currently reachable, 0 otherwise.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpDurationSeconds,
		CapturesTotal, CaptureDurationSeconds, SSTVScansTotal,
		ArbiterLeaseAcquisitionsTotal, FFTSubscribersGauge, SDRConnectedGauge,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request, with
// path cardinality collapsed by normalizeRoute.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

// knownRoutes lists every exact, non-parameterized route the HTTP surface
// serves.
var knownRoutes = map[string]bool{
	"/ws": true, "/metrics": true, "/healthz": true,
	"/api/status": true, "/api/passes": true, "/api/captures": true,
	"/api/summary": true, "/api/fft/status": true, "/api/fft/stop": true,
	"/api/fft/notch": true, "/api/sstv/status": true, "/api/sstv/capture": true,
	"/api/config/gain": true, "/api/trigger": true, "/api/tle-refresh": true,
	"/api/pause": true, "/api/resume": true, "/api/skip": true, "/api/cancel": true,
}

// normalizeRoute collapses path-parameterized routes (/api/fft/notch/:id,
// /api/images/:name) into a single label so per-request cardinality stays
// bounded regardless of how many distinct notch IDs or image names are
// ever requested, and routes a scanner never recognizes (bot probes,
// typos) into "other" rather than minting a fresh label per path.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := cutPrefix(path, "/api/fft/notch/"); ok && rest != "" {
		return "/api/fft/notch/{id}"
	}
	if rest, ok := cutPrefix(path, "/api/images/"); ok && rest != "" {
		return "/api/images/{name}"
	}
	return "other"
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
