// Package telemetry unifies OpenTelemetry tracing and Prometheus metrics
// for the audit pipeline.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/domainlink/linkauditor/internal/config"
)

// --- CUSTOM METRIC DEFINITIONS ---

var (
	queueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkauditor_queue_depth",
			Help: "Current job queue depth, labeled by state (waiting, leased, dead_letter).",
		},
		[]string{"state"},
	)

	leasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkauditor_queue_leases_total",
			Help: "Total number of jobs leased by worker pool instances.",
		},
	)

	analyserOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkauditor_analyser_outcomes_total",
			Help: "Total analyser runs, labeled by resulting link state.",
		},
		[]string{"state"},
	)

	analyserDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkauditor_analyser_duration_seconds",
			Help:    "Wall time to analyse a single source URL end to end.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	proxyFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkauditor_proxy_fallback_total",
			Help: "Total number of analyser runs that fell back to the rendering proxy.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	fetchRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkauditor_fetch_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations before fetching a source page.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	meterProv *metric.MeterProvider
	initErr   error
)

// --- INITIALIZATION ---

// InitTelemetry sets up tracing and the Prometheus-backed metrics
// bridge. It is idempotent; only the first call's cfg takes effect.
func InitTelemetry(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, *metric.MeterProvider, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName("linkauditor"),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		// No span exporter is wired by default; a collector can be added
		// via sdktrace.WithBatcher without changing call sites.
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)

		mp := metric.NewMeterProvider(metric.WithResource(res))
		otel.SetMeterProvider(mp)

		traceProv = tp
		meterProv = mp
	})
	return traceProv, meterProv, initErr
}

// --- HTTP HANDLER & MIDDLEWARE ---

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// --- HELPER FUNCTIONS ---

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveQueueDepth records the current queue depth snapshot, labeled
// by state ("waiting", "leased", "dead_letter").
func ObserveQueueDepth(waiting, leased, deadLetter int) {
	queueDepthGauge.WithLabelValues("waiting").Set(float64(waiting))
	queueDepthGauge.WithLabelValues("leased").Set(float64(leased))
	queueDepthGauge.WithLabelValues("dead_letter").Set(float64(deadLetter))
}

// ObserveLease records a single job lease.
func ObserveLease() {
	leasesTotal.Inc()
}

// ObserveAnalyserRun records the outcome and wall time of a single
// analyser pass.
func ObserveAnalyserRun(state string, duration time.Duration) {
	analyserOutcomesTotal.WithLabelValues(state).Inc()
	analyserDurationSeconds.Observe(duration.Seconds())
}

// ObserveProxyFallback records one successful rendering-proxy fetch made
// by the analyser's fallback step, which runs when the direct render
// left the link absent, got a 403, or failed to navigate.
func ObserveProxyFallback() {
	proxyFallbackTotal.Inc()
}

// ObserveFetchRateLimitDelay records the duration spent waiting on a
// per-domain fetch rate limiter before issuing a request.
func ObserveFetchRateLimitDelay(domain string, duration time.Duration) {
	fetchRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
