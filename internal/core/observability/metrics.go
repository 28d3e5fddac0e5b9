// Package observability registers Prometheus metrics for the service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls (adapters, precipitation) in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cell-cache lookups by outcome.",
		},
		[]string{"outcome", "store"},
	)

	adapterSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_samples_total",
			Help: "Cells sampled per adapter by outcome.",
		},
		[]string{"adapter", "outcome"},
	)

	precipFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "precip_fallback_total",
			Help: "Precipitation requests that fell back to zeros after retries.",
		},
	)

	riskComputeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_compute_duration_seconds",
			Help:    "Duration of per-chunk risk computation.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	tileCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_entries",
			Help: "Entries currently held by the in-memory tile cache.",
		},
	)

	tileCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_bytes",
			Help: "Approximate bytes held by the in-memory tile cache.",
		},
	)

	invalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Dataset invalidation events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func AddCacheHits(store string, n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit", store).Add(float64(n))
	}
}

func AddCacheMisses(store string, n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss", store).Add(float64(n))
	}
}

func ObserveAdapterSample(adapter string, cells int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	adapterSamples.WithLabelValues(adapter, outcome).Add(float64(cells))
}

func IncPrecipFallback() {
	precipFallbackTotal.Inc()
}

func ObserveRiskCompute(durationSeconds float64) {
	riskComputeSeconds.Observe(durationSeconds)
}

func SetTileCacheSize(entries int, bytes int64) {
	tileCacheEntries.Set(float64(entries))
	tileCacheBytes.Set(float64(bytes))
}

func ObserveInvalidation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationEvents.WithLabelValues(op, outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
