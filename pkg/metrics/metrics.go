package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RPCRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comx_client_rpc_requests_total",
		Help: "The total number of RPC attempts by outcome",
	}, []string{"method", "outcome"})

	RPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "comx_client_rpc_request_duration_seconds",
		Help:    "The duration of RPC calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comx_client_cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comx_client_cache_misses_total",
		Help: "Total number of cache misses",
	})

	CacheRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comx_client_cache_refresh_failures_total",
		Help: "Total number of failed background refreshes",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "comx_client_cache_entries",
		Help: "Current number of cached entries",
	})
)

func Register() {
	// promauto registers automatically to the DefaultRegisterer
}

// RecordRPCRequest increments the RPC attempt counter
func RecordRPCRequest(method, outcome string) {
	RPCRequestTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveRPCDuration observes the duration of a completed call
func ObserveRPCDuration(method string, duration float64) {
	RPCRequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit() {
	CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordRefreshFailure increments the failed refresh counter
func RecordRefreshFailure() {
	CacheRefreshFailures.Inc()
}

// SetCacheEntries sets the cached entry count gauge
func SetCacheEntries(n int) {
	CacheEntries.Set(float64(n))
}
