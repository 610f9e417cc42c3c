package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the interception engine.
var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_fetch_total",
		Help: "Intercepted requests by strategy and response source",
	}, []string{"strategy", "source"})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_cache_lookups_total",
		Help: "Cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_cache_errors_total",
		Help: "Cache storage failures by operation",
	}, []string{"operation"})

	networkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_network_failures_total",
		Help: "Network-level fetch failures by strategy",
	}, []string{"strategy"})

	lifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_lifecycle_total",
		Help: "Install and activate phases by result",
	}, []string{"phase", "result"})

	backgroundWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_hub_background_writes",
		Help: "Cache writes currently running in the background",
	})
)

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
