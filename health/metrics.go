package health

import (
	"time"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	failoverProviderHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failover_provider_healthy",
			Help: "Provider health status (1 healthy, 0 otherwise).",
		},
		[]string{"provider"},
	)
	failoverProviderBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "failover_provider_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
		[]string{"provider"},
	)
	failoverProbeLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_health_probe_latency_ms",
			Help:    "Provider liveness probe latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"provider"},
	)
	failoverProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_health_probe_failures_total",
			Help: "Total provider liveness probe failures.",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		failoverProviderHealthy,
		failoverProviderBreakerState,
		failoverProbeLatencyMs,
		failoverProbeFailuresTotal,
	)
}

func observeProviderHealth(providerName string, status Status, state circuitbreaker.State, probeLatency time.Duration, probeFailed bool) {
	if providerName == "" {
		providerName = "unknown"
	}
	if status == StatusHealthy {
		failoverProviderHealthy.WithLabelValues(providerName).Set(1)
	} else {
		failoverProviderHealthy.WithLabelValues(providerName).Set(0)
	}
	failoverProviderBreakerState.WithLabelValues(providerName).Set(float64(state))
	if probeLatency > 0 {
		failoverProbeLatencyMs.WithLabelValues(providerName).Observe(float64(probeLatency.Milliseconds()))
	}
	if probeFailed {
		failoverProbeFailuresTotal.WithLabelValues(providerName).Inc()
	}
}
