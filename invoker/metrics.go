package invoker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 调用结果分类，作为指标的 outcome 标签
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeCancelled   = "cancelled"
	outcomeCacheHit    = "cache_hit"
	outcomeConfigError = "config_error"
	outcomeCircuitOpen = "circuit_open"
)

var (
	failoverInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_invocations_total",
			Help: "Total logical invocations by capability and outcome.",
		},
		[]string{"capability", "outcome"},
	)
	failoverInvokeLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_invoke_latency_ms",
			Help:    "End-to-end invocation latency in milliseconds, fallback included.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"capability"},
	)
	failoverProviderAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_provider_attempts_total",
			Help: "Per-provider attempt outcomes as seen by the fallback chain.",
		},
		[]string{"provider", "capability", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		failoverInvocationsTotal,
		failoverInvokeLatencyMs,
		failoverProviderAttemptsTotal,
	)
}

func observeInvocation(capability, outcome string, latency time.Duration) {
	if capability == "" {
		capability = "unknown"
	}
	failoverInvocationsTotal.WithLabelValues(capability, outcome).Inc()
	if latency > 0 {
		failoverInvokeLatencyMs.WithLabelValues(capability).Observe(float64(latency.Milliseconds()))
	}
}

func observeProviderAttempt(providerName, capability, outcome string) {
	if providerName == "" {
		providerName = "unknown"
	}
	failoverProviderAttemptsTotal.WithLabelValues(providerName, capability, outcome).Inc()
}
