package openaicompat

import "github.com/prometheus/client_golang/prometheus"

var (
	llmPromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_llm_prompt_tokens",
			Help:    "Estimated prompt tokens per chat completion request.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12),
		},
		[]string{"provider", "model"},
	)
	llmCompletionTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "failover_llm_completion_tokens",
			Help:    "Completion tokens per chat response, exact when the vendor reports usage.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12),
		},
		[]string{"provider", "model"},
	)
)

func init() {
	prometheus.MustRegister(llmPromptTokens, llmCompletionTokens)
}
