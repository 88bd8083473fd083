package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(stageExecutions, stageLatency, stageRetries) }

var stageExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_stage_executions_total",
		Help: "Stage invocations by stage name and outcome.",
	},
	[]string{"stage", "outcome"}, // 'succeeded', 'failed', 'retried'
)

var stageLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pipeline_stage_latency_seconds",
		Help:    "Stage function latency distribution in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	},
	[]string{"stage"},
)

var stageRetries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_stage_retries_total",
		Help: "Transient-failure retries scheduled per stage.",
	},
	[]string{"stage"},
)

func ObserveStage(stage, outcome string, seconds float64) {
	stageExecutions.WithLabelValues(norm(stage), norm(outcome)).Inc()
	stageLatency.WithLabelValues(norm(stage)).Observe(seconds)
}

func IncStageRetry(stage string) { stageRetries.WithLabelValues(norm(stage)).Inc() }
