package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsCreatedTotal, jobsFinishedTotal, jobsCancelledTotal, jobsReaped) }

var jobsCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_jobs_created_total",
		Help: "Total number of processing jobs created.",
	},
)

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state, labeled by status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobsCancelledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_jobs_cancelled_total",
		Help: "Total number of jobs cancelled by clients.",
	},
)

var jobsReaped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_jobs_reaped_total",
		Help: "Terminal jobs removed by retention cleanup.",
	},
)

func IncJobCreated()             { jobsCreatedTotal.Inc() }
func IncJobFinished(status string) { jobsFinishedTotal.WithLabelValues(norm(status)).Inc() }
func IncJobCancelled()           { jobsCancelledTotal.Inc() }
func AddJobsReaped(n int)        { jobsReaped.Add(float64(n)) }
