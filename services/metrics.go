package services

import "github.com/prometheus/client_golang/prometheus"

var (
	platformCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_platform_calls_total",
			Help: "Remote lab platform calls by operation and result",
		},
		[]string{"op", "result"},
	)

	provisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_provisions_total",
			Help: "Assignment provisioning attempts by result",
		},
		[]string{"result"},
	)

	teardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lab_teardowns_total",
			Help: "Assignment teardowns by participant kind",
		},
		[]string{"kind"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)
)

func init() {
	prometheus.MustRegister(platformCalls, provisions, teardowns, jobRuns)
}

func observeCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	platformCalls.WithLabelValues(op, result).Inc()
}
