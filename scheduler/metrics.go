package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b2pix_scheduler_task_runs_total",
		Help: "Count of completed periodic task executions.",
	}, []string{"task"})
	taskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b2pix_scheduler_task_failures_total",
		Help: "Count of periodic task executions that failed or panicked.",
	}, []string{"task"})
)
