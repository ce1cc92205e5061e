package task

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageforge_tasks_processed_total",
			Help: "Total number of tasks processed by the engine.",
		},
		[]string{"type", "status"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageforge_tasks_in_flight",
			Help: "Number of tasks currently executing.",
		},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imageforge_task_duration_seconds",
			Help:    "Task execution time from claim to terminal state, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	tasksReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imageforge_tasks_reclaimed_total",
			Help: "Total number of stuck processing tasks reset to pending.",
		},
	)

	tasksCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imageforge_tasks_cleaned_total",
			Help: "Total number of terminal tasks deleted by the retention sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksProcessedTotal)
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(tasksReclaimedTotal)
	prometheus.MustRegister(tasksCleanedTotal)
}
