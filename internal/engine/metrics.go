package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/partstock/internal/model"
)

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstock_tasks_submitted_total",
			Help: "Total number of tasks accepted by the engine.",
		},
		[]string{"kind"},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstock_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal state.",
		},
		[]string{"kind", "state"},
	)

	tasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partstock_tasks_running",
			Help: "Number of tasks currently executing on a worker.",
		},
	)

	tasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partstock_tasks_queued",
			Help: "Number of pending tasks waiting for a worker.",
		},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partstock_task_duration_seconds",
			Help:    "Task execution time from start to completion, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	tasksEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partstock_tasks_evicted_total",
			Help: "Terminal tasks removed by the retention sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksFinished)
	prometheus.MustRegister(tasksRunning)
	prometheus.MustRegister(tasksQueued)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(tasksEvicted)
}

func observeFinished(kind string, state model.TaskState) {
	tasksFinished.WithLabelValues(kind, string(state)).Inc()
}
