package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksweeper_sweeps_total",
			Help: "Total number of sweeps by result.",
		},
		[]string{"result"}, // ok, partial, config_error, query_error
	)

	TasksMatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksweeper_tasks_matched_total",
			Help: "Total number of due tasks returned by scans.",
		},
	)

	TaskUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksweeper_task_updates_total",
			Help: "Total number of task status updates by outcome.",
		},
		[]string{"status"}, // completed, failed
	)

	SweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasksweeper_sweep_duration_seconds",
			Help:    "Wall time of a full sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasksweeper_notifications_total",
			Help: "Total number of task.completed notifications by outcome.",
		},
		[]string{"status"}, // published, failed
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(SweepsTotal, TasksMatchedTotal, TaskUpdatesTotal, SweepDurationSeconds, NotificationsTotal)
}

// RecordSweep records the outcome and duration of one sweep.
func RecordSweep(result string, matched int, d time.Duration) {
	SweepsTotal.WithLabelValues(result).Inc()
	TasksMatchedTotal.Add(float64(matched))
	SweepDurationSeconds.Observe(d.Seconds())
}

func RecordUpdate(status string) {
	TaskUpdatesTotal.WithLabelValues(status).Inc()
}

func RecordNotification(status string) {
	NotificationsTotal.WithLabelValues(status).Inc()
}
