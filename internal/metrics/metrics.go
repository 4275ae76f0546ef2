// Package metrics registers the Prometheus instruments emitted by the
// background tasks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the task-facing instruments. Failures of the pipeline
// surface only here and in structured error reports; there is no
// client-facing error channel.
type Metrics struct {
	Blacklisted  *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Archived     *prometheus.CounterVec
	TaskErrors   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
}

// New registers and returns the task metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Blacklisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationd_items_blacklisted_total",
				Help: "Stations blacklisted for moving, by kind",
			},
			[]string{"kind"},
		),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationd_items_dropped_total",
				Help: "Measurements deleted by the retention trimmer, by kind",
			},
			[]string{"kind"},
		),
		Archived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationd_s3_backup_measures_total",
				Help: "Measurements archived to cold storage, by kind",
			},
			[]string{"kind"},
		),
		TaskErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stationd_task_errors_total",
				Help: "Task failures, by task name",
			},
			[]string{"task"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stationd_task_duration_seconds",
				Help:    "Task run duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),
	}

	reg.MustRegister(m.Blacklisted, m.Dropped, m.Archived, m.TaskErrors, m.TaskDuration)
	return m
}
