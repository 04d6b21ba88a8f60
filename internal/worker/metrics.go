package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	slotsBusy   prometheus.Gauge
	queueDepth  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanqueue_jobs_total",
			Help: "Jobs finished by the worker pool, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanqueue_job_duration_seconds",
			Help:    "Wall-clock time of a job from dispatch to completion.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}, []string{"kind"}),
		slotsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanqueue_slots_busy",
			Help: "Worker slots currently running a job.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanqueue_queue_depth",
			Help: "Jobs waiting for a free slot.",
		}),
	}
	reg.MustRegister(m.jobsTotal, m.jobDuration, m.slotsBusy, m.queueDepth)
	return m
}
