// Package metrics exposes Prometheus collectors for a progress tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jpalmerr/jobprogress"
)

const namespace = "jobprogress"

// Collector records tracker activity. Every series carries a constant "job"
// label with the tracker name.
type Collector struct {
	pollsTotal       *prometheus.CounterVec
	pollDuration     prometheus.Histogram
	value            prometheus.Gauge
	max              prometheus.Gauge
	percent          prometheus.Gauge
	failCount        prometheus.Gauge
	completed        prometheus.Gauge
	completionsTotal *prometheus.CounterVec
}

// NewCollector registers the tracker collectors on reg.
func NewCollector(reg prometheus.Registerer, job string) *Collector {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"job": job}

	return &Collector{
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "polls_total",
				Help:        "Total number of poll cycles, labeled by outcome.",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		pollDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "poll_duration_seconds",
				Help:        "Histogram of status request latencies.",
				Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
				ConstLabels: labels,
			},
		),
		value: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "value",
			Help:        "Current progress value.",
			ConstLabels: labels,
		}),
		max: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "max",
			Help:        "Current maximum progress value.",
			ConstLabels: labels,
		}),
		percent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "percent",
			Help:        "Completion percentage.",
			ConstLabels: labels,
		}),
		failCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "consecutive_failures",
			Help:        "Number of consecutive failed or empty polls.",
			ConstLabels: labels,
		}),
		completed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "completed",
			Help:        "1 once the tracker has completed, 0 while running.",
			ConstLabels: labels,
		}),
		completionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "completions_total",
				Help:        "Total number of completions, labeled by reason.",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
	}
}

// ObservePoll records one poll cycle. Cycles that sent no request do not
// contribute to the latency histogram.
func (c *Collector) ObservePoll(r jobprogress.PollResult) {
	c.pollsTotal.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome != jobprogress.OutcomeCeiling && r.Outcome != jobprogress.OutcomeCanceled {
		c.pollDuration.Observe(r.Latency.Seconds())
	}
	c.failCount.Set(float64(r.FailCount))
}

// ObserveSnapshot updates the state gauges.
func (c *Collector) ObserveSnapshot(s jobprogress.Snapshot) {
	c.value.Set(float64(s.Value))
	c.max.Set(float64(s.Max))
	c.percent.Set(s.Percent)
	c.failCount.Set(float64(s.FailCount))
	if s.Completed {
		c.completed.Set(1)
	}
}

// ObserveComplete records a completion.
func (c *Collector) ObserveComplete(e jobprogress.CompleteEvent) {
	c.completionsTotal.WithLabelValues(e.Reason.String()).Inc()
	c.completed.Set(1)
}

// Options returns tracker options that feed this collector.
func (c *Collector) Options() []jobprogress.Option {
	return []jobprogress.Option{
		jobprogress.WithPollCallback(c.ObservePoll),
		jobprogress.WithSnapshotCallback(c.ObserveSnapshot),
		jobprogress.WithCompleteCallback(c.ObserveComplete),
	}
}
