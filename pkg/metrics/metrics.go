package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AgentsAvailable prometheus.Gauge
	AgentsBusy      prometheus.Gauge
	ActiveHandoffs  prometheus.Gauge
	QueuedHandoffs  prometheus.Gauge

	HandoffsInitiated *prometheus.CounterVec
	HandoffsCompleted prometheus.Counter
	HandoffsCancelled prometheus.Counter
	HandoffFailures   prometheus.Counter
	Evaluations       *prometheus.CounterVec

	HandoffDuration        prometheus.Histogram
	QueueWaitDuration      prometheus.Histogram
	StoreOperationDuration *prometheus.HistogramVec
	LeaderElectionDuration prometheus.Histogram
	LeaderChanges          prometheus.Counter
}

// NewMetrics registers on the default Prometheus registry, which is what the
// service binary exposes on /metrics.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on a caller-supplied registry. Tests use this to
// avoid duplicate-registration panics across test cases.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AgentsAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_agents_available",
			Help: "Current number of available human agents",
		}),
		AgentsBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_agents_busy",
			Help: "Current number of busy human agents",
		}),
		ActiveHandoffs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_active_count",
			Help: "Current number of active handoffs",
		}),
		QueuedHandoffs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_queued_count",
			Help: "Current number of queued handoff requests",
		}),
		HandoffsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoffs_initiated_total",
			Help: "Total number of handoff initiations",
		}, []string{"result"}),
		HandoffsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoffs_completed_total",
			Help: "Total number of completed handoffs",
		}),
		HandoffsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoffs_cancelled_total",
			Help: "Total number of cancelled handoffs",
		}),
		HandoffFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_failures_total",
			Help: "Total number of internal failures during handoff initiation",
		}),
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_evaluations_total",
			Help: "Total number of handoff evaluations by outcome reason",
		}, []string{"reason"}),
		HandoffDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_duration_seconds",
			Help:    "Time from handoff activation to completion",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),
		QueueWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_queue_wait_seconds",
			Help:    "Time a request spent queued before an agent freed up",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handoff_store_operation_duration_seconds",
			Help:    "Time taken for store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		LeaderElectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_leader_election_duration_seconds",
			Help:    "Time taken for leader election operations",
			Buckets: prometheus.DefBuckets,
		}),
		LeaderChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "handoff_leader_changes_total",
			Help: "Total number of leader changes",
		}),
	}
}
