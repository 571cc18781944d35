// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// Aggregation pipeline
	AggBatches    prometheus.Counter
	AggBatchFails prometheus.Counter
	AggItems      prometheus.Counter
	AggLatency    prometheus.Histogram
	TrendOutcomes *prometheus.CounterVec
	DirtyDepth    prometheus.Gauge

	// Poller
	PollRuns    *prometheus.CounterVec
	PollChanged prometheus.Counter

	// Scheduler / maintenance
	SchedulerTicks *prometheus.CounterVec
	CleanupDeleted prometheus.Counter
	LockContention *prometheus.CounterVec
)

// Register initializes and registers all metrics exactly once.
// If r == nil, uses prometheus.DefaultRegisterer; duplicate registrations are ignored.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}

		AggBatches = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "aggregate", Name: "batches_total",
			Help: "Total number of summary batches committed",
		})
		AggBatchFails = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "aggregate", Name: "batch_failures_total",
			Help: "Total number of summary batches rolled back",
		})
		AggItems = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "aggregate", Name: "items_total",
			Help: "Total number of items aggregated",
		})
		AggLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flipper", Subsystem: "aggregate", Name: "batch_latency_seconds",
			Help:    "Latency of one summary batch end to end",
			Buckets: prometheus.DefBuckets,
		})
		TrendOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "aggregate", Name: "trend_outcomes_total",
			Help: "Trend computations by horizon and status",
		}, []string{"horizon", "status"})
		DirtyDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flipper", Subsystem: "aggregate", Name: "dirty_depth",
			Help: "Number of items awaiting recompute at selection time",
		})

		PollRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "poller", Name: "runs_total",
			Help: "Poller runs by source and result",
		}, []string{"source", "result"})
		PollChanged = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "poller", Name: "instants_changed_total",
			Help: "Total number of meaningfully changed price instants",
		})

		SchedulerTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler loop fires by loop name",
		}, []string{"loop"})
		CleanupDeleted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "scheduler", Name: "cleanup_deleted_rows_total",
			Help: "Total number of candle rows removed by retention cleanup",
		})
		LockContention = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flipper", Subsystem: "joblock", Name: "contention_total",
			Help: "Lock acquisitions refused because the lock was held",
		}, []string{"name"})

		collectors := []prometheus.Collector{
			AggBatches, AggBatchFails, AggItems, AggLatency, TrendOutcomes, DirtyDepth,
			PollRuns, PollChanged,
			SchedulerTicks, CleanupDeleted, LockContention,
		}
		for _, c := range collectors {
			if err := r.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
