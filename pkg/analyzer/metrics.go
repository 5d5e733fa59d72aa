package analyzer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// runMetrics collects counters for one invocation, flushed to a
// node_exporter textfile at the end of the run. A private registry keeps
// the default Go collectors out of the textfile.
type runMetrics struct {
	registry *prometheus.Registry

	processedLines     prometheus.Counter
	classifiedEvents   *prometheus.CounterVec
	unrecognizedLines  prometheus.Counter
	duplicateLines     prometheus.Counter
	outOfWindowEvents  prometheus.Counter
	timestampFallbacks prometheus.Counter
	ignoredEvents      prometheus.Counter
	excludedEvents     prometheus.Counter
	countedEvents      prometheus.Counter

	storedDays     prometheus.Gauge
	ledgerSize     prometheus.Gauge
	sweptDays      prometheus.Gauge
	reclaimedBytes prometheus.Gauge
	lastRunTime    prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &runMetrics{
		registry: registry,
		processedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_processed_lines_total",
			Help: "The total number of log lines read",
		}),
		classifiedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fla_classified_events_total",
			Help: "The total number of classified events by kind",
		}, []string{"kind"}),
		unrecognizedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_unrecognized_lines_total",
			Help: "The total number of lines matching no known event shape",
		}),
		duplicateLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_duplicate_lines_total",
			Help: "The total number of lines skipped as already handled",
		}),
		outOfWindowEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_out_of_window_events_total",
			Help: "The total number of events outside the analysis window",
		}),
		timestampFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_timestamp_fallbacks_total",
			Help: "The total number of timestamps replaced with the current time",
		}),
		ignoredEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_ignored_events_total",
			Help: "The total number of events dropped by ignore rules",
		}),
		excludedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_excluded_events_total",
			Help: "The total number of reverse lookup events kept out of rankings",
		}),
		countedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "fla_counted_events_total",
			Help: "The total number of events aggregated into day snapshots",
		}),
		storedDays: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fla_stored_days",
			Help: "Day snapshots in the state store after the run",
		}),
		ledgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fla_ledger_entries",
			Help: "Fingerprints tracked by the dedup ledger after the run",
		}),
		sweptDays: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fla_swept_days",
			Help: "Day snapshots removed by the retention sweep in this run",
		}),
		reclaimedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fla_reclaimed_bytes",
			Help: "Stored bytes released by the retention sweep in this run",
		}),
		lastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fla_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed run",
		}),
	}
}

func (rm *runMetrics) writeTextfile(path string) error {
	return prometheus.WriteToTextfile(path, rm.registry)
}
