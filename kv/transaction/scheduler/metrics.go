package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commandCounter  *prometheus.CounterVec
	latchWait       prometheus.Histogram
	snapshotWait    prometheus.Histogram
	processDuration *prometheus.HistogramVec
	inflight        prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		commandCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "txnkv",
				Subsystem: "scheduler",
				Name:      "command_total",
				Help:      "Counter of commands by kind and outcome.",
			}, []string{"type", "result"}),
		latchWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "txnkv",
				Subsystem: "scheduler",
				Name:      "latch_wait_duration_seconds",
				Help:      "Bucketed histogram of time spent waiting for latches.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
			}),
		snapshotWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "txnkv",
				Subsystem: "scheduler",
				Name:      "snapshot_wait_duration_seconds",
				Help:      "Bucketed histogram of time spent waiting for snapshots.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
			}),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "txnkv",
				Subsystem: "scheduler",
				Name:      "process_duration_seconds",
				Help:      "Bucketed histogram of command processing time.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
			}, []string{"type"}),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "txnkv",
				Subsystem: "scheduler",
				Name:      "inflight_commands",
				Help:      "Number of submitted commands without a result yet.",
			}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.commandCounter, m.latchWait, m.snapshotWait, m.processDuration, m.inflight}
}
