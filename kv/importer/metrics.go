package importer

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	uploadBytes   prometheus.Counter
	uploadCounter *prometheus.CounterVec
	ingestCounter *prometheus.CounterVec
	cleanupFiles  prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		uploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "txnkv",
				Subsystem: "importer",
				Name:      "upload_bytes_total",
				Help:      "Bytes received by successful uploads.",
			}),
		uploadCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "txnkv",
				Subsystem: "importer",
				Name:      "upload_total",
				Help:      "Counter of uploads by outcome.",
			}, []string{"result"}),
		ingestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "txnkv",
				Subsystem: "importer",
				Name:      "ingest_total",
				Help:      "Counter of ingests by outcome.",
			}, []string{"result"}),
		cleanupFiles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "txnkv",
				Subsystem: "importer",
				Name:      "cleanup_files_total",
				Help:      "Files removed because their region changed.",
			}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.uploadBytes, m.uploadCounter, m.ingestCounter, m.cleanupFiles}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
