package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the data-processing
// pipeline, observed at the server/CLI boundary around pipeline calls.
type PipelineMetrics struct {
	RecordsParsed       prometheus.Counter
	RowsSkipped         prometheus.Counter
	DuplicateRows       prometheus.Counter
	OutliersDetected    *prometheus.CounterVec
	OutliersCorrected   *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(namespace string) *PipelineMetrics {
	m := &PipelineMetrics{
		RecordsParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "records_parsed_total",
				Help:      "Total number of records produced by CSV parsing",
			},
		),
		RowsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "rows_skipped_total",
				Help:      "Total number of CSV rows skipped for lacking a usable timestamp",
			},
		),
		DuplicateRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "duplicate_rows_total",
				Help:      "Total number of CSV rows collapsed by timestamp deduplication",
			},
		),
		OutliersDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "outliers_detected_total",
				Help:      "Total number of outliers flagged per sensor field",
			},
			[]string{"field"},
		),
		OutliersCorrected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "outliers_corrected_total",
				Help:      "Total number of outlier values replaced per sensor field",
			},
			[]string{"field"},
		),
		AggregationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of daily/weekly aggregation runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.RecordsParsed,
		m.RowsSkipped,
		m.DuplicateRows,
		m.OutliersDetected,
		m.OutliersCorrected,
		m.AggregationDuration,
	)

	return m
}
