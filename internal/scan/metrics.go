package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "owlbot_scanner"

const (
	scannedCommitsMetricName = "scanned_commits_total"
	todosCreatedMetricName   = "created_todos_total"
	todosExecutedMetricName  = "executed_todos_total"
	skippedMetricName        = "skipped_copies_total"
)

const reasonLabel = "reason"

type skipReason string

const (
	skipReasonTooOld        skipReason = "too_old"
	skipReasonAlreadyCopied skipReason = "already_copied"
)

type metricCollector struct {
	scannedCommits prometheus.Counter
	todosCreated   prometheus.Counter
	todosExecuted  prometheus.Counter
	skips          *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		scannedCommits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      scannedCommitsMetricName,
			Help:      "count of examined source repository commits",
		}),
		todosCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      todosCreatedMetricName,
			Help:      "count of scheduled copy operations",
		}),
		todosExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      todosExecutedMetricName,
			Help:      "count of executed copy operations",
		}),
		skips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      skippedMetricName,
				Help:      "count of copy operations skipped during scanning",
			},
			[]string{reasonLabel},
		),
	}
}

func (m *metricCollector) commitScanned() {
	m.scannedCommits.Inc()
}

func (m *metricCollector) todoCreated() {
	m.todosCreated.Inc()
}

func (m *metricCollector) todoExecuted() {
	m.todosExecuted.Inc()
}

func (m *metricCollector) skipped(reason skipReason) {
	m.skips.WithLabelValues(string(reason)).Inc()
}
