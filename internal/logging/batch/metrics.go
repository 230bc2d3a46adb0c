package batch

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "splunk"
	metricsSubsystem = "sink"
)

type Metrics struct {
	RecordsEnqueued prometheus.Counter
	RecordsDropped  prometheus.Counter
	BatchesSent     prometheus.Counter
	BatchFailures   prometheus.Counter
	QueueDepth      prometheus.GaugeFunc
}

func newMetrics(depth func() int) *Metrics {
	return &Metrics{
		RecordsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "records_enqueued_total",
			Help:      "Records accepted into the ingestion queue.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "records_dropped_total",
			Help:      "Records discarded because the ingestion queue was full or the sink was closed.",
		}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batches_sent_total",
			Help:      "Batches accepted by the ingestion endpoint.",
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_failures_total",
			Help:      "Batches discarded after a failed delivery.",
		}),
		QueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Records waiting in the ingestion queue.",
		}, func() float64 { return float64(depth()) }),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsEnqueued,
		m.RecordsDropped,
		m.BatchesSent,
		m.BatchFailures,
		m.QueueDepth,
	}
}

func (m *Metrics) register(r prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			return errors.Wrap(err, "register sink metrics")
		}
	}
	return nil
}
