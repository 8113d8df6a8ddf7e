// Package metrics collects migration counters in a private Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/ddbmigrate/store"
)

const namespace = "ddbmigrate"

// Collector holds all Prometheus metrics of a run. It implements store.Observer.
type Collector struct {
	registry *prometheus.Registry

	documentsExported *prometheus.CounterVec
	documentsSkipped  *prometheus.CounterVec
	itemsWritten      *prometheus.CounterVec
	itemsFailed       *prometheus.CounterVec
	tablesProvisioned *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
}

var _ store.Observer = (*Collector)(nil)

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		documentsExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_exported_total",
				Help:      "Documents exported from the source store.",
			},
			[]string{"collection"},
		),
		documentsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_skipped_total",
				Help:      "Documents skipped because a field could not be encoded.",
			},
			[]string{"collection"},
		),
		itemsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_written_total",
				Help:      "Items written to DynamoDB.",
			},
			[]string{"table"},
		),
		itemsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_failed_total",
				Help:      "Items that could not be written to DynamoDB.",
			},
			[]string{"table"},
		),
		tablesProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tables_provisioned_total",
				Help:      "Tables provisioned, by outcome.",
			},
			[]string{"outcome"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_write_duration_seconds",
				Help:      "Duration of one batch write including retries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"table"},
		),
	}

	c.registry.MustRegister(
		c.documentsExported,
		c.documentsSkipped,
		c.itemsWritten,
		c.itemsFailed,
		c.tablesProvisioned,
		c.batchDuration,
	)
	return c
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// CollectionExported records the export of one top-level collection.
func (c *Collector) CollectionExported(collection string, documents, skipped int) {
	c.documentsExported.WithLabelValues(collection).Add(float64(documents))
	c.documentsSkipped.WithLabelValues(collection).Add(float64(skipped))
}

// TableProvisioned implements store.Observer.
func (c *Collector) TableProvisioned(_ string, outcome store.Outcome) {
	c.tablesProvisioned.WithLabelValues(string(outcome)).Inc()
}

// BatchWritten implements store.Observer.
func (c *Collector) BatchWritten(table string, written, failed int, elapsed time.Duration) {
	c.itemsWritten.WithLabelValues(table).Add(float64(written))
	c.itemsFailed.WithLabelValues(table).Add(float64(failed))
	c.batchDuration.WithLabelValues(table).Observe(elapsed.Seconds())
}

// WriteTextfile writes the metrics in the Prometheus text format to path, for the node
// exporter's textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
