package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	trueface "github.com/trueface/trueface"
	"github.com/trueface/trueface/metrics/export/internaldefs"
)

// Collector bridges engine metrics into a prometheus/client_golang
// registry. Every scrape reads a fresh snapshot; nothing is cached
// between scrapes.
type Collector struct {
	source       metricsSource
	counterDescs map[trueface.MetricID]*prometheus.Desc
	histDescs    map[trueface.MetricID]*prometheus.Desc
	droppedDesc  *prometheus.Desc
}

// NewCollector creates a Collector reading from the given engine.
// Register it with prometheus.Registry.MustRegister.
func NewCollector(engine *trueface.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource creates a Collector from a custom metrics
// source.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counterDescs: make(map[trueface.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histDescs:    make(map[trueface.MetricID]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		droppedDesc: prometheus.NewDesc(
			"trueface_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counterDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histDescs[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.counterDescs {
		ch <- desc
	}
	for _, desc := range c.histDescs {
		ch <- desc
	}
	ch <- c.droppedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}

	snapshot := c.source.MetricsSnapshot()

	for _, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(
			c.counterDescs[def.ID],
			prometheus.CounterValue,
			float64(snapshot.Counters[def.ID]),
		)
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))

		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for i, bound := range internaldefs.HistogramBoundValues {
			buckets[bound] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]

		// Sum is not tracked in core snapshots; exported as zero.
		ch <- prometheus.MustNewConstHistogram(c.histDescs[def.ID], count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(
		c.droppedDesc,
		prometheus.CounterValue,
		float64(c.source.AuditDropped()),
	)
}
