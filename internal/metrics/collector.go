package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/engram/internal/runtime"
)

// StreamCollector exports the per-stream counters the core components
// maintain internally: journal writer stats, hot buffer occupancy, and
// fan-out accounting. The counters are plain atomics on the hot path;
// this collector reads them only at scrape time so idle streams cost
// nothing.
type StreamCollector struct {
	rt *runtime.Runtime

	journalEntries *prometheus.Desc
	journalBytes   *prometheus.Desc
	journalBatches *prometheus.Desc
	journalDropped *prometheus.Desc
	queueDepth     *prometheus.Desc
	bufWritten     *prometheus.Desc
	bufOverwritten *prometheus.Desc
	bufLive        *prometheus.Desc
	bufCapacity    *prometheus.Desc
	subscribers    *prometheus.Desc
	fanoutDropped  *prometheus.Desc
	seqBase        *prometheus.Desc
}

// NewStreamCollector builds a collector over the runtime's open streams.
func NewStreamCollector(rt *runtime.Runtime) *StreamCollector {
	labels := []string{"stream"}
	return &StreamCollector{
		rt: rt,
		journalEntries: prometheus.NewDesc(
			"engram_journal_entries_written_total",
			"Entries the batched writer flushed to the journal file",
			labels, nil,
		),
		journalBytes: prometheus.NewDesc(
			"engram_journal_bytes_written_total",
			"Encoded bytes the batched writer flushed to the journal file",
			labels, nil,
		),
		journalBatches: prometheus.NewDesc(
			"engram_journal_batches_flushed_total",
			"Batches flushed by the journal writer",
			labels, nil,
		),
		journalDropped: prometheus.NewDesc(
			"engram_journal_entries_dropped_total",
			"Entries rejected after the journal writer failed",
			labels, nil,
		),
		queueDepth: prometheus.NewDesc(
			"engram_journal_queue_depth",
			"Entries waiting in the journal writer queue",
			labels, nil,
		),
		bufWritten: prometheus.NewDesc(
			"engram_hotbuf_records_written_total",
			"Records written into the hot buffer since open",
			labels, nil,
		),
		bufOverwritten: prometheus.NewDesc(
			"engram_hotbuf_records_overwritten_total",
			"Records rotated out of the hot buffer's live window",
			labels, nil,
		),
		bufLive: prometheus.NewDesc(
			"engram_hotbuf_live_records",
			"Records currently in the hot buffer's live window",
			labels, nil,
		),
		bufCapacity: prometheus.NewDesc(
			"engram_hotbuf_capacity",
			"Hot buffer slot count",
			labels, nil,
		),
		subscribers: prometheus.NewDesc(
			"engram_streams_subscribers",
			"Live fan-out subscriptions",
			labels, nil,
		),
		fanoutDropped: prometheus.NewDesc(
			"engram_streams_fanout_dropped_total",
			"Events dropped on blocked subscriber channels",
			labels, nil,
		),
		seqBase: prometheus.NewDesc(
			"engram_streams_seq_base",
			"Stream-wide sequence base in effect for the open handle",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.journalEntries
	ch <- c.journalBytes
	ch <- c.journalBatches
	ch <- c.journalDropped
	ch <- c.queueDepth
	ch <- c.bufWritten
	ch <- c.bufOverwritten
	ch <- c.bufLive
	ch <- c.bufCapacity
	ch <- c.subscribers
	ch <- c.fanoutDropped
	ch <- c.seqBase
}

// Collect implements prometheus.Collector.
func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.rt.Streams() {
		h, ok := c.rt.Handle(name)
		if !ok {
			continue
		}
		st := h.JournalStats()
		ch <- prometheus.MustNewConstMetric(c.journalEntries, prometheus.CounterValue, float64(st.EntriesWritten), name)
		ch <- prometheus.MustNewConstMetric(c.journalBytes, prometheus.CounterValue, float64(st.BytesWritten), name)
		ch <- prometheus.MustNewConstMetric(c.journalBatches, prometheus.CounterValue, float64(st.BatchesFlushed), name)
		ch <- prometheus.MustNewConstMetric(c.journalDropped, prometheus.CounterValue, float64(st.EntriesDropped), name)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(h.QueueDepth()), name)

		buf := h.Buffer()
		total := buf.TotalWritten()
		live := buf.Len()
		ch <- prometheus.MustNewConstMetric(c.bufWritten, prometheus.CounterValue, float64(total), name)
		ch <- prometheus.MustNewConstMetric(c.bufOverwritten, prometheus.CounterValue, float64(total-uint64(live)), name)
		ch <- prometheus.MustNewConstMetric(c.bufLive, prometheus.GaugeValue, float64(live), name)
		ch <- prometheus.MustNewConstMetric(c.bufCapacity, prometheus.GaugeValue, float64(buf.Capacity()), name)

		str := h.Stream()
		ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(str.Subscribers()), name)
		ch <- prometheus.MustNewConstMetric(c.fanoutDropped, prometheus.CounterValue, float64(str.Dropped()), name)
		ch <- prometheus.MustNewConstMetric(c.seqBase, prometheus.GaugeValue, float64(h.SeqBase()), name)
	}
}

// Handler returns the scrape endpoint handler: the package instruments
// from the default registry plus the per-stream collector. The collector
// lives in its own registry so two runtimes in one process (tests) never
// collide on registration.
func Handler(rt *runtime.Runtime) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewStreamCollector(rt))
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		promhttp.HandlerOpts{},
	)
}
