package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "engram"

var (
	// EventsPublished counts records accepted by the events service,
	// partitioned by stream and record kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Number of records published, partitioned by stream and kind",
	}, []string{"stream", "kind"})

	// PublishDuration stores the in-process publish path latency: hot
	// buffer write plus journal enqueue.
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_duration_seconds",
		Help:      "Publish path latency partitioned by stream",
	}, []string{"stream"})

	// SampleDuration stores replay sampling latency partitioned by strategy.
	SampleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "sample_duration_seconds",
		Help:      "Sampling latency partitioned by strategy",
	}, []string{"strategy"})

	// JournalFlushDuration stores explicit journal flush latency. Batch
	// flushes driven by size or timeout inside the writer are not timed
	// here; this covers caller-visible durability barriers.
	JournalFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "flush_duration_seconds",
		Help:      "Explicit flush barrier latency partitioned by stream",
	}, []string{"stream"})

	// HTTPRequestDuration stores request processing time per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request processing time partitioned by route and status code",
	}, []string{"route", "code"})

	// StoreGetDuration stores control-plane store read latency.
	StoreGetDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "get_duration_seconds",
		Help:      "Control-plane store get latency",
	})

	// StoreCommitDuration stores control-plane store write latency.
	StoreCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "commit_duration_seconds",
		Help:      "Control-plane store commit latency",
	})

	// StoreCommitOps counts keys written to the control-plane store.
	StoreCommitOps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "commit_ops_total",
		Help:      "Number of keys committed to the control-plane store",
	})

	// StoreCommitBytes counts bytes written to the control-plane store.
	StoreCommitBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "commit_bytes_total",
		Help:      "Bytes committed to the control-plane store",
	})
)

// StoreObserver bridges control-plane store observations into the
// package instruments. It is handed to the runtime at open time.
type StoreObserver struct{}

// ObserveGet records one store read.
func (StoreObserver) ObserveGet(elapsed time.Duration, _ int) {
	StoreGetDuration.Observe(elapsed.Seconds())
}

// ObserveCommit records one store commit.
func (StoreObserver) ObserveCommit(elapsed time.Duration, ops int, bytes int) {
	StoreCommitDuration.Observe(elapsed.Seconds())
	StoreCommitOps.Add(float64(ops))
	StoreCommitBytes.Add(float64(bytes))
}
