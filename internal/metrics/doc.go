// Package metrics exports Engram's Prometheus instruments.
//
// Two kinds of metric live here. Event-path instruments (publish latency,
// HTTP request durations, store observations) are package-level promauto
// collectors updated inline by the services that own the measurement.
// Per-stream counters (journal writer stats, hot buffer occupancy,
// fan-out drops) already exist as cheap atomics inside the core packages;
// StreamCollector reads them at scrape time instead of duplicating them
// on the hot path.
//
// Handler wires both into a single /metrics endpoint:
//
//	mux.Handle("/metrics", metrics.Handler(rt))
package metrics
