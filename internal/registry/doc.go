// Package registry persists the control-plane state that outlives any
// single process: which streams exist, their per-stream overrides, and
// where each consumer group last committed.
//
// # Overview
//
// Stream metadata is a small JSON record keyed by name:
//
//	meta, err := registry.EnsureStream(db, "experience")
//
// EnsureStream is idempotent and safe to call on every open; it creates
// the record on first use and returns the stored one afterwards.
//
// Cursors are 8-byte big-endian sequences per stream and group. Commits
// only ever move forward:
//
//	_ = registry.CommitCursor(db, "experience", "trainer", seq)
//	seq, ok, err := registry.GetCursor(db, "experience", "trainer")
//
// A consumer that restarts and re-commits an old position is a no-op,
// which keeps at-least-once delivery simple on the consumer side.
package registry
