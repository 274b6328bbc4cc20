// Package journal implements Engram's durable append-only log: a framed,
// checksummed on-disk format, a synchronous writer/reader pair, and a
// batched asynchronous writer that trades a bounded durability window for
// throughput.
//
// # Overview
//
// One journal file backs one logical stream. Every entry is framed as
//
//	[0:8]   timestamp, microseconds, big-endian
//	[8]     entry kind (state-created, experience-added, edge-updated,
//	        snapshot-marker)
//	[9:13]  payload length, big-endian
//	[13:24] reserved, zero
//	[24:]   payload
//	last 4  crc32c over header and payload, big-endian
//
// Unknown kinds are a hard decode error. A short or garbled frame marks the
// entry, and conservatively the rest of the file, as corrupt.
//
// # Writing
//
// The synchronous Writer appends without forcing an OS flush; Sync makes
// everything appended so far durable. Snapshot markers are synced as part
// of Append because recovery restarts from the last marker.
//
//	w, _ := journal.OpenWriter(path)
//	_, _ = w.Append(journal.NewEntry(journal.KindExperienceAdded, payload))
//	_ = w.Sync()
//
// The BatchWriter owns a Writer through a single worker goroutine fed by a
// bounded queue. Batches flush when full, when the batch timeout elapses,
// on an explicit Flush barrier, and once more on Close while draining.
//
//	bw, _ := journal.OpenBatchWriter(path, journal.DefaultConfig())
//	_ = bw.Append(ctx, journal.NewEntry(journal.KindExperienceAdded, payload))
//	_ = bw.Flush(ctx)
//	_ = bw.Close()
//
// # Recovery
//
// Replay is the sole recovery mechanism: it feeds every valid entry to a
// visitor in write order and stops at the first corrupt frame, surfacing
// the error and its offset. Compact drops everything before the last
// snapshot marker; Repair truncates a torn tail after a crash.
//
//	n, err := journal.Replay(path, func(e journal.Entry) error { ... })
package journal
