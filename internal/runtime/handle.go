package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rzbill/engram/internal/hotbuf"
	"github.com/rzbill/engram/internal/journal"
	"github.com/rzbill/engram/internal/registry"
	pebblestore "github.com/rzbill/engram/internal/storage/pebble"
	"github.com/rzbill/engram/internal/stream"
	logpkg "github.com/rzbill/engram/pkg/log"
)

// RecoveryInfo reports what the open path found in a stream's journal.
type RecoveryInfo struct {
	// RecordsReplayed is the number of records loaded into the hot buffer.
	RecordsReplayed int
	// MarkersSeen is the number of snapshot markers skipped during replay.
	MarkersSeen int
	// Repaired is set when a corrupt or torn tail was truncated.
	Repaired bool
	// RepairedOffset is the file size after truncation, valid when Repaired.
	RepairedOffset int64
}

// StreamHandle is one open stream: its broadcaster-wrapped hot buffer
// plus the single batched writer owning the journal file. Handles are
// created and cached by the Runtime and stay valid until it closes.
//
// seqBase is fixed at open time. Sequence numbers handed out by the hot
// buffer restart at zero each open; seqBase+seq recovers the stable
// stream-wide number. Compaction bumps the persisted base for the next
// open but never the live one, so numbers already handed out keep their
// meaning for the life of the handle.
type StreamHandle struct {
	name     string
	path     string
	str      *stream.Stream
	seqBase  uint64
	recovery RecoveryInfo

	mu   sync.RWMutex
	w    *journal.BatchWriter
	meta registry.Meta
}

func (r *Runtime) openStreamLocked(name string) (*StreamHandle, error) {
	meta, err := registry.EnsureStream(r.db, name)
	if err != nil {
		return nil, err
	}
	buf, err := hotbuf.New(r.bufferCapacity(meta))
	if err != nil {
		return nil, err
	}
	str := stream.New(buf, stream.Options{ChannelCapacity: r.channelCapacity()})
	path := r.JournalPath(name)

	// Replay before the writer opens: the reader has the file to itself,
	// so the rebuilt buffer cannot interleave with fresh appends.
	var rec RecoveryInfo
	_, err = journal.Replay(path, func(e journal.Entry) error {
		if e.Kind == journal.KindSnapshotMarker {
			rec.MarkersSeen++
			return nil
		}
		hr, derr := hotbuf.DecodeRecord(e.Payload)
		if derr != nil {
			return derr
		}
		buf.Write(hr)
		rec.RecordsReplayed++
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		// Fresh stream. The first append creates the file.
	case journal.IsCorruption(err):
		// Replay already loaded every entry before the bad one; cutting
		// the tail brings the file in line with the buffer.
		kept, off, rerr := journal.Repair(path)
		if rerr != nil {
			str.Close()
			return nil, fmt.Errorf("runtime: open %s: repair: %w", name, rerr)
		}
		rec.Repaired = true
		rec.RepairedOffset = off
		r.logger.Warn("journal tail truncated",
			logpkg.Str("stream", name),
			logpkg.Int("entries_kept", kept),
			logpkg.Int64("offset", off),
			logpkg.Err(err))
	default:
		str.Close()
		return nil, fmt.Errorf("runtime: open %s: replay: %w", name, err)
	}

	// A compaction that died between its rewrite and its base update left
	// an armed intent behind; settle it before any sequence number is
	// derived from the base.
	if meta.PendingCompact {
		resolved, adopted, rerr := resolveCompactIntent(r.db, meta, path)
		if rerr != nil {
			str.Close()
			return nil, fmt.Errorf("runtime: open %s: resolve compaction intent: %w", name, rerr)
		}
		meta = resolved
		r.logger.Info("compaction intent resolved",
			logpkg.Str("stream", name),
			logpkg.Bool("rewrite_found", adopted),
			logpkg.Uint64("seq_base", meta.SeqBase))
	}

	w, err := journal.OpenBatchWriter(path, r.journalConfig(meta))
	if err != nil {
		str.Close()
		return nil, fmt.Errorf("runtime: open %s: %w", name, err)
	}
	r.logger.Info("stream opened",
		logpkg.Str("stream", name),
		logpkg.Int("records_replayed", rec.RecordsReplayed),
		logpkg.Int("markers_seen", rec.MarkersSeen),
		logpkg.Uint64("seq_base", meta.SeqBase),
		logpkg.Bool("repaired", rec.Repaired))
	return &StreamHandle{
		name:     name,
		path:     path,
		str:      str,
		seqBase:  meta.SeqBase,
		recovery: rec,
		w:        w,
		meta:     meta,
	}, nil
}

// Name returns the stream name.
func (h *StreamHandle) Name() string { return h.name }

// Path returns the journal file path.
func (h *StreamHandle) Path() string { return h.path }

// Stream returns the broadcaster-wrapped hot buffer.
func (h *StreamHandle) Stream() *stream.Stream { return h.str }

// Buffer returns the underlying hot buffer.
func (h *StreamHandle) Buffer() *hotbuf.Buffer { return h.str.Buffer() }

// SeqBase returns the sequence base in effect for this handle. Adding it
// to a hot buffer sequence yields the stream-wide sequence number.
func (h *StreamHandle) SeqBase() uint64 { return h.seqBase }

// StreamSeq converts a hot buffer sequence to the stable stream-wide
// sequence number.
func (h *StreamHandle) StreamSeq(bufSeq uint64) uint64 { return h.seqBase + bufSeq }

// BufSeq converts a stream-wide sequence back to a hot buffer sequence.
// Sequences below the base predate the buffer's journal suffix and
// report false.
func (h *StreamHandle) BufSeq(streamSeq uint64) (uint64, bool) {
	if streamSeq < h.seqBase {
		return 0, false
	}
	return streamSeq - h.seqBase, true
}

// Recovery reports what the open path replayed and repaired.
func (h *StreamHandle) Recovery() RecoveryInfo { return h.recovery }

// Meta returns the stream's current persisted settings.
func (h *StreamHandle) Meta() registry.Meta {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.meta
}

// AppendJournal enqueues an entry for durable write. It blocks only when
// the writer queue is full or, briefly, while a compaction swaps the
// writer; during the swap itself it fails with ErrWriterClosed.
func (h *StreamHandle) AppendJournal(ctx context.Context, e journal.Entry) error {
	h.mu.RLock()
	w := h.w
	h.mu.RUnlock()
	return w.Append(ctx, e)
}

// FlushJournal forces everything enqueued so far onto disk before
// returning.
func (h *StreamHandle) FlushJournal(ctx context.Context) error {
	h.mu.RLock()
	w := h.w
	h.mu.RUnlock()
	return w.Flush(ctx)
}

// JournalStats returns the writer's cumulative counters.
func (h *StreamHandle) JournalStats() journal.Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.w.Stats()
}

// QueueDepth returns the number of entries waiting in the writer queue.
func (h *StreamHandle) QueueDepth() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.w.QueueDepth()
}

// WriterErr returns the writer's fatal error, or nil while it is healthy.
func (h *StreamHandle) WriterErr() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.w.Err()
}

// compact drains and closes the writer, rewrites the journal from its
// last snapshot marker, and opens a fresh writer. The sequence base moves
// through a persisted intent: the bumped base and the identity of the
// rewrite's first entry are recorded before the rename, and the base takes
// effect only once the rewrite is known to have landed, so a crash or
// registry failure anywhere in between cannot shift sequence numbers. The
// handle's live seqBase is deliberately left alone.
func (h *StreamHandle) compact(db *pebblestore.DB, cfg journal.Config, logger logpkg.Logger) (journal.CompactResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.w.Close(); err != nil {
		if w, openErr := journal.OpenBatchWriter(h.path, cfg); openErr == nil {
			h.w = w
		}
		return journal.CompactResult{}, fmt.Errorf("runtime: compact %s: drain: %w", h.name, err)
	}

	res, err := h.compactLocked(db)

	w, openErr := journal.OpenBatchWriter(h.path, cfg)
	if openErr != nil {
		if err == nil {
			err = fmt.Errorf("runtime: compact %s: reopen: %w", h.name, openErr)
		}
		return res, err
	}
	h.w = w
	if err != nil {
		return res, err
	}
	logger.Info("journal compacted",
		logpkg.Str("stream", h.name),
		logpkg.Int("entries_kept", res.EntriesKept),
		logpkg.Int("entries_dropped", res.EntriesDropped),
		logpkg.Int64("bytes_before", res.BytesBefore),
		logpkg.Int64("bytes_after", res.BytesAfter),
		logpkg.Uint64("seq_base", h.meta.SeqBase))
	return res, nil
}

// compactLocked runs the rewrite with the writer closed and h.mu held.
func (h *StreamHandle) compactLocked(db *pebblestore.DB) (journal.CompactResult, error) {
	if h.meta.PendingCompact {
		// A previous pass died between its rewrite and its base update;
		// settle it before planning on top of the result.
		resolved, _, rerr := resolveCompactIntent(db, h.meta, h.path)
		if rerr != nil {
			return journal.CompactResult{}, fmt.Errorf("runtime: compact %s: resolve intent: %w", h.name, rerr)
		}
		h.meta = resolved
	}

	plan, err := journal.PlanCompact(h.path)
	if err != nil {
		return journal.CompactResult{}, fmt.Errorf("runtime: compact %s: plan: %w", h.name, err)
	}
	if !plan.Rewrites() {
		return plan.Result(), nil
	}

	dropped := plan.EntriesDropped - plan.MarkersDropped
	intent := h.meta
	intent.SetCompactIntent(h.meta.SeqBase+uint64(dropped),
		plan.Anchor.TimestampUs, uint8(plan.Anchor.Kind), plan.Anchor.Payload)
	if perr := registry.PutStream(db, intent); perr != nil {
		// Nothing rewritten yet; the journal is untouched.
		return journal.CompactResult{}, fmt.Errorf("runtime: compact %s: record intent: %w", h.name, perr)
	}
	h.meta = intent

	res, err := plan.Execute()
	if err != nil {
		// The intent stays armed; the next resolution checks the journal
		// head and keeps or adopts the base to match whatever landed.
		return res, fmt.Errorf("runtime: compact %s: %w", h.name, err)
	}

	final := intent
	final.SeqBase = intent.PendingSeqBase
	final.ClearCompactIntent()
	if perr := registry.PutStream(db, final); perr != nil {
		// The rewrite landed but the base did not; the armed intent lets
		// the next resolution finish the adoption.
		return res, fmt.Errorf("runtime: compact %s: persist seq base: %w", h.name, perr)
	}
	h.meta = final
	return res, nil
}

// resolveCompactIntent settles an armed compaction intent against the
// journal on disk. A head entry matching the recorded anchor means the
// rewrite landed and the pending base takes effect; anything else means it
// did not and the old base stands. Either way the intent is disarmed and
// the result persisted. The returned meta is only valid when err is nil.
func resolveCompactIntent(db *pebblestore.DB, m registry.Meta, path string) (registry.Meta, bool, error) {
	adopted := false
	ts, kind, payload, ok, err := journalHead(path)
	if err != nil {
		return m, false, err
	}
	if ok && m.AnchorMatches(ts, kind, payload) {
		m.SeqBase = m.PendingSeqBase
		adopted = true
	}
	m.ClearCompactIntent()
	if err := registry.PutStream(db, m); err != nil {
		return m, adopted, err
	}
	return m, adopted, nil
}

// journalHead reads the first entry of the journal at path. ok is false
// for a missing or empty file.
func journalHead(path string) (tsUs int64, kind uint8, payload []byte, ok bool, err error) {
	r, err := journal.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil, false, nil
		}
		return 0, 0, nil, false, err
	}
	defer r.Close()
	e, err := r.Next()
	if errors.Is(err, io.EOF) {
		return 0, 0, nil, false, nil
	}
	if err != nil {
		return 0, 0, nil, false, err
	}
	return e.TimestampUs, uint8(e.Kind), e.Payload, true, nil
}

// close drains the writer and tears down the broadcaster. Safe to call
// once; the Runtime is the only caller.
func (h *StreamHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.w.Close()
	h.str.Close()
	return err
}
