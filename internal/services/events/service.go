package eventsvc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rzbill/engram/internal/hotbuf"
	"github.com/rzbill/engram/internal/journal"
	"github.com/rzbill/engram/internal/metrics"
	"github.com/rzbill/engram/internal/registry"
	"github.com/rzbill/engram/internal/runtime"
	streampkg "github.com/rzbill/engram/internal/stream"
	"github.com/rzbill/engram/pkg/id"
	logpkg "github.com/rzbill/engram/pkg/log"
)

// ErrNotLive reports a sequence outside the hot window: rotated out,
// never written, or predating the journal suffix after a compaction.
var ErrNotLive = hotbuf.ErrNotLive

var (
	// ErrUnknownKind reports an unrecognized record kind name.
	ErrUnknownKind = errors.New("events: unknown kind")
	// ErrUnknownStrategy reports an unrecognized sampling strategy name.
	ErrUnknownStrategy = errors.New("events: unknown strategy")
	// ErrUnknownField reports an unrecognized mutable field name.
	ErrUnknownField = errors.New("events: unknown field")
	// ErrVectorTooLong reports a state or action vector beyond the fixed
	// record dimensions.
	ErrVectorTooLong = errors.New("events: vector too long")
)

// Service provides the event operations consumed by transports: publish
// into the hot buffer and journal, point and range reads, replay
// sampling, reward mutation, live subscribe, snapshot markers, flush
// barriers, compaction, and consumer cursors.
//
// Performance tunables (env-driven, read at construction time):
//   - ENGRAM_SUB_FLUSH_MS: optional subscribe flush window in ms (default 0).
//     When >0, the subscriber writer coalesces sends for up to the window
//     before flushing. Small values (2-5ms) reduce flush overhead at high QPS.
//   - ENGRAM_SUB_BUF: buffered event capacity per subscriber (default 1024).
//     Increase for bursty producers or slow transports.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	gen    *id.Generator

	// activeSubs tracks live subscriptions per stream.
	subsMu     sync.Mutex
	activeSubs map[string]int

	// flushWindow batches subscribe sends up to this duration before flushing.
	flushWindow time.Duration
	// subBufLen controls the buffered event queue size per subscriber writer.
	subBufLen int
}

// New returns a Service using a default logger.
func New(rt *runtime.Runtime) *Service {
	return NewWithLogger(rt, nil)
}

// NewWithLogger returns a Service using the provided logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("events"))
	}
	return &Service{
		rt:          rt,
		logger:      logger,
		gen:         id.NewGenerator(),
		activeSubs:  map[string]int{},
		flushWindow: readFlushWindow(),
		subBufLen:   readSubBufLen(),
	}
}

func readFlushWindow() time.Duration {
	if v := os.Getenv("ENGRAM_SUB_FLUSH_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

func readSubBufLen() int {
	if v := os.Getenv("ENGRAM_SUB_BUF"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > 65536 { // cap unbounded values
				n = 65536
			}
			return n
		}
	}
	return 1024
}

// CreateStream registers a stream, persisting any tuning overrides onto
// its meta record. Idempotent; overrides apply at the next open.
func (s *Service) CreateStream(opts CreateStreamOptions) (registry.Meta, error) {
	meta, err := s.rt.EnsureStream(opts.Name)
	if err != nil {
		return registry.Meta{}, err
	}
	changed := false
	if opts.BufferCapacity > 0 && meta.BufferCapacity != opts.BufferCapacity {
		meta.BufferCapacity = opts.BufferCapacity
		changed = true
	}
	if opts.BatchSize > 0 && meta.BatchSize != opts.BatchSize {
		meta.BatchSize = opts.BatchSize
		changed = true
	}
	if opts.BatchTimeoutMs > 0 && meta.BatchTimeoutMs != opts.BatchTimeoutMs {
		meta.BatchTimeoutMs = opts.BatchTimeoutMs
		changed = true
	}
	if opts.QueueCapacity > 0 && meta.QueueCapacity != opts.QueueCapacity {
		meta.QueueCapacity = opts.QueueCapacity
		changed = true
	}
	if changed {
		if err := registry.PutStream(s.rt.DB(), meta); err != nil {
			return registry.Meta{}, err
		}
	}
	return meta, nil
}

// ListStreams returns every registered stream's meta record.
func (s *Service) ListStreams() ([]registry.Meta, error) {
	return registry.ListStreams(s.rt.DB())
}

// Publish stores one record: hot buffer first for immediate visibility,
// then the journal for durability. Fan-out to subscribers happens as part
// of the buffer write. The returned sequence is stream-wide.
//
// Journal entries land in append-arrival order, which under concurrent
// producers can differ from sequence order; recovery replays in file
// order and reassigns sequences, so the hot window stays internally
// consistent either way.
func (s *Service) Publish(ctx context.Context, stream string, req PublishRequest) (uint64, error) {
	t0 := time.Now()
	kind, ok := journal.KindFromName(req.Kind)
	if !ok || kind == journal.KindSnapshotMarker {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	if len(req.State) > hotbuf.StateDim {
		return 0, fmt.Errorf("%w: state has %d components, max %d", ErrVectorTooLong, len(req.State), hotbuf.StateDim)
	}
	if len(req.Action) > hotbuf.ActionDim {
		return 0, fmt.Errorf("%w: action has %d components, max %d", ErrVectorTooLong, len(req.Action), hotbuf.ActionDim)
	}
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return 0, err
	}

	rec := hotbuf.Record{
		ID:          s.gen.Next(),
		Kind:        uint8(kind),
		Step:        req.Step,
		Reward:      req.Reward,
		RewardTotal: req.RewardTotal,
		TsUs:        journal.NowUs(),
	}
	copy(rec.State[:], req.State)
	copy(rec.Action[:], req.Action)

	rec.Seq = h.Stream().WriteEvent(rec)
	e := journal.Entry{TimestampUs: rec.TsUs, Kind: kind, Payload: hotbuf.EncodeRecord(rec)}
	if err := h.AppendJournal(ctx, e); err != nil {
		return 0, err
	}

	seq := h.StreamSeq(rec.Seq)
	metrics.EventsPublished.WithLabelValues(stream, req.Kind).Inc()
	metrics.PublishDuration.WithLabelValues(stream).Observe(time.Since(t0).Seconds())
	s.logger.With(
		logpkg.Str("stream", stream),
		logpkg.Str("kind", req.Kind),
		logpkg.Uint64("seq", seq),
		logpkg.Int64("dur_us", time.Since(t0).Microseconds()),
	).Debug("events.publish")
	return seq, nil
}

// WriteSnapshotMarker appends a snapshot marker and waits for it to reach
// disk. Compaction keeps only the journal suffix from the last marker, so
// a caller that persists derived state elsewhere writes the marker after
// that state is safe. Each marker carries a fresh id so no two markers
// are byte-identical; compaction relies on that to recognize its rewrite
// after a crash.
func (s *Service) WriteSnapshotMarker(ctx context.Context, stream string) error {
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return err
	}
	if err := h.AppendJournal(ctx, journal.NewEntry(journal.KindSnapshotMarker, s.gen.Next().Bytes())); err != nil {
		return err
	}
	if err := h.FlushJournal(ctx); err != nil {
		return err
	}
	s.logger.With(logpkg.Str("stream", stream)).Debug("events.snapshot_marker")
	return nil
}

// Flush forces everything enqueued on the stream's journal so far onto
// disk before returning.
func (s *Service) Flush(ctx context.Context, stream string) error {
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return err
	}
	t0 := time.Now()
	if err := h.FlushJournal(ctx); err != nil {
		return err
	}
	metrics.JournalFlushDuration.WithLabelValues(stream).Observe(time.Since(t0).Seconds())
	return nil
}

// Get returns the event at a stream-wide sequence while it is live.
func (s *Service) Get(stream string, seq uint64) (Event, bool, error) {
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return Event{}, false, err
	}
	bufSeq, ok := h.BufSeq(seq)
	if !ok {
		return Event{}, false, nil
	}
	rec, ok := h.Buffer().Read(bufSeq)
	if !ok {
		return Event{}, false, nil
	}
	return eventFromRecord(rec, h.SeqBase()), true, nil
}

// Range returns the live events with stream-wide sequence in [start, end),
// in sequence order. Bounds are clamped to the live window.
func (s *Service) Range(stream string, start, end uint64) ([]Event, error) {
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return nil, err
	}
	base := h.SeqBase()
	if end <= base {
		return nil, nil
	}
	bufStart, ok := h.BufSeq(start)
	if !ok {
		bufStart = 0
	}
	recs := h.Buffer().QueryRange(bufStart, end-base)
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, eventFromRecord(rec, base))
	}
	return out, nil
}

// UpdateReward mutates a reward field on a live record. The mutation is
// hot-window-only: the journal keeps the record as published. Returns
// ErrNotLive once the record has rotated out.
func (s *Service) UpdateReward(stream string, seq uint64, field string, value float64) error {
	f, ok := hotbuf.FieldFromName(field)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return err
	}
	bufSeq, ok := h.BufSeq(seq)
	if !ok {
		return ErrNotLive
	}
	return h.Buffer().UpdateField(bufSeq, f, value)
}

// Sample draws a replay batch from the live window. When a filter is set
// it narrows the candidate pool before the strategy draws, so the batch
// is a strategy-true sample of the matching records.
func (s *Service) Sample(stream string, req SampleRequest) ([]Event, error) {
	strat := streampkg.SampleUniform
	if req.Strategy != "" {
		var ok bool
		strat, ok = streampkg.ParseStrategy(req.Strategy)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
		}
	}
	opts := streampkg.SampleOptions{Size: req.Size, Strategy: strat}
	if strat == streampkg.SampleByKind {
		kind, ok := journal.KindFromName(req.Kind)
		if !ok || kind == journal.KindSnapshotMarker {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
		}
		opts.Kind = uint8(kind)
	}
	cfilter, err := newCELFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	base := h.SeqBase()
	live := h.Buffer().Snapshot()
	pool := len(live)
	if cfilter.enabled {
		kept := live[:0]
		for _, rec := range live {
			if cfilter.Eval(eventFromRecord(rec, base)) {
				kept = append(kept, rec)
			}
		}
		live = kept
	}
	recs := streampkg.SampleRecords(live, opts)
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, eventFromRecord(rec, base))
	}
	metrics.SampleDuration.WithLabelValues(strat.String()).Observe(time.Since(t0).Seconds())
	s.logger.With(
		logpkg.Str("stream", stream),
		logpkg.Str("strategy", strat.String()),
		logpkg.Int("pool", pool),
		logpkg.Int("matched", len(live)),
		logpkg.Int("n", len(out)),
		logpkg.Int64("dur_us", time.Since(t0).Microseconds()),
	).Debug("events.sample")
	return out, nil
}

// Subscribe streams events to sink until a context ends, the limit is
// reached, or the stream closes; those all terminate with nil. Delivery
// is lossy by contract: events dropped while this subscriber's channel
// was full are simply absent, and the hot buffer remains the catch-up
// path for anything still live.
func (s *Service) Subscribe(ctx context.Context, stream string, opts SubscribeOptions, sink SubscribeSink) error {
	cfilter, err := newCELFilter(opts.Filter)
	if err != nil {
		return err
	}
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return err
	}

	s.incSub(stream)
	defer s.decSub(stream)

	sub := h.Stream().Subscribe()
	defer sub.Close()

	// Per-subscriber async writer to decouple slow transports
	outCh := make(chan Event, s.subBufLen)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pending := 0
		var ticker *time.Timer
		if s.flushWindow > 0 {
			ticker = time.NewTimer(s.flushWindow)
			defer ticker.Stop()
		}
		flush := func() {
			if pending > 0 {
				_ = sink.Flush()
				pending = 0
			}
		}
		for {
			select {
			case ev, ok := <-outCh:
				if !ok {
					flush()
					return
				}
				_ = sink.Send(ev)
				pending++
				if s.flushWindow == 0 || pending >= 64 {
					flush()
					if ticker != nil {
						if !ticker.Stop() {
							select {
							case <-ticker.C:
							default:
							}
						}
						ticker.Reset(s.flushWindow)
					}
				}
			case <-sink.Context().Done():
				return
			case <-func() <-chan time.Time {
				if ticker != nil {
					return ticker.C
				}
				return make(chan time.Time)
			}():
				flush()
				if ticker != nil {
					ticker.Reset(s.flushWindow)
				}
			}
		}
	}()
	defer func() { close(outCh); wg.Wait() }()

	base := h.SeqBase()
	delivered := 0
	t0 := time.Now()
	defer func() {
		s.logger.With(
			logpkg.Str("stream", stream),
			logpkg.Int("delivered", delivered),
			logpkg.Uint64("missed", sub.Dropped()),
			logpkg.Int64("dur_ms", time.Since(t0).Milliseconds()),
		).Debug("events.deliver")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.Context().Done():
			return nil
		case rec, ok := <-sub.C():
			if !ok {
				return nil
			}
			ev := eventFromRecord(rec, base)
			if !cfilter.Eval(ev) {
				continue
			}
			select {
			case outCh <- ev:
			case <-ctx.Done():
				return nil
			case <-sink.Context().Done():
				return nil
			}
			delivered++
			if opts.Limit > 0 && delivered >= opts.Limit {
				return nil
			}
		}
	}
}

// Stats snapshots the stream's counters, opening the stream if needed.
func (s *Service) Stats(stream string) (StreamStats, error) {
	h, err := s.rt.OpenStream(stream)
	if err != nil {
		return StreamStats{}, err
	}
	js := h.JournalStats()
	buf := h.Buffer()
	lo, hi := buf.LiveWindow()
	str := h.Stream()
	rec := h.Recovery()
	return StreamStats{
		Stream:            stream,
		FirstLiveSeq:      h.StreamSeq(lo),
		NextSeq:           h.StreamSeq(hi),
		LiveRecords:       buf.Len(),
		Capacity:          buf.Capacity(),
		TotalWritten:      buf.TotalWritten(),
		SeqBase:           h.SeqBase(),
		JournalEntries:    js.EntriesWritten,
		JournalBytes:      js.BytesWritten,
		JournalBatches:    js.BatchesFlushed,
		JournalDropped:    js.EntriesDropped,
		QueueDepth:        h.QueueDepth(),
		Subscribers:       str.Subscribers(),
		ActiveSubscribers: s.ActiveSubscribersCount(stream),
		FanoutDropped:     str.Dropped(),
		RecordsReplayed:   rec.RecordsReplayed,
		Repaired:          rec.Repaired,
	}, nil
}

// Compact rewrites the stream's journal down to the suffix starting at
// its last snapshot marker and advances the persisted sequence base.
// Appends racing the compaction fail with the journal's writer-closed
// error and should be retried.
func (s *Service) Compact(stream string) (journal.CompactResult, error) {
	return s.rt.CompactStream(stream)
}

// CommitCursor records a consumer group's position on a stream. Commits
// never move a cursor backwards, so replayed or reordered commits are
// no-ops.
func (s *Service) CommitCursor(stream, group string, seq uint64) error {
	if err := registry.CommitCursor(s.rt.DB(), stream, group, seq); err != nil {
		return err
	}
	s.logger.With(
		logpkg.Str("stream", stream),
		logpkg.Str("group", group),
		logpkg.Uint64("seq", seq),
	).Debug("events.cursor_commit")
	return nil
}

// GetCursor loads a consumer group's committed position.
func (s *Service) GetCursor(stream, group string) (uint64, bool, error) {
	return registry.GetCursor(s.rt.DB(), stream, group)
}

// ListCursors returns every group cursor on a stream.
func (s *Service) ListCursors(stream string) ([]registry.Cursor, error) {
	return registry.ListCursors(s.rt.DB(), stream)
}

// ActiveSubscribersCount returns the number of live subscriptions on a
// stream served by this service.
func (s *Service) ActiveSubscribersCount(stream string) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return s.activeSubs[stream]
}

func (s *Service) incSub(key string) {
	s.subsMu.Lock()
	s.activeSubs[key] = s.activeSubs[key] + 1
	s.subsMu.Unlock()
}

func (s *Service) decSub(key string) {
	s.subsMu.Lock()
	if v := s.activeSubs[key]; v > 1 {
		s.activeSubs[key] = v - 1
	} else {
		delete(s.activeSubs, key)
	}
	s.subsMu.Unlock()
}

// eventFromRecord builds the transport view of a record, translating its
// buffer sequence to the stream-wide one.
func eventFromRecord(rec hotbuf.Record, seqBase uint64) Event {
	state := make([]float32, hotbuf.StateDim)
	copy(state, rec.State[:])
	action := make([]float32, hotbuf.ActionDim)
	copy(action, rec.Action[:])
	return Event{
		ID:          rec.ID.String(),
		Seq:         seqBase + rec.Seq,
		Kind:        journal.Kind(rec.Kind).String(),
		Step:        rec.Step,
		State:       state,
		Action:      action,
		Reward:      rec.Reward,
		RewardTotal: rec.RewardTotal,
		TsUs:        rec.TsUs,
	}
}
