package eventsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/engram/internal/config"
	"github.com/rzbill/engram/internal/runtime"
	pebblestore "github.com/rzbill/engram/internal/storage/pebble"
)

func newServiceForTest(t *testing.T) (*Service, *runtime.Runtime) {
	t.Helper()
	dir := t.TempDir()
	rt, err := runtime.Open(runtime.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt), rt
}

func mustPublish(t *testing.T, svc *Service, stream string, req PublishRequest) uint64 {
	t.Helper()
	seq, err := svc.Publish(context.Background(), stream, req)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return seq
}

func TestPublishAssignsSequentialSeqs(t *testing.T) {
	svc, _ := newServiceForTest(t)
	for i := 0; i < 3; i++ {
		seq := mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added", Step: uint64(i)})
		if seq != uint64(i) {
			t.Fatalf("seq %d: got %d", i, seq)
		}
	}
	ev, ok, err := svc.Get("orders", 1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if ev.Seq != 1 || ev.Kind != "experience-added" || ev.Step != 1 {
		t.Fatalf("event: %+v", ev)
	}
	if ev.ID == "" || ev.TsUs == 0 {
		t.Fatalf("missing id or timestamp: %+v", ev)
	}
}

func TestPublishCopiesVectors(t *testing.T) {
	svc, _ := newServiceForTest(t)
	seq := mustPublish(t, svc, "orders", PublishRequest{
		Kind:   "experience-added",
		State:  []float32{0.5, 0.25},
		Action: []float32{1},
		Reward: 2.5,
	})
	ev, ok, _ := svc.Get("orders", seq)
	if !ok {
		t.Fatalf("not live")
	}
	if len(ev.State) != 8 || len(ev.Action) != 4 {
		t.Fatalf("vector dims: %d %d", len(ev.State), len(ev.Action))
	}
	if ev.State[0] != 0.5 || ev.State[1] != 0.25 || ev.State[2] != 0 {
		t.Fatalf("state: %v", ev.State)
	}
	if ev.Action[0] != 1 || ev.Reward != 2.5 {
		t.Fatalf("event: %+v", ev)
	}
}

func TestPublishRejectsBadInput(t *testing.T) {
	svc, _ := newServiceForTest(t)
	if _, err := svc.Publish(context.Background(), "orders", PublishRequest{Kind: "bogus"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind: %v", err)
	}
	if _, err := svc.Publish(context.Background(), "orders", PublishRequest{Kind: "snapshot-marker"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("marker kind: %v", err)
	}
	long := make([]float32, 9)
	if _, err := svc.Publish(context.Background(), "orders", PublishRequest{Kind: "experience-added", State: long}); !errors.Is(err, ErrVectorTooLong) {
		t.Fatalf("oversize state: %v", err)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	svc, _ := newServiceForTest(t)
	mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"})
	if _, ok, err := svc.Get("orders", 99); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
}

func TestRange(t *testing.T) {
	svc, _ := newServiceForTest(t)
	for i := 0; i < 5; i++ {
		mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added", Step: uint64(i)})
	}
	evs, err := svc.Range("orders", 1, 4)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("seq order: %+v", evs)
		}
	}
	// Bounds clamp to the live window.
	if evs, _ := svc.Range("orders", 0, 100); len(evs) != 5 {
		t.Fatalf("clamped range: %d", len(evs))
	}
	if evs, _ := svc.Range("orders", 10, 20); len(evs) != 0 {
		t.Fatalf("empty range: %d", len(evs))
	}
}

func TestUpdateReward(t *testing.T) {
	svc, _ := newServiceForTest(t)
	seq := mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added", Reward: 1})
	if err := svc.UpdateReward("orders", seq, "reward", 9.5); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := svc.UpdateReward("orders", seq, "reward_total", 20); err != nil {
		t.Fatalf("update total: %v", err)
	}
	ev, _, _ := svc.Get("orders", seq)
	if ev.Reward != 9.5 || ev.RewardTotal != 20 {
		t.Fatalf("event: %+v", ev)
	}
	if err := svc.UpdateReward("orders", seq, "step", 1); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("unknown field: %v", err)
	}
	if err := svc.UpdateReward("orders", 99, "reward", 1); !errors.Is(err, ErrNotLive) {
		t.Fatalf("not live: %v", err)
	}
}

func TestSampleStrategies(t *testing.T) {
	svc, _ := newServiceForTest(t)
	kinds := []string{"experience-added", "state-created", "experience-added", "state-created"}
	for i, k := range kinds {
		mustPublish(t, svc, "orders", PublishRequest{Kind: k, Step: uint64(i), Reward: float64(i + 1)})
	}

	evs, err := svc.Sample("orders", SampleRequest{Size: 3})
	if err != nil {
		t.Fatalf("uniform: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("uniform size: %d", len(evs))
	}

	evs, err = svc.Sample("orders", SampleRequest{Size: 2, Strategy: "most_recent"})
	if err != nil {
		t.Fatalf("most_recent: %v", err)
	}
	if len(evs) != 2 || evs[0].Seq != 2 || evs[1].Seq != 3 {
		t.Fatalf("most_recent: %+v", evs)
	}

	evs, err = svc.Sample("orders", SampleRequest{Size: 10, Strategy: "by_kind", Kind: "state-created"})
	if err != nil {
		t.Fatalf("by_kind: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("by_kind size: %d", len(evs))
	}
	for _, ev := range evs {
		if ev.Kind != "state-created" {
			t.Fatalf("by_kind kind: %+v", ev)
		}
	}

	evs, err = svc.Sample("orders", SampleRequest{Size: 4, Strategy: "reward_weighted"})
	if err != nil {
		t.Fatalf("reward_weighted: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("reward_weighted size: %d", len(evs))
	}

	if _, err := svc.Sample("orders", SampleRequest{Size: 1, Strategy: "bogus"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("unknown strategy: %v", err)
	}
	if _, err := svc.Sample("orders", SampleRequest{Size: 1, Strategy: "by_kind", Kind: "bogus"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("by_kind unknown kind: %v", err)
	}
}

func TestSampleFilterNarrowsPool(t *testing.T) {
	svc, _ := newServiceForTest(t)
	for i := 0; i < 5; i++ {
		mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added", Reward: float64(i)})
	}
	evs, err := svc.Sample("orders", SampleRequest{Size: 10, Filter: `reward >= 3.0`})
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("matched: %d", len(evs))
	}
	for _, ev := range evs {
		if ev.Reward < 3 {
			t.Fatalf("filter leak: %+v", ev)
		}
	}
	if _, err := svc.Sample("orders", SampleRequest{Size: 1, Filter: `reward >`}); !errors.Is(err, ErrBadFilter) {
		t.Fatalf("expected filter compile error, got %v", err)
	}
}

type testSink struct {
	ctx    context.Context
	events *[]Event
}

func (s *testSink) Send(ev Event) error {
	*s.events = append(*s.events, ev)
	return nil
}

func (s *testSink) Flush() error { return nil }

func (s *testSink) Context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func waitForSubscribers(t *testing.T, rt *runtime.Runtime, stream string, n int) {
	t.Helper()
	h, err := rt.OpenStream(stream)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.Stream().Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers: %d", h.Stream().Subscribers())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubscribeLimit(t *testing.T) {
	svc, rt := newServiceForTest(t)
	ctx := context.Background()

	var received []Event
	sink := &testSink{events: &received}
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Subscribe(ctx, "orders", SubscribeOptions{Limit: 2}, sink)
	}()
	waitForSubscribers(t, rt, "orders", 1)

	for i := 0; i < 3; i++ {
		mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added", Step: uint64(i)})
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe did not return at limit")
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Seq != 0 || received[1].Seq != 1 {
		t.Fatalf("delivery order: %+v", received)
	}
}

func TestSubscribeFilter(t *testing.T) {
	svc, rt := newServiceForTest(t)
	ctx := context.Background()

	var received []Event
	sink := &testSink{events: &received}
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Subscribe(ctx, "orders", SubscribeOptions{Filter: `kind == "edge-updated"`, Limit: 1}, sink)
	}()
	waitForSubscribers(t, rt, "orders", 1)

	mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"})
	mustPublish(t, svc, "orders", PublishRequest{Kind: "edge-updated"})

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe did not return at limit")
	}
	if len(received) != 1 || received[0].Kind != "edge-updated" {
		t.Fatalf("filtered delivery: %+v", received)
	}
}

func TestSubscribeContextCancel(t *testing.T) {
	svc, rt := newServiceForTest(t)
	ctx, cancel := context.WithCancel(context.Background())

	var received []Event
	sink := &testSink{events: &received}
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Subscribe(ctx, "orders", SubscribeOptions{}, sink)
	}()
	waitForSubscribers(t, rt, "orders", 1)
	if n := svc.ActiveSubscribersCount("orders"); n != 1 {
		t.Fatalf("active subs: %d", n)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe did not return on cancel")
	}
	if n := svc.ActiveSubscribersCount("orders"); n != 0 {
		t.Fatalf("active subs after cancel: %d", n)
	}
}

func TestSubscribeBadFilter(t *testing.T) {
	svc, _ := newServiceForTest(t)
	sink := &testSink{events: &[]Event{}}
	if err := svc.Subscribe(context.Background(), "orders", SubscribeOptions{Filter: `kind ==`}, sink); !errors.Is(err, ErrBadFilter) {
		t.Fatalf("expected filter compile error, got %v", err)
	}
}

func TestFlushAndBufferTunables(t *testing.T) {
	t.Setenv("ENGRAM_SUB_FLUSH_MS", "2")
	t.Setenv("ENGRAM_SUB_BUF", "256")
	svc, _ := newServiceForTest(t)
	if svc.flushWindow <= 0 {
		t.Fatalf("expected non-zero flush window")
	}
	if svc.subBufLen != 256 {
		t.Fatalf("expected subBufLen=256, got %d", svc.subBufLen)
	}
}

func TestCreateStreamPersistsOverrides(t *testing.T) {
	svc, _ := newServiceForTest(t)
	meta, err := svc.CreateStream(CreateStreamOptions{Name: "orders", BufferCapacity: 128, BatchSize: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if meta.BufferCapacity != 128 || meta.BatchSize != 5 {
		t.Fatalf("meta: %+v", meta)
	}
	metas, err := svc.ListStreams()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 1 || metas[0].Name != "orders" || metas[0].BufferCapacity != 128 {
		t.Fatalf("listed: %+v", metas)
	}
	// Idempotent re-create keeps the stored overrides.
	again, err := svc.CreateStream(CreateStreamOptions{Name: "orders"})
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if again.BufferCapacity != 128 {
		t.Fatalf("recreate meta: %+v", again)
	}
}

func TestCursors(t *testing.T) {
	svc, _ := newServiceForTest(t)
	if err := svc.CommitCursor("orders", "trainers", 10); err != nil {
		t.Fatalf("commit: %v", err)
	}
	seq, ok, err := svc.GetCursor("orders", "trainers")
	if err != nil || !ok || seq != 10 {
		t.Fatalf("get: seq=%d ok=%v err=%v", seq, ok, err)
	}
	// Commits never regress.
	if err := svc.CommitCursor("orders", "trainers", 5); err != nil {
		t.Fatalf("regress commit: %v", err)
	}
	seq, _, _ = svc.GetCursor("orders", "trainers")
	if seq != 10 {
		t.Fatalf("cursor regressed to %d", seq)
	}
	if err := svc.CommitCursor("orders", "evaluators", 3); err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	cursors, err := svc.ListCursors("orders")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cursors) != 2 {
		t.Fatalf("cursors: %+v", cursors)
	}
	if _, ok, _ := svc.GetCursor("orders", "nobody"); ok {
		t.Fatalf("expected missing cursor")
	}
}

func TestStats(t *testing.T) {
	svc, _ := newServiceForTest(t)
	mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"})
	mustPublish(t, svc, "orders", PublishRequest{Kind: "state-created"})
	if err := svc.Flush(context.Background(), "orders"); err != nil {
		t.Fatalf("flush: %v", err)
	}
	st, err := svc.Stats("orders")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Stream != "orders" || st.NextSeq != 2 || st.FirstLiveSeq != 0 {
		t.Fatalf("stats: %+v", st)
	}
	if st.LiveRecords != 2 || st.TotalWritten != 2 || st.Capacity != 4096 {
		t.Fatalf("buffer stats: %+v", st)
	}
	if st.JournalEntries != 2 || st.QueueDepth != 0 {
		t.Fatalf("journal stats: %+v", st)
	}
	if st.Subscribers != 0 || st.ActiveSubscribers != 0 {
		t.Fatalf("subscriber stats: %+v", st)
	}
}

func TestSnapshotMarkerAndCompact(t *testing.T) {
	svc, rt := newServiceForTest(t)
	ctx := context.Background()
	mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"})
	mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"})
	if err := svc.WriteSnapshotMarker(ctx, "orders"); err != nil {
		t.Fatalf("marker: %v", err)
	}
	mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"})
	if err := svc.Flush(ctx, "orders"); err != nil {
		t.Fatalf("flush: %v", err)
	}

	res, err := svc.Compact("orders")
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res.EntriesDropped != 2 || res.MarkersDropped != 0 || res.EntriesKept != 2 {
		t.Fatalf("compact result: %+v", res)
	}
	if res.BytesAfter >= res.BytesBefore {
		t.Fatalf("compact bytes: %+v", res)
	}

	// The persisted base advances for the next open; the live handle keeps
	// handing out the numbering it started with.
	h, err := rt.OpenStream("orders")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if h.Meta().SeqBase != 2 || h.SeqBase() != 0 {
		t.Fatalf("seq base: meta=%d live=%d", h.Meta().SeqBase, h.SeqBase())
	}

	// Writer is reopened after the rewrite.
	if seq := mustPublish(t, svc, "orders", PublishRequest{Kind: "experience-added"}); seq != 3 {
		t.Fatalf("post-compact seq: %d", seq)
	}
}
