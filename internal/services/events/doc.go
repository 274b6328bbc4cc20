// Package eventsvc implements the events facade on top of the runtime's
// stream handles. It provides publish, point/range reads, replay
// sampling, reward mutation, live subscribe with CEL filtering, snapshot
// markers, flush barriers, compaction, and consumer-group cursors
// consumed by the HTTP transport.
//
// Example:
//
//	svc := eventsvc.New(rt)
//	seq, _ := svc.Publish(ctx, "trainer", eventsvc.PublishRequest{
//		Kind:   "experience-added",
//		Step:   42,
//		Reward: 1.5,
//	})
//	ev, ok, _ := svc.Get("trainer", seq)
//	batch, _ := svc.Sample("trainer", eventsvc.SampleRequest{Size: 64, Strategy: "reward_weighted"})
//	_ = svc.Subscribe(ctx, "trainer", eventsvc.SubscribeOptions{Filter: `reward > 0.0`}, mySink)
package eventsvc

// Performance notes
//
// Publish
//   - Journal fsync policy is configured at server start. For lowest latency
//     with durability tradeoffs use: --fsync never (dev only). For a balanced
//     throughput/latency profile use: --fsync interval --fsync-interval-ms 5
//     which coalesces syncs into a small 5ms window.
//   - Batch size and timeout (--batch-size / --batch-timeout-ms) trade write
//     amplification against the durability lag of the async journal writer.
//
// Subscribe
//   - ENGRAM_SUB_FLUSH_MS / --sub-flush-ms: optional flush window in ms for
//     the per-subscriber writer. Small windows (2-5ms) coalesce network
//     writes and reduce flush overhead without adding noticeable latency.
//   - ENGRAM_SUB_BUF / --sub-buf: buffered queue length per subscriber.
//     Increase for bursty producers or slow clients; fan-out never blocks
//     the publisher, so a full queue shows up as missed events instead.
//
// Observability
//   - events.publish emits per-publish latency (dur_us) and metadata.
//   - events.deliver emits per-subscription delivered/missed counts and the
//     subscription lifetime (dur_ms) when it ends.
//   - events.sample emits pool/matched/n sizes and the draw latency.
