// Package stream layers a lossy pub/sub broadcaster and batch sampling on
// top of a hot buffer.
//
// # Overview
//
// A Stream owns no storage of its own; it routes. WriteEvent stores the
// record in the wrapped hot buffer and then offers a copy to every
// subscriber over a buffered channel:
//
//	st := stream.New(buf, stream.Options{ChannelCapacity: 256})
//	sub := st.Subscribe()
//	defer sub.Close()
//
//	go func() {
//		for rec := range sub.C() {
//			consume(rec)
//		}
//	}()
//
// Delivery is best-effort. A full subscriber channel drops the event for
// that subscriber and bumps its Dropped counter; the producer never
// waits. Subscribers that care about completeness should treat the
// subscription as a wakeup signal and read the buffer by sequence.
//
// Sample draws a read-only batch from the currently live window:
//
//	batch := st.Sample(stream.SampleOptions{
//		Size:     64,
//		Strategy: stream.SampleRewardWeighted,
//	})
//
// Four strategies are supported: uniform random, reward-weighted,
// most-recent and filtered-by-kind. Sampling never blocks writers.
package stream
