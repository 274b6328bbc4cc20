// Package hotbuf implements the fixed-capacity in-memory ring that holds
// the most recent experience records for low-latency reads.
//
// # Overview
//
// The buffer trades retention for speed: writes always succeed in O(1),
// and once more than capacity records have been written every new write
// silently evicts the oldest. Durability is somebody else's job (the
// journal); the ring only answers "what happened recently".
//
// Every write is assigned a monotonically increasing sequence number:
//
//	buf, _ := hotbuf.New(4096)
//	seq := buf.Write(hotbuf.Record{Kind: 0x02, Step: 7})
//
// Reads address records by that sequence and report a miss once the
// record has rotated out:
//
//	if rec, ok := buf.Read(seq); ok {
//		fmt.Println(rec.Step)
//	}
//
// Records are plain values; Read, QueryRange and Snapshot all return
// copies, so callers can hold results as long as they like without
// pinning the ring.
//
// The two reward fields can be amended in place while a record is live,
// which is how later credit assignment reaches back to recent experience:
//
//	err := buf.UpdateField(seq, hotbuf.FieldReward, 0.5)
//	if errors.Is(err, hotbuf.ErrNotLive) {
//		// rotated out; the journal still has it
//	}
//
// Sequence assignment uses a single atomic counter and each slot carries
// its own mutex, so concurrent producers contend only when they hash to
// the same slot.
package hotbuf
