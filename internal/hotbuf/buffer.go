package hotbuf

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotLive reports that a sequence is outside the live window, either
// because it was never written or because newer writes rotated it out.
// Callers are expected to treat it as a normal outcome, not a failure.
var ErrNotLive = errors.New("hotbuf: record not in live window")

type slot struct {
	mu  sync.Mutex
	rec Record
	set bool
}

// Buffer is a fixed-capacity ring over Record slots. Writes never block
// and never fail: each write claims the next sequence number and lands in
// slot seq % capacity, overwriting whatever lived there before. A record
// with sequence s is live while
//
//	total - capacity <= s < total
//
// where total is the count of writes so far. Reads return copies and
// re-validate liveness against the slot's own sequence, so a reader racing
// a rotation sees either the record it asked for or a miss, never a blend.
type Buffer struct {
	capacity uint64
	total    atomic.Uint64
	slots    []slot
}

// New returns a ring with room for capacity live records.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("hotbuf: capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		capacity: uint64(capacity),
		slots:    make([]slot, capacity),
	}, nil
}

// Write stores rec and returns its assigned sequence number. The passed
// record's Seq is overwritten with the assignment. If a slower writer
// arrives at a slot after a faster one already claimed a later rotation of
// it, the stale record is discarded; its sequence is already outside the
// live window at that point.
func (b *Buffer) Write(rec Record) uint64 {
	seq := b.total.Add(1) - 1
	rec.Seq = seq
	s := &b.slots[seq%b.capacity]
	s.mu.Lock()
	if !s.set || seq > s.rec.Seq {
		s.rec = rec
		s.set = true
	}
	s.mu.Unlock()
	return seq
}

// Read returns a copy of the record at seq if it is still live.
func (b *Buffer) Read(seq uint64) (Record, bool) {
	if !b.live(seq, b.total.Load()) {
		return Record{}, false
	}
	s := &b.slots[seq%b.capacity]
	s.mu.Lock()
	rec := s.rec
	ok := s.set && rec.Seq == seq
	s.mu.Unlock()
	if !ok {
		return Record{}, false
	}
	return rec, true
}

// QueryRange returns copies of the live records with sequence in
// [start, end), in sequence order. Bounds are clamped to the live window;
// records rotated out mid-scan are skipped.
func (b *Buffer) QueryRange(start, end uint64) []Record {
	total := b.total.Load()
	if end > total {
		end = total
	}
	if lo := b.lowWater(total); start < lo {
		start = lo
	}
	if start >= end {
		return nil
	}
	out := make([]Record, 0, end-start)
	for seq := start; seq < end; seq++ {
		if rec, ok := b.Read(seq); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot returns copies of every currently live record in sequence order.
func (b *Buffer) Snapshot() []Record {
	total := b.total.Load()
	return b.QueryRange(b.lowWater(total), total)
}

// UpdateField sets a mutable field on the record at seq. The liveness
// check is repeated under the slot lock so an update racing a rotation
// can never land on the record that replaced its target.
func (b *Buffer) UpdateField(seq uint64, field Field, value float64) error {
	if field != FieldReward && field != FieldRewardTotal {
		return fmt.Errorf("hotbuf: unknown field %d", field)
	}
	if !b.live(seq, b.total.Load()) {
		return ErrNotLive
	}
	s := &b.slots[seq%b.capacity]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.rec.Seq != seq {
		return ErrNotLive
	}
	switch field {
	case FieldReward:
		s.rec.Reward = value
	case FieldRewardTotal:
		s.rec.RewardTotal = value
	}
	return nil
}

// Capacity returns the number of slots in the ring.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// TotalWritten returns the count of writes accepted so far, which is also
// the next sequence number to be assigned.
func (b *Buffer) TotalWritten() uint64 { return b.total.Load() }

// Len returns the number of records currently live.
func (b *Buffer) Len() int {
	total := b.total.Load()
	if total > b.capacity {
		return int(b.capacity)
	}
	return int(total)
}

// LiveWindow returns the half-open sequence interval [lo, hi) that is
// currently readable. The window is advisory: it can advance between the
// call and any subsequent read.
func (b *Buffer) LiveWindow() (lo, hi uint64) {
	total := b.total.Load()
	return b.lowWater(total), total
}

func (b *Buffer) live(seq, total uint64) bool {
	return seq < total && total-seq <= b.capacity
}

func (b *Buffer) lowWater(total uint64) uint64 {
	if total > b.capacity {
		return total - b.capacity
	}
	return 0
}
