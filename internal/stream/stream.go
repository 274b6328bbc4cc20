package stream

import (
	"sync"
	"sync/atomic"

	"github.com/rzbill/engram/internal/hotbuf"
)

// DefaultChannelCapacity is the per-subscriber channel depth used when
// Options does not override it.
const DefaultChannelCapacity = 1024

// Options tunes a Stream at construction time.
type Options struct {
	// ChannelCapacity is the buffered depth of each subscriber channel.
	// A subscriber that falls more than this many events behind starts
	// losing events.
	ChannelCapacity int
}

func (o Options) withDefaults() Options {
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = DefaultChannelCapacity
	}
	return o
}

// Stream wraps a hot buffer with a fan-out broadcaster. Every write lands
// in the buffer first and is then offered to each live subscriber.
// Delivery is lossy on purpose: a send that would block is dropped and
// counted instead, so a stalled subscriber can never slow a producer or
// its sibling subscribers. The buffer itself stays lossless until
// overwritten, so a subscriber that missed an event can still fetch it by
// sequence while it remains live.
type Stream struct {
	buf  *hotbuf.Buffer
	opts Options

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

// New wraps buf in a broadcaster.
func New(buf *hotbuf.Buffer, opts Options) *Stream {
	return &Stream{
		buf:  buf,
		opts: opts.withDefaults(),
		subs: make(map[uint64]*Subscription),
	}
}

// Buffer returns the underlying hot buffer.
func (s *Stream) Buffer() *hotbuf.Buffer { return s.buf }

// WriteEvent stores rec in the hot buffer and offers a copy, carrying the
// assigned sequence, to every live subscriber. It never blocks on
// subscribers.
func (s *Stream) WriteEvent(rec hotbuf.Record) uint64 {
	seq := s.buf.Write(rec)
	rec.Seq = seq

	s.mu.RLock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- rec:
		default:
			sub.dropped.Add(1)
			s.dropped.Add(1)
		}
	}
	s.mu.RUnlock()
	return seq
}

// Subscribe registers a new independent receive handle. The subscriber
// sees only events written after this call returns. If the stream is
// already closed the returned subscription's channel is closed too.
func (s *Stream) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription{
		stream: s,
		ch:     make(chan hotbuf.Record, s.opts.ChannelCapacity),
	}
	if s.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	sub.id = s.nextID
	s.nextID++
	s.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns the total count of events dropped across all
// subscribers since the stream was created.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Close terminates every live subscription. Writers may keep calling
// WriteEvent afterwards; events go to the buffer only. Close is meant for
// shutdown, after producers have been told to stop.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	victims := make([]*Subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		delete(s.subs, id)
		if !sub.closed {
			sub.closed = true
			victims = append(victims, sub)
		}
	}
	s.mu.Unlock()

	// No publisher can be mid-send here: removal happened under the
	// write lock, which excludes WriteEvent's read lock.
	for _, sub := range victims {
		close(sub.ch)
	}
}

// Subscription is one receive handle on a Stream. Receive from C until it
// is closed; call Close when done to release the slot.
type Subscription struct {
	stream  *Stream
	id      uint64
	ch      chan hotbuf.Record
	dropped atomic.Uint64
	closed  bool // guarded by stream.mu
}

// C returns the receive channel. It is closed when the subscription or
// its stream is closed.
func (sub *Subscription) C() <-chan hotbuf.Record { return sub.ch }

// Dropped returns how many events this subscriber has missed because its
// channel was full at delivery time.
func (sub *Subscription) Dropped() uint64 { return sub.dropped.Load() }

// Close unregisters the subscription and closes its channel. Safe to call
// more than once and safe against concurrent WriteEvent calls.
func (sub *Subscription) Close() {
	s := sub.stream
	s.mu.Lock()
	if sub.closed {
		s.mu.Unlock()
		return
	}
	sub.closed = true
	delete(s.subs, sub.id)
	s.mu.Unlock()
	close(sub.ch)
}
