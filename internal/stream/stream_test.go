package stream

import (
	"testing"
	"time"

	"github.com/rzbill/engram/internal/hotbuf"
)

func newTestStream(t *testing.T, capacity, chanCap int) *Stream {
	t.Helper()
	buf, err := hotbuf.New(capacity)
	if err != nil {
		t.Fatalf("hotbuf: %v", err)
	}
	return New(buf, Options{ChannelCapacity: chanCap})
}

func streamRecord(step uint64) hotbuf.Record {
	return hotbuf.Record{
		Kind:        0x02,
		Step:        step,
		RewardTotal: float64(step),
		TsUs:        1726833600000000 + int64(step),
	}
}

func TestWriteEventDelivers(t *testing.T) {
	st := newTestStream(t, 16, 4)
	sub := st.Subscribe()
	defer sub.Close()

	seq := st.WriteEvent(streamRecord(7))
	select {
	case rec, ok := <-sub.C():
		if !ok {
			t.Fatal("channel closed")
		}
		if rec.Seq != seq || rec.Step != 7 {
			t.Fatalf("got seq=%d step=%d, want seq=%d step=7", rec.Seq, rec.Step, seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestSubscriberSeesOnlyLaterEvents(t *testing.T) {
	st := newTestStream(t, 16, 8)
	st.WriteEvent(streamRecord(0))
	st.WriteEvent(streamRecord(1))

	sub := st.Subscribe()
	defer sub.Close()
	seq := st.WriteEvent(streamRecord(2))

	select {
	case rec := <-sub.C():
		if rec.Seq != seq {
			t.Fatalf("first delivery seq = %d, want %d", rec.Seq, seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
	select {
	case rec := <-sub.C():
		t.Fatalf("unexpected extra delivery seq %d", rec.Seq)
	default:
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	st := newTestStream(t, 64, 2)
	sub := st.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for step := uint64(0); step < 10; step++ {
			st.WriteEvent(streamRecord(step))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on slow subscriber")
	}

	if got := sub.Dropped(); got != 8 {
		t.Fatalf("subscriber dropped = %d, want 8", got)
	}
	if got := st.Dropped(); got != 8 {
		t.Fatalf("stream dropped = %d, want 8", got)
	}
	// The buffer kept everything the channel lost.
	if got := st.Buffer().TotalWritten(); got != 10 {
		t.Fatalf("buffer writes = %d, want 10", got)
	}
	rec := <-sub.C()
	if rec.Seq != 0 {
		t.Fatalf("first buffered delivery seq = %d, want 0", rec.Seq)
	}
}

func TestIndependentSubscribers(t *testing.T) {
	st := newTestStream(t, 16, 1)
	fast := st.Subscribe()
	defer fast.Close()
	slow := st.Subscribe()
	defer slow.Close()

	st.WriteEvent(streamRecord(0))
	<-fast.C()
	st.WriteEvent(streamRecord(1))
	<-fast.C()

	// slow never received; its channel held one event and dropped one.
	if got := slow.Dropped(); got != 1 {
		t.Fatalf("slow dropped = %d, want 1", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Fatalf("fast dropped = %d, want 0", got)
	}
	if got := st.Subscribers(); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	st := newTestStream(t, 16, 4)
	sub := st.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if got := st.Subscribers(); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel still open after close")
	}
	// Publishing after close must not panic.
	st.WriteEvent(streamRecord(0))
}

func TestStreamCloseTerminatesSubscribers(t *testing.T) {
	st := newTestStream(t, 16, 4)
	a := st.Subscribe()
	b := st.Subscribe()

	st.Close()
	st.Close() // idempotent

	for _, sub := range []*Subscription{a, b} {
		select {
		case _, ok := <-sub.C():
			if ok {
				t.Fatal("received event after stream close")
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed")
		}
	}
	if got := st.Subscribers(); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}

	// Subscribing after close yields an immediately closed handle.
	late := st.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Fatal("late subscription received an event")
	}
	// Writes still land in the buffer.
	st.WriteEvent(streamRecord(5))
	if got := st.Buffer().TotalWritten(); got != 1 {
		t.Fatalf("buffer writes = %d, want 1", got)
	}
}
