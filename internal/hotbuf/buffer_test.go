package hotbuf

import (
	"errors"
	"sync"
	"testing"
)

func testRecord(step uint64) Record {
	rec := Record{
		Kind:   0x02,
		Step:   step,
		Reward: float64(step) / 10,
		TsUs:   1726833600000000 + int64(step),
	}
	for i := range rec.State {
		rec.State[i] = float32(step) + float32(i)/100
	}
	for i := range rec.Action {
		rec.Action[i] = -float32(i)
	}
	return rec
}

func TestWriteAssignsSequences(t *testing.T) {
	buf, err := New(8)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for want := uint64(0); want < 5; want++ {
		if got := buf.Write(testRecord(want)); got != want {
			t.Fatalf("write %d: seq = %d", want, got)
		}
	}
	if got := buf.TotalWritten(); got != 5 {
		t.Fatalf("total written = %d, want 5", got)
	}
	rec, ok := buf.Read(3)
	if !ok {
		t.Fatal("read(3): not live")
	}
	if rec.Seq != 3 || rec.Step != 3 {
		t.Fatalf("read(3): seq=%d step=%d", rec.Seq, rec.Step)
	}
}

func TestLivenessWindow(t *testing.T) {
	buf, err := New(4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for step := uint64(0); step < 10; step++ {
		buf.Write(testRecord(step))
	}

	if _, ok := buf.Read(0); ok {
		t.Fatal("read(0): rotated-out record reported live")
	}
	rec, ok := buf.Read(6)
	if !ok {
		t.Fatal("read(6): not live")
	}
	if rec.Step != 6 {
		t.Fatalf("read(6): step = %d, want 6", rec.Step)
	}

	got := buf.QueryRange(6, 10)
	if len(got) != 4 {
		t.Fatalf("query range: %d records, want 4", len(got))
	}
	for i, rec := range got {
		if want := uint64(6 + i); rec.Step != want || rec.Seq != want {
			t.Fatalf("query range[%d]: seq=%d step=%d, want %d", i, rec.Seq, rec.Step, want)
		}
	}

	lo, hi := buf.LiveWindow()
	if lo != 6 || hi != 10 {
		t.Fatalf("live window = [%d, %d), want [6, 10)", lo, hi)
	}
	if buf.Len() != 4 {
		t.Fatalf("len = %d, want 4", buf.Len())
	}
	if _, ok := buf.Read(10); ok {
		t.Fatal("read(10): unwritten sequence reported live")
	}
}

func TestReadReturnsCopy(t *testing.T) {
	buf, err := New(4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	seq := buf.Write(testRecord(1))

	rec, ok := buf.Read(seq)
	if !ok {
		t.Fatal("read: not live")
	}
	rec.Reward = 999
	rec.State[0] = 999

	again, _ := buf.Read(seq)
	if again.Reward == 999 || again.State[0] == 999 {
		t.Fatal("mutating a returned record changed the buffer")
	}
}

func TestQueryRangeClamps(t *testing.T) {
	buf, err := New(4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := buf.QueryRange(0, 10); got != nil {
		t.Fatalf("empty buffer: got %d records", len(got))
	}
	for step := uint64(0); step < 3; step++ {
		buf.Write(testRecord(step))
	}
	if got := buf.QueryRange(0, 100); len(got) != 3 {
		t.Fatalf("clamped end: %d records, want 3", len(got))
	}
	if got := buf.QueryRange(2, 2); got != nil {
		t.Fatalf("empty interval: got %d records", len(got))
	}
	if got := buf.QueryRange(7, 3); got != nil {
		t.Fatalf("inverted interval: got %d records", len(got))
	}
}

func TestUpdateField(t *testing.T) {
	buf, err := New(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	seq := buf.Write(testRecord(0))

	if err := buf.UpdateField(seq, FieldReward, 0.5); err != nil {
		t.Fatalf("update reward: %v", err)
	}
	if err := buf.UpdateField(seq, FieldRewardTotal, 1.25); err != nil {
		t.Fatalf("update reward total: %v", err)
	}
	rec, ok := buf.Read(seq)
	if !ok {
		t.Fatal("read after update: not live")
	}
	if rec.Reward != 0.5 || rec.RewardTotal != 1.25 {
		t.Fatalf("reward=%v rewardTotal=%v after update", rec.Reward, rec.RewardTotal)
	}

	if err := buf.UpdateField(seq+10, FieldReward, 1); !errors.Is(err, ErrNotLive) {
		t.Fatalf("future seq: err = %v, want ErrNotLive", err)
	}
	buf.Write(testRecord(1))
	buf.Write(testRecord(2))
	if err := buf.UpdateField(seq, FieldReward, 1); !errors.Is(err, ErrNotLive) {
		t.Fatalf("rotated-out seq: err = %v, want ErrNotLive", err)
	}
	if err := buf.UpdateField(1, Field(99), 1); err == nil || errors.Is(err, ErrNotLive) {
		t.Fatalf("unknown field: err = %v", err)
	}
}

func TestSnapshotOrdered(t *testing.T) {
	buf, err := New(3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for step := uint64(0); step < 7; step++ {
		buf.Write(testRecord(step))
	}
	got := buf.Snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot: %d records, want 3", len(got))
	}
	for i, rec := range got {
		if want := uint64(4 + i); rec.Seq != want {
			t.Fatalf("snapshot[%d]: seq = %d, want %d", i, rec.Seq, want)
		}
	}
}

func TestConcurrentWriters(t *testing.T) {
	const (
		writers = 8
		each    = 200
	)
	buf, err := New(64)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				buf.Write(testRecord(uint64(i)))
			}
		}()
	}
	wg.Wait()

	if got := buf.TotalWritten(); got != writers*each {
		t.Fatalf("total written = %d, want %d", got, writers*each)
	}
	lo, hi := buf.LiveWindow()
	for seq := lo; seq < hi; seq++ {
		rec, ok := buf.Read(seq)
		if !ok {
			t.Fatalf("read(%d): not live after quiescence", seq)
		}
		if rec.Seq != seq {
			t.Fatalf("read(%d): slot holds seq %d", seq, rec.Seq)
		}
	}
}

func TestNewRejectsNonPositive(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := New(capacity); err == nil {
			t.Fatalf("new(%d): no error", capacity)
		}
	}
}
