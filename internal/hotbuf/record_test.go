package hotbuf

import (
	"reflect"
	"testing"

	"github.com/rzbill/engram/pkg/id"
)

func TestRecordRoundTrip(t *testing.T) {
	var gen id.Generator
	rec := Record{
		ID:          gen.Next(),
		Kind:        0x03,
		Step:        42,
		Reward:      -0.75,
		RewardTotal: 12.5,
		Seq:         1337,
		TsUs:        1726833600123456,
	}
	for i := range rec.State {
		rec.State[i] = float32(i) * 1.5
	}
	for i := range rec.Action {
		rec.Action[i] = -float32(i) - 0.25
	}

	b := EncodeRecord(rec)
	if len(b) != RecordSize {
		t.Fatalf("encoded %d bytes, want %d", len(b), RecordSize)
	}
	got, err := DecodeRecord(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}

func TestDecodeRecordWrongSize(t *testing.T) {
	if _, err := DecodeRecord(make([]byte, RecordSize-1)); err == nil {
		t.Fatal("short input: no error")
	}
	if _, err := DecodeRecord(make([]byte, RecordSize+1)); err == nil {
		t.Fatal("long input: no error")
	}
}

func TestFieldNames(t *testing.T) {
	for _, f := range []Field{FieldReward, FieldRewardTotal} {
		got, ok := FieldFromName(f.String())
		if !ok || got != f {
			t.Fatalf("field %v: round trip gave %v, ok=%v", f, got, ok)
		}
	}
	if _, ok := FieldFromName("step"); ok {
		t.Fatal("immutable field name accepted")
	}
}
