package hotbuf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rzbill/engram/pkg/id"
)

// Vector dimensions are fixed at definition time so that every slot has the
// same size and the backing array stays contiguous.
const (
	StateDim  = 8
	ActionDim = 4
)

// RecordSize is the encoded size of a Record in bytes.
const RecordSize = 16 + 1 + 8 + StateDim*4 + ActionDim*4 + 8 + 8 + 8 + 8

// Record is the fixed-size slot content held in the buffer. Only the reward
// fields are mutable after the record is written; everything else is set
// once by the producer (Seq by the buffer itself).
type Record struct {
	ID          id.ID
	Kind        uint8
	Step        uint64
	State       [StateDim]float32
	Action      [ActionDim]float32
	Reward      float64
	RewardTotal float64
	Seq         uint64
	TsUs        int64
}

// Field identifies a mutable scalar on a live record.
type Field uint8

// Mutable record fields.
const (
	FieldReward Field = iota + 1
	FieldRewardTotal
)

// String returns the wire name of the field.
func (f Field) String() string {
	switch f {
	case FieldReward:
		return "reward"
	case FieldRewardTotal:
		return "reward_total"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// FieldFromName maps a wire name back to a Field.
func FieldFromName(name string) (Field, bool) {
	switch name {
	case "reward":
		return FieldReward, true
	case "reward_total":
		return FieldRewardTotal, true
	default:
		return 0, false
	}
}

// AppendEncode appends the fixed big-endian encoding of r to dst. The
// layout is an explicit field-by-field contract, independent of any
// in-memory representation:
//
//	[0:16]    id
//	[16]      kind
//	[17:25]   step
//	[25:57]   state vector, float32 bits each
//	[57:73]   action vector, float32 bits each
//	[73:81]   reward, float64 bits
//	[81:89]   reward total, float64 bits
//	[89:97]   sequence
//	[97:105]  timestamp, microseconds
func AppendEncode(dst []byte, r Record) []byte {
	dst = append(dst, r.ID[:]...)
	dst = append(dst, r.Kind)
	dst = binary.BigEndian.AppendUint64(dst, r.Step)
	for _, v := range r.State {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}
	for _, v := range r.Action {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(r.Reward))
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(r.RewardTotal))
	dst = binary.BigEndian.AppendUint64(dst, r.Seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.TsUs))
	return dst
}

// EncodeRecord returns the fixed-size encoding of r.
func EncodeRecord(r Record) []byte {
	return AppendEncode(make([]byte, 0, RecordSize), r)
}

// DecodeRecord parses the fixed-size encoding produced by EncodeRecord.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if len(b) != RecordSize {
		return r, fmt.Errorf("hotbuf: record is %d bytes, want %d", len(b), RecordSize)
	}
	copy(r.ID[:], b[0:16])
	r.Kind = b[16]
	r.Step = binary.BigEndian.Uint64(b[17:25])
	off := 25
	for i := 0; i < StateDim; i++ {
		r.State[i] = math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
	}
	for i := 0; i < ActionDim; i++ {
		r.Action[i] = math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
	}
	r.Reward = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	r.RewardTotal = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	r.Seq = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	r.TsUs = int64(binary.BigEndian.Uint64(b[off : off+8]))
	return r, nil
}
