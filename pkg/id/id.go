package id

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable identifier encoded as 16 bytes
// big-endian: [8 bytes us_timestamp][8 bytes sequence].
type ID [16]byte

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns a hex string.
func (i ID) String() string { return fmtHex(i[:]) }

// TimestampUs returns the microsecond timestamp half of the ID.
func (i ID) TimestampUs() int64 {
	return int64(binary.BigEndian.Uint64(i[0:8]))
}

// Seq returns the sequence half of the ID.
func (i ID) Seq() uint64 {
	return binary.BigEndian.Uint64(i[8:16])
}

// IsZero reports whether the ID is all zero bytes.
func (i ID) IsZero() bool {
	return i == ID{}
}

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// FromBytes reads an ID back from its 16-byte representation.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != 16 {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu       sync.Mutex
	lastUs   int64
	sequence uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowUs returns current time in microseconds since Unix epoch.
var NowUs = func() int64 { return time.Now().UnixMicro() }

// Next returns a new ID. If the clock goes backwards, it pins to lastUs and
// increments the sequence. If the sequence overflows within the same
// microsecond, it waits for the next microsecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	us := NowUs()
	if us < g.lastUs {
		us = g.lastUs
	}

	if us == g.lastUs {
		if g.sequence == math.MaxUint64 {
			// wait until the next microsecond to avoid overflow
			for {
				us = NowUs()
				if us > g.lastUs {
					break
				}
				time.Sleep(time.Microsecond)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastUs = us
	return makeID(us, g.sequence)
}

func makeID(us int64, seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(us))
	binary.BigEndian.PutUint64(id[8:16], seq)
	return id
}

// fmtHex is a small, allocation-lean hex encoder for fixed-size IDs.
func fmtHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
