package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Kind tags the origin of an entry payload. The set is closed: readers
// reject tags they do not know.
type Kind uint8

// Entry kinds in use.
const (
	KindStateCreated    Kind = 0x01
	KindExperienceAdded Kind = 0x02
	KindEdgeUpdated     Kind = 0x03
	KindSnapshotMarker  Kind = 0x04
)

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	return k >= KindStateCreated && k <= KindSnapshotMarker
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStateCreated:
		return "state-created"
	case KindExperienceAdded:
		return "experience-added"
	case KindEdgeUpdated:
		return "edge-updated"
	case KindSnapshotMarker:
		return "snapshot-marker"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(k))
	}
}

// KindFromName maps a wire name back to a Kind.
func KindFromName(name string) (Kind, bool) {
	switch name {
	case "state-created":
		return KindStateCreated, true
	case "experience-added":
		return KindExperienceAdded, true
	case "edge-updated":
		return KindEdgeUpdated, true
	case "snapshot-marker":
		return KindSnapshotMarker, true
	default:
		return 0, false
	}
}

// Frame layout:
//
//	[0:8]   timestamp, microseconds, big-endian
//	[8]     entry kind
//	[9:13]  payload length, big-endian
//	[13:24] reserved, zero
//	[24:]   payload
//	last 4  crc32c over header and payload, big-endian
const (
	headerSize  = 24
	trailerSize = 4

	// FrameOverhead is the framed size of an entry beyond its payload.
	FrameOverhead = headerSize + trailerSize

	// MaxPayloadSize bounds a single entry payload. Lengths above this are
	// rejected on decode as corruption rather than trusted.
	MaxPayloadSize = 1 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// NowUs returns the current time in microseconds. Overridable in tests.
var NowUs = func() int64 { return time.Now().UnixMicro() }

// Entry is one framed, checksummed record in the append-only journal.
type Entry struct {
	TimestampUs int64
	Kind        Kind
	Payload     []byte
}

// NewEntry stamps a fresh entry with the current time.
func NewEntry(kind Kind, payload []byte) Entry {
	return Entry{TimestampUs: NowUs(), Kind: kind, Payload: payload}
}

// EncodedSize returns the framed size of the entry on disk.
func (e Entry) EncodedSize() int {
	return FrameOverhead + len(e.Payload)
}

// AppendEncode appends the framed entry to dst and returns the extended
// slice. Encoding is deterministic: equal entries produce equal bytes.
func AppendEncode(dst []byte, e Entry) ([]byte, error) {
	if !e.Kind.Valid() {
		return dst, fmt.Errorf("journal: encode: invalid entry kind 0x%02x", uint8(e.Kind))
	}
	if len(e.Payload) > MaxPayloadSize {
		return dst, fmt.Errorf("journal: encode: payload %d bytes exceeds limit %d", len(e.Payload), MaxPayloadSize)
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(e.TimestampUs))
	hdr[8] = byte(e.Kind)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(e.Payload)))
	// hdr[13:24] stays zero

	sum := crc32.Update(0, castagnoli, hdr[:])
	sum = crc32.Update(sum, castagnoli, e.Payload)

	dst = append(dst, hdr[:]...)
	dst = append(dst, e.Payload...)
	var crc [trailerSize]byte
	binary.BigEndian.PutUint32(crc[:], sum)
	return append(dst, crc[:]...), nil
}

// Encode returns the framed bytes for the entry.
func Encode(e Entry) ([]byte, error) {
	return AppendEncode(make([]byte, 0, e.EncodedSize()), e)
}

// Decode parses one framed entry from the start of b and returns it with
// the number of bytes consumed. The returned payload is a copy. Unknown
// kinds, impossible lengths, nonzero reserved bytes, short input, and
// checksum mismatches are all surfaced as *CorruptionError with Offset -1
// (the caller knows the file position, the codec does not).
func Decode(b []byte) (Entry, int, error) {
	if len(b) < headerSize {
		return Entry{}, 0, corrupt(-1, "short header: %d of %d bytes", len(b), headerSize)
	}
	ts := int64(binary.BigEndian.Uint64(b[0:8]))
	kind := Kind(b[8])
	plen := binary.BigEndian.Uint32(b[9:13])
	if !kind.Valid() {
		return Entry{}, 0, corrupt(-1, "unknown entry kind 0x%02x", uint8(kind))
	}
	if plen > MaxPayloadSize {
		return Entry{}, 0, corrupt(-1, "payload length %d exceeds limit %d", plen, MaxPayloadSize)
	}
	for _, rb := range b[13:headerSize] {
		if rb != 0 {
			return Entry{}, 0, corrupt(-1, "reserved header bytes not zero")
		}
	}
	total := headerSize + int(plen) + trailerSize
	if len(b) < total {
		return Entry{}, 0, corrupt(-1, "short entry: %d of %d bytes", len(b), total)
	}
	payload := b[headerSize : headerSize+int(plen)]
	want := binary.BigEndian.Uint32(b[headerSize+int(plen) : total])
	sum := crc32.Update(0, castagnoli, b[:headerSize])
	sum = crc32.Update(sum, castagnoli, payload)
	if sum != want {
		return Entry{}, 0, corrupt(-1, "checksum mismatch: computed %08x, stored %08x", sum, want)
	}
	return Entry{
		TimestampUs: ts,
		Kind:        kind,
		Payload:     append([]byte(nil), payload...),
	}, total, nil
}
