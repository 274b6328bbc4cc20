package registry

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - streammeta/{stream}
// - cursor/{stream}/{group}
// - cursor/{stream}/{group}/ts
var (
	sep          = byte('/')
	metaPrefix   = []byte("streammeta/")
	cursorPrefix = []byte("cursor/")
	tsSuffix     = []byte("/ts")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyStreamMeta builds the metadata key for a stream.
func keyStreamMeta(stream string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(stream))
	k = append(k, metaPrefix...)
	k = append(k, stream...)
	return k
}

// keyCursor builds the durable cursor key for a stream and group.
func keyCursor(stream, group string) []byte {
	k := make([]byte, 0, len(cursorPrefix)+len(stream)+len(group)+8)
	k = append(k, cursorPrefix...)
	k = append(k, stream...)
	k = append(k, sep)
	k = append(k, group...)
	return k
}

// keyCursorTs builds the key colocated with a cursor that stores the last
// commit time in ms.
func keyCursorTs(stream, group string) []byte {
	return append(keyCursor(stream, group), tsSuffix...)
}

// keyCursorPrefix returns the range prefix covering every cursor of a
// stream.
func keyCursorPrefix(stream string) []byte {
	k := make([]byte, 0, len(cursorPrefix)+len(stream)+1)
	k = append(k, cursorPrefix...)
	k = append(k, stream...)
	k = append(k, sep)
	return k
}

// prefixUpperBound returns the exclusive upper bound for scanning keys
// that start with prefix.
func prefixUpperBound(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xFF)
}
