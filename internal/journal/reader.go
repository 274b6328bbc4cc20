package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Reader walks a journal file front to back, verifying each frame.
// Readers are only safe while no writer holds the file (startup recovery,
// inspection after a clean close).
type Reader struct {
	f      *os.File
	br     *bufio.Reader
	offset int64 // start of the next frame
	hdr    [headerSize]byte
	body   []byte // reused payload+trailer scratch
}

// OpenReader opens the journal at path for sequential reads.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Reader{f: f, br: bufio.NewReaderSize(f, writerBufSize)}, nil
}

// Offset returns the byte offset of the next frame to be read.
func (r *Reader) Offset() int64 { return r.offset }

// Next reads and verifies the next entry. It returns io.EOF at a clean end
// of file; a truncated or garbled frame returns *CorruptionError carrying
// the offset of the bad frame. After a corruption error the reader is
// positioned nowhere useful and should be closed.
func (r *Reader) Next() (Entry, error) {
	start := r.offset
	if _, err := io.ReadFull(r.br, r.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, corrupt(start, "short header")
		}
		return Entry{}, fmt.Errorf("journal: read header: %w", err)
	}

	ts := int64(binary.BigEndian.Uint64(r.hdr[0:8]))
	kind := Kind(r.hdr[8])
	if !kind.Valid() {
		return Entry{}, corrupt(start, "unknown entry kind 0x%02x", r.hdr[8])
	}
	plen := int(binary.BigEndian.Uint32(r.hdr[9:13]))
	if plen > MaxPayloadSize {
		return Entry{}, corrupt(start, "payload length %d exceeds limit %d", plen, MaxPayloadSize)
	}
	for _, rb := range r.hdr[13:headerSize] {
		if rb != 0 {
			return Entry{}, corrupt(start, "reserved header bytes not zero")
		}
	}

	need := plen + trailerSize
	if cap(r.body) < need {
		r.body = make([]byte, need)
	}
	body := r.body[:need]
	if _, err := io.ReadFull(r.br, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, corrupt(start, "short entry: payload length %d", plen)
		}
		return Entry{}, fmt.Errorf("journal: read body: %w", err)
	}

	sum := crc32.Update(0, castagnoli, r.hdr[:])
	sum = crc32.Update(sum, castagnoli, body[:plen])
	want := binary.BigEndian.Uint32(body[plen:])
	if sum != want {
		return Entry{}, corrupt(start, "checksum mismatch: computed %08x, stored %08x", sum, want)
	}

	r.offset = start + int64(headerSize+need)
	return Entry{
		TimestampUs: ts,
		Kind:        kind,
		Payload:     append([]byte(nil), body[:plen]...),
	}, nil
}

// Reset rewinds the reader to the start of the file.
func (r *Reader) Reset() error {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("journal: seek: %w", err)
	}
	r.br.Reset(r.f)
	r.offset = 0
	return nil
}

// Replay rewinds to the start and feeds every valid entry to visit in
// order, returning the count visited. It stops at the first corrupt entry
// and surfaces that error; skipping ahead after a bad length would risk
// treating garbage as frames. A visit error aborts the walk.
func (r *Reader) Replay(visit func(Entry) error) (int, error) {
	if err := r.Reset(); err != nil {
		return 0, err
	}
	count := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if visit != nil {
			if err := visit(e); err != nil {
				return count, err
			}
		}
		count++
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Replay opens path read-only, replays every valid entry through visit, and
// closes the file. See Reader.Replay for the stop-on-corruption contract.
func Replay(path string, visit func(Entry) error) (int, error) {
	r, err := OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.Replay(visit)
}
