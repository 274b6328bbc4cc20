package registry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/engram/internal/storage/pebble"
)

// ErrInvalidName rejects stream and group names that are empty or would
// collide with the keyspace separator.
var ErrInvalidName = errors.New("registry: invalid name")

// Meta holds per-stream settings. Zero-valued tuning fields inherit the
// node defaults at open time. SeqBase is the number of records dropped
// from the journal head by past compactions; replayed journal positions
// plus SeqBase yield stable stream sequence numbers.
type Meta struct {
	Name           string `json:"name"`
	CreatedAtMs    int64  `json:"createdAtMs"`
	SeqBase        uint64 `json:"seqBase,omitempty"`
	BufferCapacity int    `json:"bufferCapacity,omitempty"`
	BatchSize      int    `json:"batchSize,omitempty"`
	BatchTimeoutMs int64  `json:"batchTimeoutMs,omitempty"`
	QueueCapacity  int    `json:"queueCapacity,omitempty"`

	// A compaction records its intent here before rewriting the journal:
	// the base that takes effect once the rewrite lands, plus the identity
	// of the entry the rewritten file starts with. The next open compares
	// that identity against the journal head and either adopts the pending
	// base or discards it, so a crash between the rewrite and the base
	// update cannot shift sequence numbers.
	PendingCompact       bool   `json:"pendingCompact,omitempty"`
	PendingSeqBase       uint64 `json:"pendingSeqBase,omitempty"`
	PendingAnchorTsUs    int64  `json:"pendingAnchorTsUs,omitempty"`
	PendingAnchorKind    uint8  `json:"pendingAnchorKind,omitempty"`
	PendingAnchorPayload []byte `json:"pendingAnchorPayload,omitempty"`
}

// SetCompactIntent arms the pending-compaction marker: seqBase is the base
// to adopt once the rewrite is known to have landed, and the remaining
// arguments identify the entry the rewritten journal will start with.
func (m *Meta) SetCompactIntent(seqBase uint64, tsUs int64, kind uint8, payload []byte) {
	m.PendingCompact = true
	m.PendingSeqBase = seqBase
	m.PendingAnchorTsUs = tsUs
	m.PendingAnchorKind = kind
	m.PendingAnchorPayload = append([]byte(nil), payload...)
}

// ClearCompactIntent disarms the pending-compaction marker.
func (m *Meta) ClearCompactIntent() {
	m.PendingCompact = false
	m.PendingSeqBase = 0
	m.PendingAnchorTsUs = 0
	m.PendingAnchorKind = 0
	m.PendingAnchorPayload = nil
}

// AnchorMatches reports whether an armed intent's anchor identity matches
// the given entry fields.
func (m *Meta) AnchorMatches(tsUs int64, kind uint8, payload []byte) bool {
	return m.PendingCompact &&
		m.PendingAnchorTsUs == tsUs &&
		m.PendingAnchorKind == kind &&
		bytes.Equal(m.PendingAnchorPayload, payload)
}

// Cursor is one consumer group's committed position on a stream.
type Cursor struct {
	Group         string `json:"group"`
	Seq           uint64 `json:"seq"`
	CommittedAtMs int64  `json:"committedAtMs"`
}

// ValidateName reports whether a stream or group name is usable.
func ValidateName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// EnsureStream creates a stream meta record if absent, returning the
// effective meta. Idempotent: an existing record is returned unchanged; a
// record that fails to parse is rewritten from scratch.
func EnsureStream(db *pebblestore.DB, name string) (Meta, error) {
	if err := ValidateName(name); err != nil {
		return Meta{}, err
	}
	key := keyStreamMeta(name)
	if b, ok, err := db.Get(key); err != nil {
		return Meta{}, err
	} else if ok && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// fallthrough to rewrite if corrupted
	}
	m := Meta{Name: name, CreatedAtMs: time.Now().UnixMilli()}
	bytes, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, bytes); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// GetStream loads a stream's meta record.
func GetStream(db *pebblestore.DB, name string) (Meta, bool, error) {
	b, ok, err := db.Get(keyStreamMeta(name))
	if err != nil || !ok {
		return Meta{}, false, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false, fmt.Errorf("registry: stream %q meta: %w", name, err)
	}
	return m, true, nil
}

// PutStream persists m, creating or replacing the record. The name inside
// m is authoritative.
func PutStream(db *pebblestore.DB, m Meta) error {
	if err := ValidateName(m.Name); err != nil {
		return err
	}
	if m.CreatedAtMs == 0 {
		m.CreatedAtMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return db.Set(keyStreamMeta(m.Name), b)
}

// ListStreams returns every registered stream's meta, ordered by name.
// The listing runs over a snapshot so a concurrent create cannot tear it.
func ListStreams(db *pebblestore.DB) ([]Meta, error) {
	snap := db.NewSnapshot()
	defer func() { _ = snap.Close() }()

	it, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: metaPrefix,
		UpperBound: prefixUpperBound(metaPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []Meta
	for ok := it.First(); ok; ok = it.Next() {
		var m Meta
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// CommitCursor stores the highest processed sequence for a group on a
// stream. Commits never move a cursor backwards: a sequence at or below
// the stored one is ignored, which makes re-delivery after a consumer
// crash harmless.
func CommitCursor(db *pebblestore.DB, stream, group string, seq uint64) error {
	if err := ValidateName(stream); err != nil {
		return err
	}
	if err := ValidateName(group); err != nil {
		return err
	}
	key := keyCursor(stream, group)
	if cur, ok, err := db.Get(key); err != nil {
		return err
	} else if ok && len(cur) >= 8 {
		if prev := binary.BigEndian.Uint64(cur[:8]); seq <= prev {
			return nil
		}
	}
	b := db.NewBatch()
	defer func() { _ = b.Close() }()
	if err := b.Set(key, appendBE8(nil, seq), nil); err != nil {
		return err
	}
	if err := b.Set(keyCursorTs(stream, group), appendBE8(nil, uint64(time.Now().UnixMilli())), nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// GetCursor loads the committed sequence for a group on a stream.
func GetCursor(db *pebblestore.DB, stream, group string) (uint64, bool, error) {
	cur, ok, err := db.Get(keyCursor(stream, group))
	if err != nil || !ok || len(cur) < 8 {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(cur[:8]), true, nil
}

// ListCursors returns every group cursor on a stream, ordered by group.
func ListCursors(db *pebblestore.DB, stream string) ([]Cursor, error) {
	prefix := keyCursorPrefix(stream)
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	byGroup := map[string]*Cursor{}
	var order []string
	for ok := it.First(); ok; ok = it.Next() {
		rest := it.Key()[len(prefix):]
		v := it.Value()
		if group, found := strings.CutSuffix(string(rest), string(tsSuffix)); found {
			c := ensureCursor(byGroup, &order, group)
			if len(v) >= 8 {
				c.CommittedAtMs = int64(binary.BigEndian.Uint64(v[:8]))
			}
			continue
		}
		c := ensureCursor(byGroup, &order, string(rest))
		if len(v) >= 8 {
			c.Seq = binary.BigEndian.Uint64(v[:8])
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	out := make([]Cursor, 0, len(order))
	for _, g := range order {
		out = append(out, *byGroup[g])
	}
	return out, nil
}

func ensureCursor(m map[string]*Cursor, order *[]string, group string) *Cursor {
	if c, ok := m[group]; ok {
		return c
	}
	c := &Cursor{Group: group}
	m[group] = c
	*order = append(*order, group)
	return c
}
