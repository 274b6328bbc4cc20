package registry

import (
	"errors"
	"testing"

	pebblestore "github.com/rzbill/engram/internal/storage/pebble"
)

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureStreamIdempotent(t *testing.T) {
	db := newTestDB(t)

	m1, err := EnsureStream(db, "experience")
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	m2, err := EnsureStream(db, "experience")
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m1.Name != m2.Name || m1.CreatedAtMs != m2.CreatedAtMs {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
}

func TestEnsureStreamRewritesCorruptMeta(t *testing.T) {
	db := newTestDB(t)
	if err := db.Set(keyStreamMeta("broken"), []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m, err := EnsureStream(db, "broken")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if m.Name != "broken" || m.CreatedAtMs == 0 {
		t.Fatalf("rewritten meta = %+v", m)
	}
	if _, ok, err := GetStream(db, "broken"); err != nil || !ok {
		t.Fatalf("get after rewrite: ok=%v err=%v", ok, err)
	}
}

func TestPutStreamOverrides(t *testing.T) {
	db := newTestDB(t)
	if _, err := EnsureStream(db, "experience"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	m, _, err := GetStream(db, "experience")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	m.BufferCapacity = 8192
	m.BatchSize = 500
	if err := PutStream(db, m); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := GetStream(db, "experience")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.BufferCapacity != 8192 || got.BatchSize != 500 {
		t.Fatalf("overrides lost: %+v", got)
	}
	if got.CreatedAtMs != m.CreatedAtMs {
		t.Fatalf("createdAt changed on update: %d vs %d", got.CreatedAtMs, m.CreatedAtMs)
	}
}

func TestMetaCompactIntentRoundTrip(t *testing.T) {
	db := newTestDB(t)
	if _, err := EnsureStream(db, "episodes"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	m, _, err := GetStream(db, "episodes")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	m.SetCompactIntent(7, 1234, 2, []byte("anchor"))
	if err := PutStream(db, m); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := GetStream(db, "episodes")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.PendingCompact || got.PendingSeqBase != 7 {
		t.Fatalf("intent lost: %+v", got)
	}
	if got.PendingAnchorTsUs != 1234 || got.PendingAnchorKind != 2 || string(got.PendingAnchorPayload) != "anchor" {
		t.Fatalf("anchor lost: %+v", got)
	}
	if !got.AnchorMatches(1234, 2, []byte("anchor")) {
		t.Fatal("anchor does not match its own identity")
	}
	if got.AnchorMatches(1235, 2, []byte("anchor")) ||
		got.AnchorMatches(1234, 3, []byte("anchor")) ||
		got.AnchorMatches(1234, 2, []byte("other")) {
		t.Fatal("anchor matched a different identity")
	}

	got.ClearCompactIntent()
	if got.PendingCompact || got.PendingSeqBase != 0 || got.PendingAnchorPayload != nil {
		t.Fatalf("intent not cleared: %+v", got)
	}
	if got.AnchorMatches(1234, 2, []byte("anchor")) {
		t.Fatal("disarmed intent still matches")
	}
}

func TestListStreamsOrdered(t *testing.T) {
	db := newTestDB(t)
	for _, name := range []string{"gamma", "alpha", "beta"} {
		if _, err := EnsureStream(db, name); err != nil {
			t.Fatalf("ensure %s: %v", name, err)
		}
	}
	got, err := ListStreams(db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("list: %d streams, want 3", len(got))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if got[i].Name != want {
			t.Fatalf("list[%d] = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "a/b", "cursor/x"} {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: err = %v", name, err)
		}
	}
	if err := ValidateName("experience-v2"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}

func TestCommitCursorNeverRegresses(t *testing.T) {
	db := newTestDB(t)

	if _, ok, err := GetCursor(db, "s", "trainer"); err != nil || ok {
		t.Fatalf("missing cursor: ok=%v err=%v", ok, err)
	}
	if err := CommitCursor(db, "s", "trainer", 10); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := CommitCursor(db, "s", "trainer", 7); err != nil {
		t.Fatalf("stale commit: %v", err)
	}
	seq, ok, err := GetCursor(db, "s", "trainer")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if seq != 10 {
		t.Fatalf("cursor = %d after stale commit, want 10", seq)
	}
	if err := CommitCursor(db, "s", "trainer", 25); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if seq, _, _ := GetCursor(db, "s", "trainer"); seq != 25 {
		t.Fatalf("cursor = %d, want 25", seq)
	}
}

func TestCursorsIndependentPerGroupAndStream(t *testing.T) {
	db := newTestDB(t)
	if err := CommitCursor(db, "s1", "a", 5); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := CommitCursor(db, "s1", "b", 9); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := CommitCursor(db, "s2", "a", 2); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if seq, _, _ := GetCursor(db, "s1", "a"); seq != 5 {
		t.Fatalf("s1/a = %d, want 5", seq)
	}
	if seq, _, _ := GetCursor(db, "s1", "b"); seq != 9 {
		t.Fatalf("s1/b = %d, want 9", seq)
	}
	if seq, _, _ := GetCursor(db, "s2", "a"); seq != 2 {
		t.Fatalf("s2/a = %d, want 2", seq)
	}

	cursors, err := ListCursors(db, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cursors) != 2 {
		t.Fatalf("list: %d cursors, want 2", len(cursors))
	}
	if cursors[0].Group != "a" || cursors[0].Seq != 5 || cursors[0].CommittedAtMs == 0 {
		t.Fatalf("cursor[0] = %+v", cursors[0])
	}
	if cursors[1].Group != "b" || cursors[1].Seq != 9 {
		t.Fatalf("cursor[1] = %+v", cursors[1])
	}
}

func TestCommitCursorRejectsBadNames(t *testing.T) {
	db := newTestDB(t)
	if err := CommitCursor(db, "ok", "a/b", 1); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("bad group: err = %v", err)
	}
	if err := CommitCursor(db, "", "g", 1); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("bad stream: err = %v", err)
	}
}
