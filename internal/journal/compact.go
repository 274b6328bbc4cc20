package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CompactResult summarizes a compaction pass. MarkersDropped counts how
// many of the dropped entries were snapshot markers; callers tracking
// record positions across compactions subtract it from EntriesDropped.
type CompactResult struct {
	EntriesKept    int
	EntriesDropped int
	MarkersDropped int
	BytesBefore    int64
	BytesAfter     int64
}

// LastSnapshotOffset scans the journal and returns the byte offset of the
// start of the last snapshot-marker entry. ok is false when the file holds
// no marker.
func LastSnapshotOffset(path string) (offset int64, ok bool, err error) {
	r, err := OpenReader(path)
	if err != nil {
		return 0, false, err
	}
	defer r.Close()
	for {
		start := r.Offset()
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return offset, ok, nil
		}
		if err != nil {
			return 0, false, err
		}
		if e.Kind == KindSnapshotMarker {
			offset, ok = start, true
		}
	}
}

// CompactPlan is the scan phase of a compaction: where the keep-suffix
// starts and what executing it would drop. A plan goes stale the moment
// the journal is appended to; plan and execute only while no writer holds
// the file.
type CompactPlan struct {
	path string
	size int64

	EntriesTotal   int
	EntriesDropped int
	MarkersDropped int
	// Anchor is the entry the rewritten journal will start with: the last
	// snapshot marker. Callers persist its identity before executing, so a
	// later open can tell whether the rewrite landed.
	Anchor Entry

	markerOffset int64
	markerFound  bool
}

// PlanCompact scans the journal at path and reports what a compaction
// would do. A corrupt entry anywhere aborts with that error (run Repair
// first).
func PlanCompact(path string) (*CompactPlan, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	p := &CompactPlan{path: path}
	var (
		total   int
		markers int
	)
	for {
		start := r.Offset()
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.Close()
			return nil, err
		}
		if e.Kind == KindSnapshotMarker {
			p.markerOffset, p.markerFound = start, true
			p.EntriesDropped, p.MarkersDropped = total, markers
			p.Anchor = e
			markers++
		}
		total++
	}
	p.size = r.Offset()
	r.Close()
	p.EntriesTotal = total
	return p, nil
}

// Rewrites reports whether executing the plan would rewrite the file.
// False means there is no marker, or the marker already sits at offset
// zero and nothing precedes it.
func (p *CompactPlan) Rewrites() bool { return p.markerFound && p.markerOffset > 0 }

// Result returns the CompactResult executing the plan produces.
func (p *CompactPlan) Result() CompactResult {
	res := CompactResult{
		EntriesKept: p.EntriesTotal,
		BytesBefore: p.size,
		BytesAfter:  p.size,
	}
	if !p.Rewrites() {
		return res
	}
	res.EntriesKept = p.EntriesTotal - p.EntriesDropped
	res.EntriesDropped = p.EntriesDropped
	res.MarkersDropped = p.MarkersDropped
	res.BytesAfter = p.size - p.markerOffset
	return res
}

// Execute rewrites the journal keeping only the suffix that starts at the
// plan's anchor. The rewrite goes through a temp file in the same
// directory, synced, then renamed over the original. A plan that rewrites
// nothing leaves the file untouched.
func (p *CompactPlan) Execute() (CompactResult, error) {
	untouched := CompactResult{
		EntriesKept: p.EntriesTotal,
		BytesBefore: p.size,
		BytesAfter:  p.size,
	}
	if !p.Rewrites() {
		return untouched, nil
	}

	src, err := os.Open(p.path)
	if err != nil {
		return untouched, fmt.Errorf("journal: compact: %w", err)
	}
	defer src.Close()
	if _, err := src.Seek(p.markerOffset, io.SeekStart); err != nil {
		return untouched, fmt.Errorf("journal: compact: seek: %w", err)
	}

	tmpPath := p.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return untouched, fmt.Errorf("journal: compact: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return untouched, fmt.Errorf("journal: compact: copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return untouched, fmt.Errorf("journal: compact: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return untouched, fmt.Errorf("journal: compact: close: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return untouched, fmt.Errorf("journal: compact: rename: %w", err)
	}
	if err := syncDir(filepath.Dir(p.path)); err != nil {
		return p.Result(), err
	}
	return p.Result(), nil
}

// Compact rewrites the journal keeping only the suffix that starts at the
// last snapshot marker, the point replay can safely restart from. Entries
// before it are dropped. Without a marker the file is left untouched.
// Compact is only safe while no writer holds the file; a corrupt entry
// anywhere aborts with that error (run Repair first).
func Compact(path string) (CompactResult, error) {
	p, err := PlanCompact(path)
	if err != nil {
		return CompactResult{}, err
	}
	return p.Execute()
}

// Repair truncates the journal after its last fully valid entry, discarding
// a corrupt or torn tail left by a crash mid-write. It returns the number
// of valid entries and the resulting file size. A clean file is left as is.
func Repair(path string) (int, int64, error) {
	r, err := OpenReader(path)
	if err != nil {
		return 0, 0, err
	}
	count := 0
	var bad error
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			bad = err
			break
		}
		count++
	}
	goodOffset := r.Offset()
	r.Close()

	if bad == nil {
		return count, goodOffset, nil
	}
	if !IsCorruption(bad) {
		return count, goodOffset, bad
	}
	if err := os.Truncate(path, goodOffset); err != nil {
		return count, goodOffset, fmt.Errorf("journal: repair: truncate: %w", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return count, goodOffset, err
	}
	return count, goodOffset, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("journal: sync dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("journal: sync dir: %w", err)
	}
	return nil
}
