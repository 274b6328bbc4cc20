package journal

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

const writerBufSize = 256 * 1024

// fileSync is swapped in tests to inject stable-storage failures.
var fileSync = func(f *os.File) error { return f.Sync() }

// Writer appends framed entries to a journal file. Appends land in a
// userspace buffer; Flush pushes them to the OS and Sync makes them
// durable. The file is owned exclusively: expect exactly one open Writer
// per path.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	buf    []byte // reused encode scratch
	size   int64  // file size including buffered bytes
	closed bool
}

// OpenWriter opens the journal at path for appending, creating it when
// absent.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}
	return &Writer{
		f:    f,
		bw:   bufio.NewWriterSize(f, writerBufSize),
		size: st.Size(),
	}, nil
}

// Append frames the entry at the end of the file and returns the framed
// byte count. It does not force the bytes to stable storage, with one
// exception: snapshot markers are the anchor recovery restarts from, so an
// appended snapshot marker is synced before Append returns.
func (w *Writer) Append(e Entry) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	var err error
	w.buf, err = AppendEncode(w.buf[:0], e)
	if err != nil {
		return 0, err
	}
	n, err := w.bw.Write(w.buf)
	if err != nil {
		return n, fmt.Errorf("journal: append: %w", err)
	}
	w.size += int64(n)
	if e.Kind == KindSnapshotMarker {
		if err := w.syncLocked(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush pushes buffered bytes to the OS without forcing them to stable
// storage.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	return nil
}

// Sync forces all previously appended bytes to stable storage. Callers
// must not report a batch as durably committed before Sync returns.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := fileSync(w.f); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

// Size returns the file size in bytes, counting buffered appends.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Close syncs outstanding bytes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.bw.Flush()
	syncErr := fileSync(w.f)
	closeErr := w.f.Close()
	if flushErr != nil {
		return fmt.Errorf("journal: close: %w", flushErr)
	}
	if syncErr != nil {
		return fmt.Errorf("journal: close: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("journal: close: %w", closeErr)
	}
	return nil
}
