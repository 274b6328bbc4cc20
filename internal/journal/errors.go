package journal

import (
	"errors"
	"fmt"
)

// ErrWriterClosed is returned by appends and flushes after the writer has
// been closed or its worker has terminated.
var ErrWriterClosed = errors.New("journal: writer closed")

// CorruptionError reports malformed framing or a checksum mismatch. It marks
// the end of usable history: nothing at or past Offset can be trusted.
type CorruptionError struct {
	// Offset is the byte offset of the start of the bad frame within the
	// file, or -1 when the codec was handed a bare buffer.
	Offset int64
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Offset < 0 {
		return "journal: corrupt entry: " + e.Reason
	}
	return fmt.Sprintf("journal: corrupt entry at offset %d: %s", e.Offset, e.Reason)
}

// IsCorruption reports whether err is (or wraps) a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

func corrupt(offset int64, format string, args ...interface{}) *CorruptionError {
	return &CorruptionError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// atOffset rebinds a codec corruption error to a file offset.
func atOffset(err error, offset int64) error {
	var ce *CorruptionError
	if errors.As(err, &ce) && ce.Offset < 0 {
		return &CorruptionError{Offset: offset, Reason: ce.Reason}
	}
	return err
}
