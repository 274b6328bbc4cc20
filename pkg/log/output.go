package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes formatted entries to a terminal stream, errors and
// above to stderr and everything else to stdout.
type ConsoleOutput struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// NewConsoleOutput returns a ConsoleOutput bound to os.Stdout/os.Stderr.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{stdout: os.Stdout, stderr: os.Stderr}
}

// Write appends the formatted entry plus a newline to the stream.
func (o *ConsoleOutput) Write(entry *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.stdout
	if w == nil {
		w = os.Stdout
	}
	if entry.Level >= ErrorLevel {
		if o.stderr != nil {
			w = o.stderr
		} else {
			w = os.Stderr
		}
	}
	if _, err := w.Write(formattedEntry); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

// Close is a no-op for console streams.
func (o *ConsoleOutput) Close() error { return nil }

// WriterOutput writes formatted entries to an arbitrary io.Writer.
// Used by tests to capture log lines.
type WriterOutput struct {
	mu sync.Mutex
	W  io.Writer
}

// Write appends the formatted entry plus a newline to the writer.
func (o *WriterOutput) Write(_ *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.W.Write(formattedEntry); err != nil {
		return err
	}
	_, err := o.W.Write([]byte{'\n'})
	return err
}

// Close is a no-op.
func (o *WriterOutput) Close() error { return nil }

// NullOutput discards everything.
type NullOutput struct{}

// Write discards the entry.
func (NullOutput) Write(*Entry, []byte) error { return nil }

// Close is a no-op.
func (NullOutput) Close() error { return nil }
