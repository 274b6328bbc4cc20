package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Config tunes the batched writer.
type Config struct {
	// BatchSize is the maximum number of entries per flush.
	BatchSize int
	// BatchTimeout bounds how long a partial batch may wait before it is
	// flushed. This is the durability window under low load.
	BatchTimeout time.Duration
	// QueueCapacity bounds the producer queue. A full queue blocks
	// producers; it never drops.
	QueueCapacity int
	// ForceFlush syncs every flushed batch to stable storage. When false
	// a flush only pushes bytes to the OS.
	ForceFlush bool
}

// DefaultConfig returns the standard batching parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		BatchTimeout:  10 * time.Millisecond,
		QueueCapacity: 10000,
		ForceFlush:    true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	return c
}

// Stats are the cumulative counters of a BatchWriter. Counters advance at
// flush time, so an entry is counted written only once its batch reached
// the OS (and stable storage when ForceFlush is set). Every entry accepted
// by Append ends up in exactly one of EntriesWritten or EntriesDropped.
type Stats struct {
	EntriesWritten uint64
	BytesWritten   uint64
	BatchesFlushed uint64
	EntriesDropped uint64
}

type item struct {
	entry   Entry
	barrier chan error // non-nil marks a flush barrier
}

// BatchWriter decouples producer latency from disk latency. Producers
// enqueue entries onto a bounded queue; a single worker goroutine owns the
// underlying Writer exclusively, accumulates entries into batches, and
// flushes once per batch. Any I/O error is fatal: the writer is poisoned,
// everything still queued is counted dropped, and every pending and future
// call errors.
type BatchWriter struct {
	cfg   Config
	w     *Writer
	queue chan item

	closing   chan struct{} // intake closed
	done      chan struct{} // writer terminated
	closeOnce sync.Once
	closeErr  error // final Writer.Close result, set before done closes

	mu      sync.RWMutex
	sealed  bool // no further senders admitted
	failure error
	senders sync.WaitGroup // admitted senders not yet settled

	entriesWritten atomic.Uint64
	bytesWritten   atomic.Uint64
	batchesFlushed atomic.Uint64
	entriesDropped atomic.Uint64
}

// OpenBatchWriter opens the journal at path and starts the worker.
func OpenBatchWriter(path string, cfg Config) (*BatchWriter, error) {
	w, err := OpenWriter(path)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	bw := &BatchWriter{
		cfg:     cfg,
		w:       w,
		queue:   make(chan item, cfg.QueueCapacity),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go bw.run()
	return bw, nil
}

// Append enqueues the entry for durable write. A full queue blocks until
// space frees or ctx is done. Append fails for an invalid entry, after
// Close, and after a write failure has poisoned the writer. An entry
// accepted in the same instant the writer fails is not written; it is
// counted in EntriesDropped.
func (bw *BatchWriter) Append(ctx context.Context, e Entry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("journal: append: invalid entry kind 0x%02x", uint8(e.Kind))
	}
	if len(e.Payload) > MaxPayloadSize {
		return fmt.Errorf("journal: append: payload %d bytes exceeds limit %d", len(e.Payload), MaxPayloadSize)
	}
	if err := bw.enter(); err != nil {
		return err
	}
	defer bw.senders.Done()
	select {
	case bw.queue <- item{entry: e}:
		return nil
	case <-bw.closing:
		return bw.termErr()
	case <-bw.done:
		return bw.termErr()
	case <-ctx.Done():
		return fmt.Errorf("journal: append: %w", ctx.Err())
	}
}

// Flush enqueues a barrier and blocks until the worker acknowledges that
// every previously enqueued entry, including the partial batch in
// progress, has been written and, when configured, synced. An accepted
// barrier is always answered, even when the writer fails before reaching
// it.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	if err := bw.enter(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	select {
	case bw.queue <- item{barrier: ack}:
		bw.senders.Done()
	case <-bw.closing:
		bw.senders.Done()
		return bw.termErr()
	case <-bw.done:
		bw.senders.Done()
		return bw.termErr()
	case <-ctx.Done():
		bw.senders.Done()
		return fmt.Errorf("journal: flush: %w", ctx.Err())
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return fmt.Errorf("journal: flush: %w", ctx.Err())
	}
}

// Stats returns the cumulative counters.
func (bw *BatchWriter) Stats() Stats {
	return Stats{
		EntriesWritten: bw.entriesWritten.Load(),
		BytesWritten:   bw.bytesWritten.Load(),
		BatchesFlushed: bw.batchesFlushed.Load(),
		EntriesDropped: bw.entriesDropped.Load(),
	}
}

// QueueDepth returns the number of entries waiting in the producer queue.
func (bw *BatchWriter) QueueDepth() int { return len(bw.queue) }

// QueueCapacity returns the configured queue bound.
func (bw *BatchWriter) QueueCapacity() int { return bw.cfg.QueueCapacity }

// Done is closed once the writer has terminated: after a clean close, or
// as soon as a write failure poisons it. Once Done is closed and the last
// concurrent Append has returned, the queue is empty and the counters are
// final.
func (bw *BatchWriter) Done() <-chan struct{} { return bw.done }

// Err returns the terminal write error, or nil while the writer is
// healthy or after a clean shutdown.
func (bw *BatchWriter) Err() error {
	bw.mu.RLock()
	defer bw.mu.RUnlock()
	return bw.failure
}

func (bw *BatchWriter) termErr() error {
	if err := bw.Err(); err != nil {
		return err
	}
	return ErrWriterClosed
}

// enter admits the caller as a sender. After Close, or once a write
// failure has sealed the writer, it returns the terminal error instead.
// An admitted caller must release its senders slot once its send has
// settled; the shutdown paths keep consuming the queue until every
// admitted sender has done so.
func (bw *BatchWriter) enter() error {
	bw.mu.RLock()
	if bw.sealed {
		err := bw.failure
		bw.mu.RUnlock()
		if err != nil {
			return err
		}
		return ErrWriterClosed
	}
	bw.senders.Add(1)
	bw.mu.RUnlock()
	return nil
}

// seal stops admitting senders.
func (bw *BatchWriter) seal() {
	bw.mu.Lock()
	bw.sealed = true
	bw.mu.Unlock()
}

// Close stops intake, waits for the worker to drain and flush the
// remainder, and returns the worker's terminal error if it died early.
// Close must complete before process exit or the final partial batch may
// be lost.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() {
		bw.seal()
		close(bw.closing)
	})
	<-bw.done
	if err := bw.Err(); err != nil {
		return err
	}
	return bw.closeErr
}

// pendingBatch tracks the batch accumulated since the last flush. Entries
// are already in the Writer's userspace buffer; flushing moves them to the
// OS and optionally to stable storage.
type pendingBatch struct {
	count int
	bytes uint64
}

func (bw *BatchWriter) run() {
	timer := time.NewTimer(bw.cfg.BatchTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	armed := false

	var batch pendingBatch
	for {
		select {
		case <-bw.closing:
			bw.finish(&batch, timer, &armed)
			return
		case it := <-bw.queue:
			if !bw.handle(it, &batch, timer, &armed) {
				bw.abort()
				return
			}
		case <-timer.C:
			armed = false
			if batch.count > 0 {
				if err := bw.flushBatch(&batch); err != nil {
					bw.fail(err, &batch)
					bw.abort()
					return
				}
			}
		}
	}
}

// handle applies one queue item. It reports false when the worker must
// shut down because of a fatal write error; by then fail has already
// poisoned the writer.
func (bw *BatchWriter) handle(it item, batch *pendingBatch, timer *time.Timer, armed *bool) bool {
	if it.barrier != nil {
		err := bw.flushBatch(batch)
		it.barrier <- err
		if err != nil {
			bw.fail(err, batch)
			return false
		}
		if *armed && !timer.Stop() {
			<-timer.C
		}
		*armed = false
		return true
	}

	n, err := bw.w.Append(it.entry)
	if err != nil {
		bw.entriesDropped.Add(1)
		bw.fail(err, batch)
		return false
	}
	batch.count++
	batch.bytes += uint64(n)

	if batch.count >= bw.cfg.BatchSize {
		if err := bw.flushBatch(batch); err != nil {
			bw.fail(err, batch)
			return false
		}
		if *armed && !timer.Stop() {
			<-timer.C
		}
		*armed = false
		return true
	}
	if batch.count == 1 && !*armed {
		timer.Reset(bw.cfg.BatchTimeout)
		*armed = true
	}
	return true
}

// flushBatch pushes the accumulated batch out and advances the counters.
// A barrier with nothing accumulated still flushes the Writer so earlier
// buffered bytes reach the OS.
func (bw *BatchWriter) flushBatch(batch *pendingBatch) error {
	if err := bw.w.Flush(); err != nil {
		return err
	}
	if bw.cfg.ForceFlush {
		if err := bw.w.Sync(); err != nil {
			return err
		}
	}
	if batch.count == 0 {
		return nil
	}
	bw.entriesWritten.Add(uint64(batch.count))
	bw.bytesWritten.Add(batch.bytes)
	bw.batchesFlushed.Add(1)
	batch.count = 0
	batch.bytes = 0
	return nil
}

// finish runs the clean shutdown. It keeps consuming until every sender
// admitted before Close has settled, so none stays parked on a full
// queue, then drains what they enqueued, flushes the remainder exactly
// once, and closes the file.
func (bw *BatchWriter) finish(batch *pendingBatch, timer *time.Timer, armed *bool) {
	settled := make(chan struct{})
	go func() {
		bw.senders.Wait()
		close(settled)
	}()
	for {
		select {
		case it := <-bw.queue:
			if !bw.handle(it, batch, timer, armed) {
				bw.settle(settled)
				return
			}
			continue
		case <-settled:
		}
		break
	}
	// Every admitted sender has returned, so anything it enqueued is
	// already buffered.
	for {
		select {
		case it := <-bw.queue:
			if !bw.handle(it, batch, timer, armed) {
				bw.settle(settled)
				return
			}
		default:
			if err := bw.flushBatch(batch); err != nil {
				bw.fail(err, batch)
				bw.settle(settled)
				return
			}
			bw.closeErr = bw.w.Close()
			close(bw.done)
			return
		}
	}
}

// abort runs the failure shutdown after fail has poisoned the writer.
func (bw *BatchWriter) abort() {
	settled := make(chan struct{})
	go func() {
		bw.senders.Wait()
		close(settled)
	}()
	bw.settle(settled)
}

// fail poisons the writer: seals intake, records the terminal error, and
// closes the file. Entries in the unflushed batch were never reported
// written and are counted dropped; the caller settles whatever is still
// queued.
func (bw *BatchWriter) fail(err error, batch *pendingBatch) {
	bw.mu.Lock()
	bw.sealed = true
	if bw.failure == nil {
		bw.failure = err
	}
	bw.mu.Unlock()
	bw.entriesDropped.Add(uint64(batch.count))
	batch.count = 0
	batch.bytes = 0
	_ = bw.w.Close()
}

// settle publishes termination, then keeps answering the queue until the
// last admitted sender has let go, so no producer stays parked on a send
// the worker would never take, and finally rejects whatever made it into
// the queue.
func (bw *BatchWriter) settle(settled <-chan struct{}) {
	close(bw.done)
	err := bw.termErr()
	for {
		select {
		case it := <-bw.queue:
			bw.rejectItem(it, err)
		case <-settled:
			bw.rejectQueued()
			return
		}
	}
}

// rejectItem answers a barrier with the terminal error and counts an
// entry as dropped.
func (bw *BatchWriter) rejectItem(it item, err error) {
	if it.barrier != nil {
		it.barrier <- err
		return
	}
	bw.entriesDropped.Add(1)
}

// rejectQueued sweeps what landed in the queue before the last sender
// settled.
func (bw *BatchWriter) rejectQueued() {
	err := bw.termErr()
	for {
		select {
		case it := <-bw.queue:
			bw.rejectItem(it, err)
		default:
			return
		}
	}
}
