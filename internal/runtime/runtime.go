package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cfgpkg "github.com/rzbill/engram/internal/config"
	"github.com/rzbill/engram/internal/journal"
	"github.com/rzbill/engram/internal/registry"
	pebblestore "github.com/rzbill/engram/internal/storage/pebble"
	logpkg "github.com/rzbill/engram/pkg/log"
)

// ErrClosed is returned by operations on a closed Runtime.
var ErrClosed = errors.New("runtime: closed")

// Options for building the Runtime.
type Options struct {
	DataDir string
	// Fsync overrides the config's storage fsync policy when set.
	Fsync pebblestore.FsyncMode
	// FsyncInterval bounds group-commit when the mode is interval.
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
	// StoreMetrics receives control-plane store observations. Optional.
	StoreMetrics pebblestore.MetricsHook
}

// Runtime wires the control-plane store, per-stream journals and hot
// buffers into a single-node instance. It is the only component that
// opens journal files, which keeps each journal under exactly one
// batched writer; everything above works through stream handles.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	dataDir string
	logger  logpkg.Logger

	mu      sync.RWMutex
	streams map[string]*StreamHandle
	closed  bool
}

// Open initializes storage under opts.DataDir and returns a Runtime.
// Journals live in DataDir/journal, the control-plane store in
// DataDir/meta.
func Open(opts Options) (*Runtime, error) {
	if opts.DataDir == "" {
		return nil, errors.New("runtime: Options.DataDir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("runtime"))
	}
	if err := os.MkdirAll(filepath.Join(opts.DataDir, "journal"), 0o755); err != nil {
		return nil, fmt.Errorf("runtime: data dir: %w", err)
	}

	mode, interval := opts.Fsync, opts.FsyncInterval
	if mode == pebblestore.FsyncModeUnspecified {
		mode, interval = fsyncFromConfig(opts.Config.Storage)
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(opts.DataDir, "meta"),
		Fsync:         mode,
		FsyncInterval: interval,
		Metrics:       opts.StoreMetrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:      db,
		config:  opts.Config,
		dataDir: opts.DataDir,
		logger:  logger,
		streams: make(map[string]*StreamHandle),
	}, nil
}

func fsyncFromConfig(sc cfgpkg.StorageConfig) (pebblestore.FsyncMode, time.Duration) {
	switch strings.ToLower(sc.Fsync) {
	case "always":
		return pebblestore.FsyncModeAlways, 0
	case "never":
		return pebblestore.FsyncModeNever, 0
	default:
		return pebblestore.FsyncModeInterval, time.Duration(sc.FsyncIntervalMs) * time.Millisecond
	}
}

// Close drains and closes every open stream, then the store. Each
// journal's final partial batch is flushed by its writer's close path;
// skipping Close can lose up to one batch timeout of appends.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := make([]*StreamHandle, 0, len(r.streams))
	for name, h := range r.streams {
		delete(r.streams, name)
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CheckHealth probes the store and reports the first failed journal
// writer, if any.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("runtime: store not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	_ = it.Close()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, h := range r.streams {
		if err := h.WriterErr(); err != nil {
			return fmt.Errorf("runtime: stream %s: %w", name, err)
		}
	}
	return nil
}

// EnsureStream registers a stream without opening its journal.
func (r *Runtime) EnsureStream(name string) (registry.Meta, error) {
	return registry.EnsureStream(r.db, name)
}

// OpenStream returns the handle for name, opening it on first use. The
// open path replays the journal into a fresh hot buffer before the
// batched writer takes the file, so recovery reads never race appends.
// A torn tail left by a crash is truncated at the last valid entry.
func (r *Runtime) OpenStream(name string) (*StreamHandle, error) {
	r.mu.RLock()
	h, ok := r.streams[name]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return h, nil
	}
	if closed {
		return nil, ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if h, ok := r.streams[name]; ok {
		return h, nil
	}
	h, err := r.openStreamLocked(name)
	if err != nil {
		return nil, err
	}
	r.streams[name] = h
	return h, nil
}

// Streams returns the names of currently open streams.
func (r *Runtime) Streams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	return names
}

// Handle returns the handle for an already-open stream without opening
// it. Stats and metrics readers use this to avoid creating streams as a
// side effect.
func (r *Runtime) Handle(name string) (*StreamHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.streams[name]
	return h, ok
}

// CompactStream rewrites a stream's journal down to the suffix starting
// at its last snapshot marker and bumps the stream's sequence base by
// the number of records dropped, so sequence numbers remain stable. The
// stream's writer is closed for the duration; appends racing a
// compaction fail with ErrWriterClosed and should be retried.
func (r *Runtime) CompactStream(name string) (journal.CompactResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return journal.CompactResult{}, ErrClosed
	}
	h, ok := r.streams[name]
	if !ok {
		var err error
		h, err = r.openStreamLocked(name)
		if err != nil {
			return journal.CompactResult{}, err
		}
		r.streams[name] = h
	}
	return h.compact(r.db, r.journalConfig(h.Meta()), r.logger)
}

// DB exposes the control-plane store for registry operations.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// JournalPath returns where a stream's journal file lives.
func (r *Runtime) JournalPath(name string) string {
	return filepath.Join(r.dataDir, "journal", name+".log")
}

// journalConfig resolves the effective batched-writer settings for a
// stream: node defaults overridden by the stream's meta record.
func (r *Runtime) journalConfig(meta registry.Meta) journal.Config {
	jc := r.config.Journal
	cfg := journal.Config{
		BatchSize:     jc.BatchSize,
		BatchTimeout:  time.Duration(jc.BatchTimeoutMs) * time.Millisecond,
		QueueCapacity: jc.QueueCapacity,
		ForceFlush:    jc.ForceFlush,
	}
	if meta.BatchSize > 0 {
		cfg.BatchSize = meta.BatchSize
	}
	if meta.BatchTimeoutMs > 0 {
		cfg.BatchTimeout = time.Duration(meta.BatchTimeoutMs) * time.Millisecond
	}
	if meta.QueueCapacity > 0 {
		cfg.QueueCapacity = meta.QueueCapacity
	}
	return cfg
}

func (r *Runtime) bufferCapacity(meta registry.Meta) int {
	if meta.BufferCapacity > 0 {
		return meta.BufferCapacity
	}
	if r.config.Buffer.Capacity > 0 {
		return r.config.Buffer.Capacity
	}
	return cfgpkg.Default().Buffer.Capacity
}

func (r *Runtime) channelCapacity() int {
	if r.config.Buffer.ChannelCapacity > 0 {
		return r.config.Buffer.ChannelCapacity
	}
	return cfgpkg.Default().Buffer.ChannelCapacity
}
