// Package runtime wires the control-plane store, per-stream journals and
// hot buffers into a single-node Engram instance. It exposes Open/Close,
// basic health checks, and cached stream handles used by higher-level
// services.
//
// A stream handle is created on first open: the journal is replayed into
// a fresh hot buffer, a torn tail is truncated if a crash left one, and
// only then does the batched writer take the file. The runtime caches
// handles so each journal is owned by exactly one writer.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Open a stream and append
//	h, _ := rt.OpenStream("agent-main")
//	seq := h.Stream().WriteEvent(rec)
//	_ = h.AppendJournal(context.Background(), journal.NewEntry(journal.KindExperienceAdded, payload))
//	_ = seq
package runtime
