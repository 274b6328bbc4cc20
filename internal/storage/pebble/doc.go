// Package pebblestore wraps Pebble for engram's control-plane state:
// stream registry entries and consumer cursors. Event payloads never live
// here; those belong to the append-only journal files.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: filepath.Join(dataDir, "meta"),
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic multi-key updates
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	// Point ops; a missing key is reported, not an error
//	v, ok, err := db.Get([]byte("k"))
package pebblestore
