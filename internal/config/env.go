package config

import (
	"os"
	"strconv"
)

// getenv is swapped in tests.
var getenv = os.Getenv

// FromEnv overlays ENGRAM_* environment variables onto cfg. Unset or
// malformed values leave the corresponding field untouched.
func FromEnv(cfg *Config) {
	if v := getenv("ENGRAM_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := getenv("ENGRAM_FSYNC"); v != "" {
		cfg.Storage.Fsync = v
	}
	if v := getenv("ENGRAM_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Storage.FsyncIntervalMs = n
		}
	}
	if v := getenv("ENGRAM_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Journal.BatchSize = n
		}
	}
	if v := getenv("ENGRAM_BATCH_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Journal.BatchTimeoutMs = n
		}
	}
	if v := getenv("ENGRAM_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Journal.QueueCapacity = n
		}
	}
	if v := getenv("ENGRAM_FORCE_FLUSH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Journal.ForceFlush = b
		}
	}
	if v := getenv("ENGRAM_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Buffer.Capacity = n
		}
	}
	if v := getenv("ENGRAM_CHANNEL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Buffer.ChannelCapacity = n
		}
	}
	if v := getenv("ENGRAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("ENGRAM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
