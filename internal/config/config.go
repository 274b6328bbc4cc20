package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration loaded from file and env.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Buffer  BufferConfig  `json:"buffer" yaml:"buffer"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
}

// StorageConfig holds control-plane store durability settings.
type StorageConfig struct {
	// Fsync is one of "always", "interval", "never".
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int64  `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
}

// JournalConfig holds the per-stream batched writer defaults. Stream meta
// records can override them individually.
type JournalConfig struct {
	BatchSize      int   `json:"batchSize" yaml:"batchSize"`
	BatchTimeoutMs int64 `json:"batchTimeoutMs" yaml:"batchTimeoutMs"`
	QueueCapacity  int   `json:"queueCapacity" yaml:"queueCapacity"`
	ForceFlush     bool  `json:"forceFlush" yaml:"forceFlush"`
}

// BufferConfig holds hot buffer and broadcaster sizing.
type BufferConfig struct {
	Capacity        int `json:"capacity" yaml:"capacity"`
	ChannelCapacity int `json:"channelCapacity" yaml:"channelCapacity"`
}

// LogConfig selects logger verbosity and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr: ":8080",
		},
		Storage: StorageConfig{
			Fsync:           "interval",
			FsyncIntervalMs: 5,
		},
		Journal: JournalConfig{
			BatchSize:      1000,
			BatchTimeoutMs: 10,
			QueueCapacity:  10000,
			ForceFlush:     true,
		},
		Buffer: BufferConfig{
			Capacity:        4096,
			ChannelCapacity: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a JSON or YAML file, chosen by extension,
// overlaying it onto the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
