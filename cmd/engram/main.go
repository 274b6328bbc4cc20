package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	clientcmd "github.com/rzbill/engram/internal/cmd/client"
	serverrun "github.com/rzbill/engram/internal/cmd/server"
	cfgpkg "github.com/rzbill/engram/internal/config"
	pebblestore "github.com/rzbill/engram/internal/storage/pebble"
	"github.com/rzbill/engram/internal/version"
	logpkg "github.com/rzbill/engram/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// initialize logger for CLI
	// Respect ENGRAM_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("ENGRAM_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "engram",
		Short: "Engram runtime CLI",
		Long:  "Engram is a single-binary event journal. This CLI manages the server and basic operations.",
	}

	// serve
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the engram server (HTTP API)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http-addr")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			batchTimeoutMs, _ := cmd.Flags().GetInt("batch-timeout-ms")
			queueCapacity, _ := cmd.Flags().GetInt("queue-capacity")
			bufferCapacity, _ := cmd.Flags().GetInt("buffer-capacity")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			configPath, _ := cmd.Flags().GetString("config")
			subFlushMs, _ := cmd.Flags().GetInt("sub-flush-ms")
			subBuf, _ := cmd.Flags().GetInt("sub-buf")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)

			// Explicit flags win over file and environment values.
			if !cmd.Flags().Changed("http-addr") && cfg.Server.HTTPAddr != "" {
				httpAddr = cfg.Server.HTTPAddr
			}
			if !cmd.Flags().Changed("fsync") && cfg.Storage.Fsync != "" {
				fsyncMode = cfg.Storage.Fsync
			}
			if !cmd.Flags().Changed("fsync-interval-ms") && cfg.Storage.FsyncIntervalMs > 0 {
				fsyncIntervalMs = int(cfg.Storage.FsyncIntervalMs)
			}

			mode := pebblestore.FsyncModeInterval
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			if batchSize > 0 {
				cfg.Journal.BatchSize = batchSize
			}
			if batchTimeoutMs > 0 {
				cfg.Journal.BatchTimeoutMs = int64(batchTimeoutMs)
			}
			if queueCapacity > 0 {
				cfg.Journal.QueueCapacity = queueCapacity
			}
			if bufferCapacity > 0 {
				cfg.Buffer.Capacity = bufferCapacity
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if logLevel != "" {
				cfg.Log.Level = logLevel
				_ = os.Setenv("ENGRAM_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
				_ = os.Setenv("ENGRAM_LOG_FORMAT", logFormat)
			}
			if subFlushMs > 0 {
				_ = os.Setenv("ENGRAM_SUB_FLUSH_MS", fmt.Sprintf("%d", subFlushMs))
			}
			if subBuf > 0 {
				_ = os.Setenv("ENGRAM_SUB_BUF", fmt.Sprintf("%d", subBuf))
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serveCmd.Flags().String("http-addr", func() string {
		if v := os.Getenv("ENGRAM_HTTP_ADDR"); v != "" {
			return v
		}
		return ":8080"
	}(), "HTTP listen address")
	serveCmd.Flags().String("fsync", func() string {
		if v := os.Getenv("ENGRAM_FSYNC"); v != "" {
			return v
		}
		return "interval"
	}(), "Fsync mode: always|interval|never")
	serveCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serveCmd.Flags().Int("batch-size", 0, "Journal batch size override")
	serveCmd.Flags().Int("batch-timeout-ms", 0, "Journal batch timeout override in ms")
	serveCmd.Flags().Int("queue-capacity", 0, "Journal queue capacity override")
	serveCmd.Flags().Int("buffer-capacity", 0, "Hot buffer capacity override")
	serveCmd.Flags().String("log-level", os.Getenv("ENGRAM_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serveCmd.Flags().String("log-format", os.Getenv("ENGRAM_LOG_FORMAT"), "Log format: text|json (default text)")
	serveCmd.Flags().String("config", "", "Config file path (YAML or JSON)")
	serveCmd.Flags().Int("sub-flush-ms", func() int { v, _ := strconv.Atoi(os.Getenv("ENGRAM_SUB_FLUSH_MS")); return v }(), "Subscribe flush window in ms (default 0)")
	serveCmd.Flags().Int("sub-buf", func() int {
		v, _ := strconv.Atoi(os.Getenv("ENGRAM_SUB_BUF"))
		if v == 0 {
			return 1024
		}
		return v
	}(), "Subscribe buffer size per stream (default 1024)")
	rootCmd.AddCommand(serveCmd)

	// version
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "engram %s (%s)\n", version.Version, version.Commit)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// stream commands (implemented in internal/cmd/client)
	streamCmd := clientcmd.NewStreamCommand(apiURL)
	rootCmd.AddCommand(streamCmd)

	// cursor commands
	cursorCmd := clientcmd.NewCursorCommand(apiURL)
	rootCmd.AddCommand(cursorCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("ENGRAM_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
