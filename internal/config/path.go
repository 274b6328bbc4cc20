package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the directory that holds the journals and the
// control-plane store. ENGRAM_DATA_DIR wins outright; otherwise standard
// per-OS locations are preferred, falling back to a dotdir in the user's
// home.
func DefaultDataDir() string {
	if v := getenv("ENGRAM_DATA_DIR"); v != "" {
		return v
	}

	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	// XDG (Linux) override
	if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "engram")
	}

	// Common Linux/Unix system dir
	if isDir("/var/lib") {
		return "/var/lib/engram"
	}

	// macOS: ~/Library/Application Support/Engram
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Engram")
	}

	// Windows: %USERPROFILE%/AppData/Local/Engram
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "Engram")
	}

	// Fallback: ~/.engram
	return filepath.Join(homeDir, ".engram")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
