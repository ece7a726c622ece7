package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the directory for local state such as the SQLite
// attestation database. CONCORD_DATA_DIR wins over the home directory default.
func DefaultDataDir() string {
	if v := os.Getenv("CONCORD_DATA_DIR"); v != "" {
		return v
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".concord"
	}
	return filepath.Join(homeDir, ".concord")
}

// ExportDir returns the directory for JSON exports in dataDir.
func ExportDir(dataDir string) string {
	return filepath.Join(dataDir, "exports")
}

// EnsureDataDir creates the data directory and its export directory if they
// don't exist.
func EnsureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(ExportDir(dataDir), 0o755)
}
