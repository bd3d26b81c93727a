package logging

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns ~/.rankfuse, or a temp-dir fallback without a home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".rankfuse")
	}
	return filepath.Join(home, ".rankfuse")
}

// DefaultLogDir returns the default log directory (~/.rankfuse/logs/).
func DefaultLogDir() string {
	return filepath.Join(DefaultDataDir(), "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "rankfuse.log")
}

// EnsureLogDir creates the directory holding path if it doesn't exist.
func EnsureLogDir(path string) error {
	if path == "" {
		path = DefaultLogPath()
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
