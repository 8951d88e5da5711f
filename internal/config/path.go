package config

import (
	"os"
	"path/filepath"
)

const appDir = "spoolq"

// DefaultDataDir returns the directory that holds the spool and the
// history journal when the config does not name one. SPOOLQ_HOME wins,
// then XDG_DATA_HOME, then a per-OS location under the home directory.
// A writable /var/lib is used for system installs.
func DefaultDataDir() string {
	if v := os.Getenv("SPOOLQ_HOME"); v != "" {
		return v
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	if isWritableDir("/var/lib") {
		return filepath.Join("/var/lib", appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", appDir)
	}
	for _, c := range [][]string{
		{"Library", "Application Support"}, // macOS
		{"AppData", "Local"},               // Windows
		{".local", "share"},                // XDG default
	} {
		base := filepath.Join(append([]string{home}, c...)...)
		if isDir(base) {
			return filepath.Join(base, appDir)
		}
	}
	return filepath.Join(home, "."+appDir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// isWritableDir probes path by creating and removing a temp file.
func isWritableDir(path string) bool {
	if !isDir(path) {
		return false
	}
	f, err := os.CreateTemp(path, ".spoolq-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
