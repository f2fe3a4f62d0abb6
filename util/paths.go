package util

import (
	"os"
	"path/filepath"
)

// DataDirEnv overrides the default data directory. Tests point it at a short /tmp path.
const DataDirEnv = "DICTOFUN_SYNC_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "dictofun-sync")
	}
	return filepath.Join(home, ".dictofun-sync")
}

// GetRecordingsDir returns where finished recordings are stored, creating it if needed
func GetRecordingsDir(dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = GetDataDir()
	}
	dir := filepath.Join(dataDir, "recordings")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetIndexPath returns the path of the recordings index database
func GetIndexPath(dataDir string) string {
	if dataDir == "" {
		dataDir = GetDataDir()
	}
	return filepath.Join(dataDir, "recordings.db")
}

// GetDeviceCacheDir returns the cache directory for a simulated device
func GetDeviceCacheDir(deviceID string) string {
	return filepath.Join(GetDataDir(), "devices", deviceID)
}

// GetSocketDir returns the directory where simulated radio sockets live
func GetSocketDir() string {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		panic(err)
	}
	return socketDir
}
