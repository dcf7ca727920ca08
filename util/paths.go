package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirEnv overrides the data directory (tests point it at t.TempDir()).
const DataDirEnv = "GATTS_TABLE_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".gatts-table-data")
	}
	return filepath.Join(home, ".gatts-table-data")
}

// GetDeviceCacheDir returns the cache directory for a specific device
func GetDeviceCacheDir(deviceID string) string {
	return filepath.Join(GetDataDir(), deviceID)
}

// GetSocketDir returns the directory where Unix domain sockets are stored,
// creating it if needed.
func GetSocketDir() (string, error) {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return "", fmt.Errorf("create socket dir: %w", err)
	}
	return socketDir, nil
}

// SocketPath returns the socket a device with the given id listens on.
func SocketPath(deviceID string) (string, error) {
	dir, err := GetSocketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("gatts-%s.sock", deviceID)), nil
}

// GetTraceDir returns the packet trace directory for a device.
func GetTraceDir(deviceID string) string {
	return filepath.Join(GetDeviceCacheDir(deviceID), "debug")
}
