package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)

	if got := GetDataDir(); got != dir {
		t.Fatalf("GetDataDir() = %q, want %q", got, dir)
	}
	if got := GetTraceDir("dev1"); got != filepath.Join(dir, "dev1", "debug") {
		t.Errorf("GetTraceDir() = %q", got)
	}
}

func TestSocketPathCreatesDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)

	path, err := SocketPath("abc")
	if err != nil {
		t.Fatalf("SocketPath: %v", err)
	}
	if path != filepath.Join(dir, "sockets", "gatts-abc.sock") {
		t.Errorf("SocketPath() = %q", path)
	}
	if st, err := os.Stat(filepath.Dir(path)); err != nil || !st.IsDir() {
		t.Errorf("socket dir not created: %v", err)
	}
}
