package spool

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lessonvault/internal/config"
	"lessonvault/internal/offline"
)

func spools(t *testing.T, maxSize int64) map[string]offline.Spool {
	t.Helper()
	fs, err := NewFileSystemSpool(t.TempDir(), maxSize)
	if err != nil {
		t.Fatalf("NewFileSystemSpool() error = %v", err)
	}
	return map[string]offline.Spool{
		"memory":     NewMemorySpool(maxSize),
		"filesystem": fs,
	}
}

func TestSpool_WriteBytesDiscard(t *testing.T) {
	t.Parallel()
	for name, s := range spools(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			f, err := s.Create("lessonA")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			chunk := bytes.Repeat([]byte("audio"), 100)
			for i := 0; i < 3; i++ {
				if _, err := f.Write(chunk); err != nil {
					t.Fatalf("Write() error = %v", err)
				}
			}
			if got := f.Size(); got != int64(3*len(chunk)) {
				t.Errorf("Size() = %d, want %d", got, 3*len(chunk))
			}

			data, err := f.Bytes()
			if err != nil {
				t.Fatalf("Bytes() error = %v", err)
			}
			if !bytes.Equal(data, bytes.Repeat(chunk, 3)) {
				t.Error("Bytes() returned different content")
			}

			if err := f.Discard(); err != nil {
				t.Fatalf("Discard() error = %v", err)
			}
			if err := f.Discard(); err != nil {
				t.Errorf("second Discard() error = %v", err)
			}
		})
	}
}

func TestSpool_MaxSize(t *testing.T) {
	t.Parallel()
	for name, s := range spools(t, 10) {
		t.Run(name, func(t *testing.T) {
			f, err := s.Create("lessonA")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			defer f.Discard()

			if _, err := f.Write([]byte("0123456789")); err != nil {
				t.Fatalf("Write() at cap error = %v", err)
			}
			if _, err := f.Write([]byte("x")); !errors.Is(err, offline.ErrStorageExhausted) {
				t.Errorf("Write() over cap error = %v, want %v", err, offline.ErrStorageExhausted)
			}
		})
	}
}

func TestFileSystemSpool_DiscardRemovesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileSystemSpool(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewFileSystemSpool() error = %v", err)
	}

	f, err := s.Create("lessonA")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.Write([]byte("data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n := countFiles(t, dir); n != 1 {
		t.Fatalf("spool dir has %d files, want 1", n)
	}

	if err := f.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("spool dir has %d files after Discard, want 0", n)
	}
	if _, err := f.Bytes(); err == nil {
		t.Error("Bytes() after Discard error = nil")
	}
}

func TestNewFileSystemSpool_SweepsStaleFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".spool-stale"), []byte("old"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("keep"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := NewFileSystemSpool(dir, 1<<20); err != nil {
		t.Fatalf("NewFileSystemSpool() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".spool-stale")); !os.IsNotExist(err) {
		t.Error("stale spool file was not removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestNewSpoolFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.SpoolConfig
		wantErr bool
	}{
		{"memory", config.SpoolConfig{Type: "memory"}, false},
		{"filesystem", config.SpoolConfig{Type: "filesystem", SpoolDir: t.TempDir(), MaxSize: 1024}, false},
		{"filesystem without dir", config.SpoolConfig{Type: "filesystem"}, true},
		{"unknown", config.SpoolConfig{Type: "tape"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpoolFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSpoolFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	return len(entries)
}
