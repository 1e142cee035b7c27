package spool

import (
	"errors"
	"io"
	"testing"

	"boxstore/internal/box"
	"boxstore/internal/config"
)

func spoolFactories(maxSize int64) map[string]func(t *testing.T) box.Spool {
	return map[string]func(t *testing.T) box.Spool{
		"memory": func(t *testing.T) box.Spool {
			return NewMemorySpool(maxSize)
		},
		"filesystem": func(t *testing.T) box.Spool {
			s, err := NewFileSystemSpool(t.TempDir(), maxSize)
			if err != nil {
				t.Fatalf("NewFileSystemSpool() error = %v", err)
			}
			return s
		},
	}
}

func TestSpool_CreateWriteRead(t *testing.T) {
	for name, newSpool := range spoolFactories(0) {
		t.Run(name, func(t *testing.T) {
			s := newSpool(t)

			f, err := s.Create("upload-1")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			defer f.Close()

			if _, err := f.Write([]byte("hello ")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if _, err := f.Write([]byte("world")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			size, err := f.Size()
			if err != nil {
				t.Fatalf("Size() error = %v", err)
			}
			if size != 11 {
				t.Errorf("Size() = %d, want 11", size)
			}

			buf := make([]byte, 5)
			if _, err := f.ReadAt(buf, 6); err != nil {
				t.Fatalf("ReadAt() error = %v", err)
			}
			if string(buf) != "world" {
				t.Errorf("ReadAt() = %q, want %q", buf, "world")
			}

			if _, err := f.ReadAt(make([]byte, 4), 9); !errors.Is(err, io.EOF) {
				t.Errorf("ReadAt() past end error = %v, want io.EOF", err)
			}
		})
	}
}

func TestSpool_CreateExisting(t *testing.T) {
	for name, newSpool := range spoolFactories(0) {
		t.Run(name, func(t *testing.T) {
			s := newSpool(t)
			f, err := s.Create("x")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			f.Close()

			if _, err := s.Create("x"); err == nil {
				t.Error("second Create() expected error")
			}
		})
	}
}

func TestSpool_OpenAppendsAndRemove(t *testing.T) {
	for name, newSpool := range spoolFactories(0) {
		t.Run(name, func(t *testing.T) {
			s := newSpool(t)

			missing, err := s.Open("nope")
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if missing != nil {
				t.Error("Open() of missing file returned a file")
			}

			f, err := s.Create("resume")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			f.Write([]byte("abc"))
			f.Close()

			f, err = s.Open("resume")
			if err != nil || f == nil {
				t.Fatalf("Open() = %v, %v", f, err)
			}
			if size, _ := f.Size(); size != 3 {
				t.Errorf("Size() after reopen = %d, want 3", size)
			}
			f.Write([]byte("def"))
			buf := make([]byte, 6)
			if _, err := f.ReadAt(buf, 0); err != nil {
				t.Fatalf("ReadAt() error = %v", err)
			}
			if string(buf) != "abcdef" {
				t.Errorf("content = %q, want %q", buf, "abcdef")
			}
			f.Close()

			if err := s.Remove("resume"); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if err := s.Remove("resume"); err != nil {
				t.Errorf("Remove() of missing file error = %v", err)
			}
			if f, _ := s.Open("resume"); f != nil {
				t.Error("Open() after Remove returned a file")
			}
		})
	}
}

func TestSpool_MaxFileSize(t *testing.T) {
	for name, newSpool := range spoolFactories(4) {
		t.Run(name, func(t *testing.T) {
			s := newSpool(t)
			f, err := s.Create("small")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			defer f.Close()

			if _, err := f.Write([]byte("abcd")); err != nil {
				t.Fatalf("Write() within limit error = %v", err)
			}
			if _, err := f.Write([]byte("e")); !errors.Is(err, ErrFileTooLarge) {
				t.Errorf("Write() past limit error = %v, want ErrFileTooLarge", err)
			}
		})
	}
}

func TestFileSystemSpool_InvalidNames(t *testing.T) {
	s, err := NewFileSystemSpool(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileSystemSpool() error = %v", err)
	}
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := s.Create(name); err == nil {
			t.Errorf("Create(%q) expected error", name)
		}
	}
}

func TestNewSpoolFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SpoolConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.SpoolConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.SpoolConfig{Type: "filesystem", Dir: t.TempDir()}},
		{name: "filesystem without dir", cfg: config.SpoolConfig{Type: "filesystem"}, wantErr: true},
		{name: "unknown", cfg: config.SpoolConfig{Type: "tmpfs"}, wantErr: true},
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
