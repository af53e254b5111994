package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cmslake/internal/lake"
)

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")

		v, err := NewFileSystemVault(root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		if _, err := os.Stat(root); err != nil {
			t.Errorf("root directory not created: %v", err)
		}
		if err := v.ValidateSetup(context.Background()); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault(t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_Put(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "nested key", key: "cms/data/entries.parquet", data: "PAR1", size: 4},
		{name: "size mismatch", key: "a.bin", data: "hello", size: 10, wantErr: true},
		{name: "empty key", key: "", data: "x", size: 1, wantErr: true},
		{name: "escaping key", key: "../outside", data: "x", size: 1, wantErr: true},
		{name: "absolute key", key: "/etc/passwd", data: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			v, err := NewFileSystemVault(root)
			if err != nil {
				t.Fatalf("NewFileSystemVault() error = %v", err)
			}

			loc, err := v.Put(context.Background(), tt.key, strings.NewReader(tt.data), tt.size, "application/octet-stream")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(tt.key)))
			if err != nil {
				t.Fatalf("reading stored file: %v", err)
			}
			if string(got) != tt.data {
				t.Errorf("stored content = %q, want %q", got, tt.data)
			}
			if !strings.HasPrefix(loc, "file://") || !strings.HasSuffix(loc, tt.key) {
				t.Errorf("Put() location = %q, want file:// URL ending in %s", loc, tt.key)
			}
		})
	}
}

func TestFileSystemVault_GetAndExists(t *testing.T) {
	ctx := context.Background()
	v, err := NewFileSystemVault(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	if v.Exists(ctx, "cms/data/assets.parquet") {
		t.Error("Exists() = true before Put()")
	}
	if _, err := v.Put(ctx, "cms/data/assets.parquet", strings.NewReader("data"), 4, ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !v.Exists(ctx, "cms/data/assets.parquet") {
		t.Error("Exists() = false after Put()")
	}

	var buf bytes.Buffer
	if err := v.Get(ctx, "cms/data/assets.parquet", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "data" {
		t.Errorf("Get() = %q, want %q", buf.String(), "data")
	}

	err = v.Get(ctx, "missing", &buf)
	var nf *lake.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Get() missing error = %v, want NotFoundError", err)
	}
}

func TestFileSystemVault_AtomicWrite(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault(root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	// failed write leaves neither the object nor temp files behind
	_, err = v.Put(context.Background(), "obj", strings.NewReader("short"), 100, "")
	if err == nil {
		t.Fatal("Put() expected size mismatch error")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("vault root has %d entries after failed write, want 0", len(entries))
	}
}
