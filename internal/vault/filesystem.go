package vault

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cmslake/internal/lake"
)

// FileSystemVault stores objects as files under root, one file per key:
//
//	<root>/
//	  cms/data/entries.parquet
//	  cms/data/assets.parquet
//	  assets/<path>
type FileSystemVault struct {
	root string
}

// NewFileSystemVault creates the root directory if needed.
func NewFileSystemVault(root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving vault root: %w", err)
	}
	return &FileSystemVault{root: abs}, nil
}

// checkKey rejects keys that are empty, absolute or escape the vault.
func checkKey(key string) error {
	if key == "" {
		return &lake.ValidationError{Field: "key", Message: "object key is empty"}
	}
	if strings.HasPrefix(key, "/") {
		return &lake.ValidationError{Field: "key", Message: fmt.Sprintf("object key %q is absolute", key)}
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return &lake.ValidationError{Field: "key", Message: fmt.Sprintf("object key %q escapes the vault", key)}
		}
	}
	return nil
}

func (v *FileSystemVault) pathFor(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(v.root, filepath.FromSlash(key)), nil
}

// Put writes the object atomically and returns its file:// location.
func (v *FileSystemVault) Put(_ context.Context, key string, r io.Reader, size int64, _ string) (string, error) {
	dest, err := v.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := writeFile(dest, r, size); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}

func (v *FileSystemVault) Get(_ context.Context, key string, w io.Writer) error {
	src, err := v.pathFor(key)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return &lake.NotFoundError{Kind: "object", ID: key}
		}
		return fmt.Errorf("failed to open object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

func (v *FileSystemVault) Exists(_ context.Context, key string) bool {
	p, err := v.pathFor(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// ValidateSetup verifies that the root is a writable directory.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	check, err := os.CreateTemp(v.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	check.Close()
	return os.Remove(check.Name())
}

// writeFile writes r to destPath through a temp file and rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ lake.Vault = (*FileSystemVault)(nil)
