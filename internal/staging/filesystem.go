package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cmslake/internal/lake"
)

// fileStore keeps the queue and payloads in a directory so staged changes
// survive between CLI invocations.
//
// Directory structure:
//
//	<staging_dir>/
//	  queue.json    (ordered list of staged changes)
//	  payloads/
//	    <sha256>    (staged payload bytes)
type fileStore struct {
	queuePath   string
	payloadsDir string
}

// NewFileSystemStagingArea creates a new filesystem-based staging area.
// maxSize is the maximum total payload size in bytes; must be positive.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (lake.StagingArea, error) {
	payloadsDir := filepath.Join(stagingDir, "payloads")
	if err := os.MkdirAll(payloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &stagingArea{
		store: &fileStore{
			queuePath:   filepath.Join(stagingDir, "queue.json"),
			payloadsDir: payloadsDir,
		},
		maxSize: maxSize,
	}, nil
}

func (f *fileStore) contentPath(checksum string) string {
	return filepath.Join(f.payloadsDir, checksum)
}

func (f *fileStore) StoreContent(checksum string, data []byte) error {
	if ok, err := f.HasContent(checksum); err != nil || ok {
		return err
	}
	return writeFileAtomic(f.contentPath(checksum), data)
}

func (f *fileStore) HasContent(checksum string) (bool, error) {
	_, err := os.Stat(f.contentPath(checksum))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking content %s: %w", checksum, err)
}

func (f *fileStore) RemoveContent(checksum string) {
	os.Remove(f.contentPath(checksum))
}

func (f *fileStore) ReadContent(checksum string) ([]byte, error) {
	data, err := os.ReadFile(f.contentPath(checksum))
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", checksum, err)
	}
	return data, nil
}

func (f *fileStore) ContentSize() (int64, error) {
	entries, err := os.ReadDir(f.payloadsDir)
	if err != nil {
		return 0, fmt.Errorf("listing payloads: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, fmt.Errorf("stat payload %s: %w", e.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

func (f *fileStore) Append(op *stagedChange) error {
	queue, err := f.All()
	if err != nil {
		return err
	}
	return f.save(append(queue, op))
}

func (f *fileStore) All() ([]*stagedChange, error) {
	data, err := os.ReadFile(f.queuePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	var queue []*stagedChange
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, fmt.Errorf("decoding queue: %w", err)
	}
	return queue, nil
}

func (f *fileStore) Truncate(n int) error {
	queue, err := f.All()
	if err != nil {
		return err
	}
	if n > len(queue) {
		n = len(queue)
	}
	return f.save(queue[n:])
}

func (f *fileStore) Len() (int, error) {
	queue, err := f.All()
	if err != nil {
		return 0, err
	}
	return len(queue), nil
}

func (f *fileStore) save(queue []*stagedChange) error {
	if queue == nil {
		queue = []*stagedChange{}
	}
	data, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}
	return writeFileAtomic(f.queuePath, data)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
