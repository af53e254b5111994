package staging

import (
	"bytes"
	"fmt"

	"cmslake/internal/lake"
)

// memoryStore keeps the queue and payloads in maps. Record and Asset values
// attached to a change survive only in this store.
type memoryStore struct {
	content map[string][]byte
	queue   []*stagedChange
}

// NewMemoryStagingArea creates a new in-memory staging area.
// maxSize is the maximum total payload size in bytes; must be positive.
func NewMemoryStagingArea(maxSize int64) lake.StagingArea {
	return &stagingArea{
		store:   &memoryStore{content: make(map[string][]byte)},
		maxSize: maxSize,
	}
}

func (m *memoryStore) StoreContent(checksum string, data []byte) error {
	if _, ok := m.content[checksum]; ok {
		return nil
	}
	m.content[checksum] = bytes.Clone(data)
	return nil
}

func (m *memoryStore) HasContent(checksum string) (bool, error) {
	_, ok := m.content[checksum]
	return ok, nil
}

func (m *memoryStore) RemoveContent(checksum string) {
	delete(m.content, checksum)
}

func (m *memoryStore) ReadContent(checksum string) ([]byte, error) {
	data, ok := m.content[checksum]
	if !ok {
		return nil, fmt.Errorf("content not found: %s", checksum)
	}
	return bytes.Clone(data), nil
}

func (m *memoryStore) ContentSize() (int64, error) {
	var total int64
	for _, data := range m.content {
		total += int64(len(data))
	}
	return total, nil
}

func (m *memoryStore) Append(op *stagedChange) error {
	m.queue = append(m.queue, op)
	return nil
}

func (m *memoryStore) All() ([]*stagedChange, error) {
	return append([]*stagedChange(nil), m.queue...), nil
}

func (m *memoryStore) Truncate(n int) error {
	if n > len(m.queue) {
		n = len(m.queue)
	}
	m.queue = append([]*stagedChange(nil), m.queue[n:]...)
	return nil
}

func (m *memoryStore) Len() (int, error) {
	return len(m.queue), nil
}
