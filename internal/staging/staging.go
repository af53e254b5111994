package staging

import (
	"errors"
	"fmt"
	"sync"

	"cmslake/internal/lake"
)

// ErrFull is returned when staging a payload would exceed the size cap.
var ErrFull = errors.New("staging area full")

// stagingArea implements lake.StagingArea using a pluggable stagingStore
// for the storage mechanics. All shared algorithm logic lives here.
type stagingArea struct {
	store   stagingStore
	maxSize int64
	mu      sync.Mutex
}

var _ lake.StagingArea = (*stagingArea)(nil)

// Stage validates change and appends it to the queue. Its payload is stored
// by checksum, so identical payloads are held once.
func (s *stagingArea) Stage(change *lake.PendingChange) error {
	if change == nil {
		return &lake.ValidationError{Field: "change", Message: "change is nil"}
	}
	if err := change.Validate(); err != nil {
		return err
	}

	op := &stagedChange{PendingChange: *change}
	op.Payload = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := false
	if change.Payload != nil {
		checksum := checksumOf(change.Payload)
		exists, err := s.store.HasContent(checksum)
		if err != nil {
			return fmt.Errorf("checking staged content: %w", err)
		}
		if !exists {
			current, err := s.store.ContentSize()
			if err != nil {
				return fmt.Errorf("getting current size: %w", err)
			}
			if current+int64(len(change.Payload)) > s.maxSize {
				return fmt.Errorf("staging %s: %w: would exceed max size of %d bytes", change.Path, ErrFull, s.maxSize)
			}
			if err := s.store.StoreContent(checksum, change.Payload); err != nil {
				return fmt.Errorf("storing content: %w", err)
			}
			stored = true
		}
		op.PayloadSHA = checksum
		op.PayloadSize = int64(len(change.Payload))
	}

	if err := s.store.Append(op); err != nil {
		if stored {
			s.store.RemoveContent(op.PayloadSHA)
		}
		return fmt.Errorf("adding to queue: %w", err)
	}
	return nil
}

// List returns the queued changes in staging order with payloads loaded.
func (s *stagingArea) List() ([]*lake.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	return s.load(ops)
}

func (s *stagingArea) load(ops []*stagedChange) ([]*lake.PendingChange, error) {
	out := make([]*lake.PendingChange, 0, len(ops))
	for _, op := range ops {
		pc, err := op.toPending(s.store)
		if err != nil {
			return nil, fmt.Errorf("loading payload of %s: %w", op.Path, err)
		}
		out = append(out, pc)
	}
	return out, nil
}

// Drain calls fn with every change queued at the time of the call. If fn
// returns nil those changes are removed; on error they stay queued for
// retry. Changes staged while fn runs are kept. Returns 0 without calling fn
// when the queue is empty.
func (s *stagingArea) Drain(fn func([]lake.PendingChange) error) (int, error) {
	s.mu.Lock()
	ops, err := s.store.All()
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("reading queue: %w", err)
	}
	if len(ops) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	loaded, err := s.load(ops)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	batch := make([]lake.PendingChange, len(loaded))
	for i, pc := range loaded {
		batch[i] = *pc
	}

	// Call fn outside the lock
	if err := fn(batch); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Truncate(len(ops)); err != nil {
		return 0, fmt.Errorf("removing drained changes: %w", err)
	}
	remaining, err := s.store.All()
	if err != nil {
		return len(ops), fmt.Errorf("reading queue: %w", err)
	}
	live := make(map[string]bool, len(remaining))
	for _, op := range remaining {
		if op.PayloadSHA != "" {
			live[op.PayloadSHA] = true
		}
	}
	for _, op := range ops {
		if op.PayloadSHA != "" && !live[op.PayloadSHA] {
			s.store.RemoveContent(op.PayloadSHA)
		}
	}
	return len(ops), nil
}

// Count returns the number of staged changes in the queue.
func (s *stagingArea) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Size returns the total size of staged payloads in bytes.
func (s *stagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ContentSize()
}
