package credentials

import (
	"context"
	"sync"
	"time"
)

// CachedURL is a previously issued signed URL.
type CachedURL struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// URLStore keeps signed GET URLs keyed by object path.
type URLStore interface {
	Get(ctx context.Context, path string) (CachedURL, bool, error)
	Put(ctx context.Context, u CachedURL) error
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// MemoryStore is the default process-local URLStore.
type MemoryStore struct {
	mu   sync.RWMutex
	urls map[string]CachedURL
}

var _ URLStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{urls: make(map[string]CachedURL)}
}

func (s *MemoryStore) Get(_ context.Context, path string) (CachedURL, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.urls[path]
	return u, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, u CachedURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[u.Path] = u
	return nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls), nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = make(map[string]CachedURL)
	return nil
}
