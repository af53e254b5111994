// Package credentials manages the session token and the cache of signed,
// time-limited object URLs.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cmslake/internal/lake"
	"cmslake/internal/metrics"
)

// DefaultRefreshBuffer is how long before expiry a cached URL stops being
// served.
const DefaultRefreshBuffer = 60 * time.Second

// CacheState is a snapshot of the cache for status output.
type CacheState struct {
	Size          int
	ExpiresIn     time.Duration
	Configured    bool
	Authenticated bool
}

// Cache holds the session token and the signed URL cache. Only GET URLs are
// cached; write URLs are signed fresh on every call.
type Cache struct {
	mu           sync.Mutex
	issuer       Issuer
	provider     string
	token        string
	tokenExpires time.Time
	generation   uint64

	store   URLStore
	clock   lake.Clock
	client  *http.Client
	ids     lake.IDGenerator
	logger  lake.Logger
	metrics *metrics.Recorder
	buffer  time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore replaces the default in-memory URL store.
func WithStore(s URLStore) Option {
	return func(c *Cache) { c.store = s }
}

func WithClock(clk lake.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Cache) { c.client = h }
}

func WithIDGenerator(g lake.IDGenerator) Option {
	return func(c *Cache) { c.ids = g }
}

func WithLogger(l lake.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Cache) { c.metrics = r }
}

// WithRefreshBuffer sets how long before expiry cached URLs are re-signed.
func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Cache) { c.buffer = d }
}

// NewCache creates an unconfigured cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		store:  NewMemoryStore(),
		clock:  lake.RealClock{},
		client: http.DefaultClient,
		ids:    lake.UUIDGenerator{},
		logger: lake.NewNopLogger(),
		buffer: DefaultRefreshBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure points the cache at a signing service. The last call wins.
func (c *Cache) Configure(proxyURL, provider string) error {
	if proxyURL == "" {
		return &lake.ConfigError{Field: "credential_proxy_url", Message: "signing service URL is empty"}
	}
	if provider == "" {
		return &lake.ConfigError{Field: "storage_provider", Message: "storage provider is empty"}
	}
	return c.ConfigureIssuer(NewProxyIssuer(proxyURL, c.client, c.ids), provider)
}

// ConfigureIssuer installs an issuer other than the signing service proxy.
func (c *Cache) ConfigureIssuer(issuer Issuer, provider string) error {
	if issuer == nil {
		return &lake.ConfigError{Field: "issuer", Message: "issuer is nil"}
	}
	if provider == "" {
		return &lake.ConfigError{Field: "storage_provider", Message: "storage provider is empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issuer = issuer
	c.provider = provider
	return nil
}

// SetSessionToken stores the bearer token used for signing requests.
func (c *Cache) SetSessionToken(token string) error {
	return c.SetSession(token, time.Time{})
}

// SetSession stores the bearer token with its expiry (zero for unknown).
func (c *Cache) SetSession(token string, expiresAt time.Time) error {
	if token == "" {
		return &lake.ValidationError{Field: "token", Message: "session token is empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.tokenExpires = expiresAt
	return nil
}

// Token returns the current session token and its expiry.
func (c *Cache) Token() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.tokenExpires
}

// ClearCredentials wipes the token and every cached URL.
func (c *Cache) ClearCredentials(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.tokenExpires = time.Time{}
	c.generation++
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing url cache: %w", err)
	}
	return nil
}

// State reports cache size, remaining session lifetime and the lifecycle
// state.
func (c *Cache) State(ctx context.Context) CacheState {
	c.mu.Lock()
	st := CacheState{
		Configured:    c.issuer != nil,
		Authenticated: c.issuer != nil && (c.token != "" || !c.issuer.RequiresSession()),
	}
	if c.token != "" && !c.tokenExpires.IsZero() {
		if remaining := c.tokenExpires.Sub(c.clock.Now()); remaining > 0 {
			st.ExpiresIn = remaining
		}
	}
	c.mu.Unlock()

	n, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warn("counting cached urls", "error", err)
		n = 0
	}
	st.Size = n
	return st
}

type session struct {
	issuer     Issuer
	provider   string
	token      string
	generation uint64
}

// session checks the lifecycle state and snapshots what a signing call needs.
func (c *Cache) session() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.issuer == nil {
		return session{}, &lake.ConfigError{Field: "credential_proxy_url", Message: "signing service is not configured"}
	}
	if c.issuer.RequiresSession() && c.token == "" {
		return session{}, &lake.AuthenticationError{Op: "sign", Err: errors.New("no session token, sign in first")}
	}
	return session{issuer: c.issuer, provider: c.provider, token: c.token, generation: c.generation}, nil
}

// SignedURL returns a URL granting op on path. GET URLs come from the cache
// while they are still valid for longer than the refresh buffer.
func (c *Cache) SignedURL(ctx context.Context, path string, op Operation, contentType string) (string, error) {
	if path == "" {
		return "", &lake.ValidationError{Field: "path", Message: "path is empty"}
	}
	op, err := ParseOperation(string(op))
	if err != nil {
		return "", err
	}
	s, err := c.session()
	if err != nil {
		return "", err
	}

	if op == OpGet {
		if u, ok := c.lookup(ctx, path); ok {
			return u, nil
		}
	}

	c.metrics.IncSignRequest(string(op))
	resp, err := s.issuer.Presign(ctx, s.token, PresignRequest{
		Provider:    s.provider,
		Operation:   op,
		Path:        path,
		ContentType: contentType,
	})
	if err != nil {
		return "", c.failed(ctx, fmt.Sprintf("signing %s %s", op, path), err)
	}

	if op == OpGet {
		now := c.clock.Now()
		c.remember(ctx, s.generation, CachedURL{
			Path:      path,
			URL:       resp.URL,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		})
	}
	return resp.URL, nil
}

// SignedURLs returns GET URLs for every non-empty path, signing only those
// not already cached.
func (c *Cache) SignedURLs(ctx context.Context, paths []string) (map[string]string, error) {
	wanted := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		wanted = append(wanted, p)
	}
	if len(wanted) == 0 {
		return nil, &lake.ValidationError{Field: "paths", Message: "no valid paths"}
	}
	s, err := c.session()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(wanted))
	var misses []string
	for _, p := range wanted {
		if u, ok := c.lookup(ctx, p); ok {
			out[p] = u
			continue
		}
		misses = append(misses, p)
	}
	if len(misses) == 0 {
		return out, nil
	}

	c.metrics.IncSignRequest("GET_BATCH")
	resp, err := s.issuer.PresignBatch(ctx, s.token, BatchRequest{Provider: s.provider, Paths: misses, Operation: OpGet})
	if err != nil {
		return nil, c.failed(ctx, fmt.Sprintf("signing %d paths", len(misses)), err)
	}

	now := c.clock.Now()
	expires := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	for _, p := range misses {
		u, ok := resp.URLs[p]
		if !ok || u == "" {
			return nil, &lake.ProtocolError{Op: "presign-batch", Message: fmt.Sprintf("response has no url for %s", p)}
		}
		out[p] = u
		c.remember(ctx, s.generation, CachedURL{Path: p, URL: u, IssuedAt: now, ExpiresAt: expires})
	}
	return out, nil
}

func (c *Cache) lookup(ctx context.Context, path string) (string, bool) {
	u, ok, err := c.store.Get(ctx, path)
	if err != nil {
		c.logger.Warn("reading url cache", "path", path, "error", err)
		ok = false
	}
	if ok && c.clock.Now().Before(u.ExpiresAt.Add(-c.buffer)) {
		c.metrics.IncURLCache(true)
		return u.URL, true
	}
	c.metrics.IncURLCache(false)
	return "", false
}

// remember caches u unless the credentials were cleared while it was being
// signed.
func (c *Cache) remember(ctx context.Context, generation uint64, u CachedURL) {
	c.mu.Lock()
	stale := generation != c.generation
	c.mu.Unlock()
	if stale {
		return
	}
	if err := c.store.Put(ctx, u); err != nil {
		c.logger.Warn("writing url cache", "path", u.Path, "error", err)
	}
}

// failed wipes all credentials when the issuer rejected the session.
func (c *Cache) failed(ctx context.Context, what string, err error) error {
	var authErr *lake.AuthenticationError
	if errors.As(err, &authErr) {
		c.metrics.IncAuthFailure()
		c.logger.Warn("signing service rejected session, clearing credentials", "status", authErr.Status)
		if clearErr := c.ClearCredentials(ctx); clearErr != nil {
			c.logger.Error("clearing credentials after auth failure", "error", clearErr)
		}
		return err
	}
	return fmt.Errorf("%s: %w", what, err)
}
