package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmslake/internal/lake"
	"cmslake/internal/testutil"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *testutil.FakeSigningProxy, *testutil.StubClock) {
	t.Helper()
	proxy := testutil.NewFakeSigningProxy(t)
	clock := testutil.FixedClock()
	all := append([]Option{WithClock(clock), WithHTTPClient(proxy.Client()), WithIDGenerator(testutil.NewStubIDGenerator())}, opts...)
	c := NewCache(all...)
	require.NoError(t, c.Configure(proxy.URL(), "s3"))
	require.NoError(t, c.SetSessionToken("session-token"))
	return c, proxy, clock
}

func TestSignedURL_GETIsCachedWithinWindow(t *testing.T) {
	c, proxy, clock := newTestCache(t)
	ctx := context.Background()

	first, err := c.SignedURL(ctx, "cms/data/entries.parquet", OpGet, "")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	second, err := c.SignedURL(ctx, "cms/data/entries.parquet", OpGet, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, proxy.Calls("presign:GET"))
	assert.Equal(t, 1, c.State(ctx).Size)
}

func TestSignedURL_GETRefreshesInsideBuffer(t *testing.T) {
	c, proxy, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.SignedURL(ctx, "a.parquet", OpGet, "")
	require.NoError(t, err)

	// one hour lifetime, 60s buffer: at 59m01s the URL is no longer served
	clock.Advance(59*time.Minute + time.Second)
	_, err = c.SignedURL(ctx, "a.parquet", OpGet, "")
	require.NoError(t, err)
	assert.Equal(t, 2, proxy.Calls("presign:GET"))
}

func TestSignedURL_WritesAreNeverCached(t *testing.T) {
	c, proxy, _ := newTestCache(t)
	ctx := context.Background()

	for _, op := range []Operation{OpPut, OpPut, OpDelete, OpDelete} {
		_, err := c.SignedURL(ctx, "cms/data/entries.parquet", op, "application/octet-stream")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, proxy.Calls("presign:PUT"))
	assert.Equal(t, 2, proxy.Calls("presign:DELETE"))
	assert.Equal(t, 0, c.State(ctx).Size)
}

func TestSignedURL_AuthFailureClearsEverything(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			c, proxy, _ := newTestCache(t)
			ctx := context.Background()

			_, err := c.SignedURL(ctx, "cached.parquet", OpGet, "")
			require.NoError(t, err)
			require.Equal(t, 1, c.State(ctx).Size)

			proxy.SetStatus(status)
			_, err = c.SignedURL(ctx, "other.parquet", OpGet, "")

			var authErr *lake.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, status, authErr.Status)

			st := c.State(ctx)
			assert.Equal(t, 0, st.Size)
			assert.Equal(t, time.Duration(0), st.ExpiresIn)
			assert.False(t, st.Authenticated)
			assert.True(t, st.Configured)

			token, _ := c.Token()
			assert.Empty(t, token)
		})
	}
}

func TestSignedURL_StateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("unconfigured", func(t *testing.T) {
		c := NewCache()
		_, err := c.SignedURL(ctx, "a", OpGet, "")
		var cfgErr *lake.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("configured without session", func(t *testing.T) {
		proxy := testutil.NewFakeSigningProxy(t)
		c := NewCache(WithHTTPClient(proxy.Client()))
		require.NoError(t, c.Configure(proxy.URL(), "s3"))

		_, err := c.SignedURL(ctx, "a", OpGet, "")
		var authErr *lake.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 0, proxy.Calls("presign:GET"))
	})

	t.Run("validation precedes state checks", func(t *testing.T) {
		c := NewCache()
		_, err := c.SignedURL(ctx, "", OpGet, "")
		var vErr *lake.ValidationError
		require.ErrorAs(t, err, &vErr)

		_, err = c.SignedURL(ctx, "a", Operation("PATCH"), "")
		require.ErrorAs(t, err, &vErr)
	})
}

func TestConfigure(t *testing.T) {
	c := NewCache()
	var cfgErr *lake.ConfigError

	require.ErrorAs(t, c.Configure("", "s3"), &cfgErr)
	require.ErrorAs(t, c.Configure("https://sign.example.com", ""), &cfgErr)
	require.NoError(t, c.Configure("https://one.example.com", "s3"))
	require.NoError(t, c.Configure("https://two.example.com", "gcs"))

	assert.Equal(t, "gcs", c.provider)
	assert.Equal(t, "https://two.example.com", c.issuer.(*ProxyIssuer).baseURL)
}

func TestSetSessionToken_RejectsEmpty(t *testing.T) {
	c := NewCache()
	var vErr *lake.ValidationError
	require.ErrorAs(t, c.SetSessionToken(""), &vErr)
}

func TestClearCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("on empty cache", func(t *testing.T) {
		c := NewCache()
		require.NoError(t, c.ClearCredentials(ctx))
		st := c.State(ctx)
		assert.Equal(t, 0, st.Size)
		assert.Equal(t, time.Duration(0), st.ExpiresIn)
	})

	t.Run("after use", func(t *testing.T) {
		c, _, clock := newTestCache(t)
		require.NoError(t, c.SetSession("session-token", clock.Now().Add(time.Hour)))
		_, err := c.SignedURLs(ctx, []string{"a", "b"})
		require.NoError(t, err)
		require.Equal(t, time.Hour, c.State(ctx).ExpiresIn)

		require.NoError(t, c.ClearCredentials(ctx))
		st := c.State(ctx)
		assert.Equal(t, 0, st.Size)
		assert.Equal(t, time.Duration(0), st.ExpiresIn)
	})
}

func TestSignedURLs(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches only misses", func(t *testing.T) {
		c, proxy, _ := newTestCache(t)

		_, err := c.SignedURL(ctx, "a", OpGet, "")
		require.NoError(t, err)

		urls, err := c.SignedURLs(ctx, []string{"a", "", "b", "c", "b"})
		require.NoError(t, err)

		assert.Len(t, urls, 3)
		for _, p := range []string{"a", "b", "c"} {
			assert.True(t, strings.Contains(urls[p], "/objects/"+p+"?"), "url for %s = %s", p, urls[p])
		}
		require.Len(t, proxy.Batches(), 1)
		assert.Equal(t, []string{"b", "c"}, proxy.Batches()[0])
		assert.Equal(t, 3, c.State(ctx).Size)
	})

	t.Run("all cached makes no call", func(t *testing.T) {
		c, proxy, _ := newTestCache(t)
		_, err := c.SignedURLs(ctx, []string{"a", "b"})
		require.NoError(t, err)
		_, err = c.SignedURLs(ctx, []string{"b", "a"})
		require.NoError(t, err)
		assert.Equal(t, 1, proxy.Calls("presign-batch"))
	})

	t.Run("empty after filtering", func(t *testing.T) {
		c, proxy, _ := newTestCache(t)
		_, err := c.SignedURLs(ctx, []string{"", ""})
		var vErr *lake.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, 0, proxy.Calls("presign-batch"))
	})

	t.Run("auth failure clears cache", func(t *testing.T) {
		c, proxy, _ := newTestCache(t)
		_, err := c.SignedURLs(ctx, []string{"a"})
		require.NoError(t, err)

		proxy.SetStatus(http.StatusUnauthorized)
		_, err = c.SignedURLs(ctx, []string{"b"})
		var authErr *lake.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 0, c.State(ctx).Size)
	})
}

func TestRedisStore_SharedBetweenCaches(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	newStore := func() *RedisStore {
		s, err := NewRedisStore(RedisConfig{Addr: mini.Addr(), Prefix: "test"})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}

	proxy := testutil.NewFakeSigningProxy(t)
	clock := testutil.FixedClock()
	build := func() *Cache {
		c := NewCache(WithStore(newStore()), WithClock(clock), WithHTTPClient(proxy.Client()))
		require.NoError(t, c.Configure(proxy.URL(), "s3"))
		require.NoError(t, c.SetSessionToken("tok"))
		return c
	}
	ctx := context.Background()
	a, b := build(), build()

	first, err := a.SignedURL(ctx, "cms/data/assets.parquet", OpGet, "")
	require.NoError(t, err)
	second, err := b.SignedURL(ctx, "cms/data/assets.parquet", OpGet, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, proxy.Calls("presign:GET"))
	assert.True(t, mini.Exists("test:signed-urls"))

	require.NoError(t, b.ClearCredentials(ctx))
	assert.Equal(t, 0, a.State(ctx).Size)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	addr := mini.Addr()
	mini.Close()

	_, err = NewRedisStore(RedisConfig{Addr: addr})
	require.Error(t, err)
}

func TestProxyIssuer_UnexpectedStatus(t *testing.T) {
	srv := testutil.NewFakeSigningProxy(t)
	issuer := NewProxyIssuer(srv.URL()+"/missing", srv.Client(), nil)

	_, err := issuer.Presign(context.Background(), "tok", PresignRequest{Provider: "s3", Operation: OpGet, Path: "a"})
	require.Error(t, err)
	var pErr *lake.ProtocolError
	assert.False(t, errors.As(err, &pErr))
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestProxyIssuer_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"missing url", `{"expiresIn":60}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Request-Id") == "" {
					t.Errorf("request without X-Request-Id")
				}
				w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			issuer := NewProxyIssuer(srv.URL, srv.Client(), testutil.NewStubIDGenerator())
			_, err := issuer.Presign(context.Background(), "tok", PresignRequest{Provider: "s3", Operation: OpGet, Path: "a"})
			var pErr *lake.ProtocolError
			require.ErrorAs(t, err, &pErr)
		})
	}
}

func TestState_SessionLifetimeFollowsClock(t *testing.T) {
	ctx := context.Background()
	ids := testutil.NewPrefixedIDGenerator("req")
	c, _, clock := newTestCache(t, WithIDGenerator(ids))

	expires := testutil.CommitTime.Add(time.Hour)
	require.NoError(t, c.SetSession("session-token", expires))
	assert.Equal(t, time.Hour, c.State(ctx).ExpiresIn)

	_, err := c.SignedURL(ctx, "a.parquet", OpGet, "")
	require.NoError(t, err)
	assert.Equal(t, 1, ids.Issued())

	clock.Set(expires.Add(time.Second))
	assert.Equal(t, time.Duration(0), c.State(ctx).ExpiresIn)

	clock.Set(expires.Add(-10 * time.Minute))
	assert.Equal(t, 10*time.Minute, c.State(ctx).ExpiresIn)
}
