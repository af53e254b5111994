package credentials

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmslake/internal/lake"
	"cmslake/internal/testutil"
)

func TestExchangeToken(t *testing.T) {
	ctx := context.Background()

	t.Run("returns session and user", func(t *testing.T) {
		proxy := testutil.NewFakeSigningProxy(t)
		res, err := ExchangeToken(ctx, proxy.Client(), ExchangeRequest{OAuthToken: "gho_abc", Provider: "github", ProxyURL: proxy.URL()})
		require.NoError(t, err)

		assert.Equal(t, "session-token", res.SessionToken)
		assert.Equal(t, UserID("42"), res.User.ID)
		assert.Equal(t, "editor", res.User.Login)
		assert.Equal(t, int64(3600), res.ExpiresIn)
	})

	t.Run("validation happens before any request", func(t *testing.T) {
		proxy := testutil.NewFakeSigningProxy(t)
		bad := []ExchangeRequest{
			{OAuthToken: "tok", Provider: "bitbucket", ProxyURL: proxy.URL()},
			{OAuthToken: "", Provider: "github", ProxyURL: proxy.URL()},
			{OAuthToken: "  ", Provider: "gitlab", ProxyURL: proxy.URL()},
			{OAuthToken: "tok", Provider: "gitlab", ProxyURL: ""},
		}
		for _, req := range bad {
			_, err := ExchangeToken(ctx, proxy.Client(), req)
			var vErr *lake.ValidationError
			require.ErrorAs(t, err, &vErr, "request %+v", req)
		}
		assert.Equal(t, 0, proxy.Calls("token-exchange"))
	})

	t.Run("missing session token", func(t *testing.T) {
		proxy := testutil.NewFakeSigningProxy(t)
		proxy.SetExchangeResponse(map[string]any{"user": map[string]any{"id": "u1", "login": "x"}})

		_, err := ExchangeToken(ctx, proxy.Client(), ExchangeRequest{OAuthToken: "t", Provider: "gitlab", ProxyURL: proxy.URL()})
		var pErr *lake.ProtocolError
		require.ErrorAs(t, err, &pErr)
	})

	t.Run("missing user", func(t *testing.T) {
		proxy := testutil.NewFakeSigningProxy(t)
		proxy.SetExchangeResponse(map[string]any{"sessionToken": "s"})

		_, err := ExchangeToken(ctx, proxy.Client(), ExchangeRequest{OAuthToken: "t", Provider: "github", ProxyURL: proxy.URL()})
		var pErr *lake.ProtocolError
		require.ErrorAs(t, err, &pErr)
	})

	t.Run("rejected token", func(t *testing.T) {
		proxy := testutil.NewFakeSigningProxy(t)
		proxy.SetStatus(http.StatusUnauthorized)

		_, err := ExchangeToken(ctx, proxy.Client(), ExchangeRequest{OAuthToken: "t", Provider: "github", ProxyURL: proxy.URL()})
		var authErr *lake.AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestUserID_AcceptsStringAndNumber(t *testing.T) {
	var id UserID
	require.NoError(t, id.UnmarshalJSON([]byte(`"abc"`)))
	assert.Equal(t, UserID("abc"), id)
	require.NoError(t, id.UnmarshalJSON([]byte(`12345678901`)))
	assert.Equal(t, UserID("12345678901"), id)
	require.Error(t, id.UnmarshalJSON([]byte(`{}`)))
}
