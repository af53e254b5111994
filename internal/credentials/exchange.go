package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"cmslake/internal/lake"
)

// ExchangeRequest carries an OAuth token to trade for a session token.
type ExchangeRequest struct {
	OAuthToken string
	Provider   string
	ProxyURL   string
}

// UserID accepts numeric and string ids from the identity provider.
type UserID string

func (id *UserID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id is neither string nor number: %s", b)
	}
	*id = UserID(n.String())
	return nil
}

// User is the identity the signing service resolved the OAuth token to.
type User struct {
	ID        UserID `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ExchangeResult is the session issued by the signing service. ExpiresIn is
// in seconds.
type ExchangeResult struct {
	SessionToken string `json:"sessionToken"`
	User         *User  `json:"user"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// ExchangeToken trades an OAuth token for a session token. Input is validated
// before any request is made.
func ExchangeToken(ctx context.Context, client *http.Client, req ExchangeRequest) (*ExchangeResult, error) {
	if strings.TrimSpace(req.OAuthToken) == "" {
		return nil, &lake.ValidationError{Field: "oauth_token", Message: "oauth token is empty"}
	}
	switch req.Provider {
	case "github", "gitlab":
	default:
		return nil, &lake.ValidationError{Field: "provider", Message: fmt.Sprintf("unsupported provider %q (want github or gitlab)", req.Provider)}
	}
	if req.ProxyURL == "" {
		return nil, &lake.ValidationError{Field: "proxy_url", Message: "signing service URL is empty"}
	}
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(map[string]string{"token": req.OAuthToken, "provider": req.Provider})
	if err != nil {
		return nil, fmt.Errorf("encoding token exchange: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(req.ProxyURL, "/")+"/token-exchange", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building token exchange: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling token-exchange: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("token-exchange", resp); err != nil {
		return nil, err
	}

	var out ExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &lake.ProtocolError{Op: "token-exchange", Message: "decoding response", Err: err}
	}
	if out.SessionToken == "" {
		return nil, &lake.ProtocolError{Op: "token-exchange", Message: "response has no sessionToken"}
	}
	if out.User == nil {
		return nil, &lake.ProtocolError{Op: "token-exchange", Message: "response has no user"}
	}
	return &out, nil
}
