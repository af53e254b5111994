package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cmslake/internal/lake"
)

// Operation is the object operation a signed URL grants.
type Operation string

const (
	OpGet    Operation = "GET"
	OpPut    Operation = "PUT"
	OpDelete Operation = "DELETE"
)

// ParseOperation normalizes and validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToUpper(s)); op {
	case OpGet, OpPut, OpDelete:
		return op, nil
	}
	return "", &lake.ValidationError{Field: "operation", Message: fmt.Sprintf("unsupported operation %q", s)}
}

// PresignRequest is the body of POST /presign.
type PresignRequest struct {
	Provider    string    `json:"provider"`
	Operation   Operation `json:"operation"`
	Path        string    `json:"path"`
	ContentType string    `json:"contentType,omitempty"`
}

// PresignResponse is the reply to POST /presign. ExpiresIn is in seconds.
type PresignResponse struct {
	URL       string    `json:"url"`
	ExpiresIn int64     `json:"expiresIn"`
	Path      string    `json:"path"`
	Operation Operation `json:"operation"`
}

// BatchRequest is the body of POST /presign-batch. Only GET is batched.
type BatchRequest struct {
	Provider  string    `json:"provider"`
	Paths     []string  `json:"paths"`
	Operation Operation `json:"operation"`
}

// BatchResponse maps each requested path to its signed URL.
type BatchResponse struct {
	URLs      map[string]string `json:"urls"`
	ExpiresIn int64             `json:"expiresIn"`
}

// Issuer produces signed URLs.
type Issuer interface {
	Presign(ctx context.Context, token string, req PresignRequest) (*PresignResponse, error)
	PresignBatch(ctx context.Context, token string, req BatchRequest) (*BatchResponse, error)

	// RequiresSession reports whether calls need a session token.
	RequiresSession() bool
}

// ProxyIssuer asks the remote signing service for URLs, authenticating with
// the session bearer token.
type ProxyIssuer struct {
	baseURL string
	client  *http.Client
	ids     lake.IDGenerator
}

var _ Issuer = (*ProxyIssuer)(nil)

func NewProxyIssuer(baseURL string, client *http.Client, ids lake.IDGenerator) *ProxyIssuer {
	if client == nil {
		client = http.DefaultClient
	}
	if ids == nil {
		ids = lake.UUIDGenerator{}
	}
	return &ProxyIssuer{baseURL: strings.TrimSuffix(baseURL, "/"), client: client, ids: ids}
}

func (p *ProxyIssuer) RequiresSession() bool { return true }

func (p *ProxyIssuer) Presign(ctx context.Context, token string, req PresignRequest) (*PresignResponse, error) {
	var resp PresignResponse
	if err := p.post(ctx, "presign", token, req, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, &lake.ProtocolError{Op: "presign", Message: fmt.Sprintf("response for %s has no url", req.Path)}
	}
	return &resp, nil
}

func (p *ProxyIssuer) PresignBatch(ctx context.Context, token string, req BatchRequest) (*BatchResponse, error) {
	var resp BatchResponse
	if err := p.post(ctx, "presign-batch", token, req, &resp); err != nil {
		return nil, err
	}
	if resp.URLs == nil {
		return nil, &lake.ProtocolError{Op: "presign-batch", Message: "response has no urls"}
	}
	return &resp, nil
}

func (p *ProxyIssuer) post(ctx context.Context, endpoint, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", p.ids.New())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(endpoint, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &lake.ProtocolError{Op: endpoint, Message: "decoding response", Err: err}
	}
	return nil
}

// checkStatus maps 401/403 to AuthenticationError and other failures to a
// wrapped error carrying the start of the body.
func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &lake.AuthenticationError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
