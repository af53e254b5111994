package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cmslake/internal/credentials"
	"cmslake/internal/lake"
)

// Signer issues signed object URLs. *credentials.Cache implements it.
type Signer interface {
	SignedURL(ctx context.Context, path string, op credentials.Operation, contentType string) (string, error)
}

var _ Signer = (*credentials.Cache)(nil)

// sessionCheckKey is signed by ValidateSetup to prove the session works.
const sessionCheckKey = ".cmslake-check"

// SignedVault moves objects over plain HTTP using URLs from the signing
// service. Every write is signed fresh; reads reuse cached GET URLs.
type SignedVault struct {
	signer Signer
	client *http.Client
}

func NewSignedVault(signer Signer, client *http.Client) *SignedVault {
	if client == nil {
		client = http.DefaultClient
	}
	return &SignedVault{signer: signer, client: client}
}

// Put uploads the object with a signed PUT and returns the URL without its
// signing parameters.
func (v *SignedVault) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	signed, err := v.signer.SignedURL(ctx, key, credentials.OpPut, contentType)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signed, r)
	if err != nil {
		return "", fmt.Errorf("building upload of %s: %w", key, err)
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("uploading %s: unexpected status %d", key, resp.StatusCode)
	}
	return stripQuery(signed), nil
}

func (v *SignedVault) Get(ctx context.Context, key string, w io.Writer) error {
	signed, err := v.signer.SignedURL(ctx, key, credentials.OpGet, "")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return fmt.Errorf("building download of %s: %w", key, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &lake.NotFoundError{Kind: "object", ID: key}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("downloading %s: unexpected status %d", key, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	return nil
}

// Exists checks with a one-byte ranged GET; GET-signed URLs refuse HEAD.
func (v *SignedVault) Exists(ctx context.Context, key string) bool {
	signed, err := v.signer.SignedURL(ctx, key, credentials.OpGet, "")
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}

// ValidateSetup signs a check URL, which fails unless the signing service is
// configured and the session is accepted.
func (v *SignedVault) ValidateSetup(ctx context.Context) error {
	if v.signer == nil {
		return &lake.ConfigError{Field: "vault", Message: "signed vault has no signer"}
	}
	if _, err := v.signer.SignedURL(ctx, sessionCheckKey, credentials.OpGet, ""); err != nil {
		return fmt.Errorf("validating signed vault: %w", err)
	}
	return nil
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

var _ lake.Vault = (*SignedVault)(nil)
