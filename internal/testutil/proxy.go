package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeSigningProxy is an in-process signing service. It answers /presign,
// /presign-batch and /token-exchange, and serves the signed URLs it hands
// out from an in-memory object store under /objects/.
type FakeSigningProxy struct {
	Server *httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	objects   map[string][]byte
	batches   [][]string
	status    int
	expiresIn int64
	session   string
	exchange  map[string]any
	seq       int
}

// NewFakeSigningProxy starts a proxy that accepts any bearer token and
// issues URLs valid for one hour. It is closed when the test completes.
func NewFakeSigningProxy(t *testing.T) *FakeSigningProxy {
	t.Helper()
	p := &FakeSigningProxy{
		calls:     make(map[string]int),
		objects:   make(map[string][]byte),
		expiresIn: 3600,
		session:   "session-token",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /presign", p.handlePresign)
	mux.HandleFunc("POST /presign-batch", p.handleBatch)
	mux.HandleFunc("POST /token-exchange", p.handleExchange)
	mux.HandleFunc("/objects/", p.handleObject)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the proxy base URL.
func (p *FakeSigningProxy) URL() string { return p.Server.URL }

// Client returns an HTTP client for the proxy.
func (p *FakeSigningProxy) Client() *http.Client { return p.Server.Client() }

// Calls returns how many requests hit key: "presign:GET", "presign:PUT",
// "presign-batch", "token-exchange", "object:PUT", "object:GET".
func (p *FakeSigningProxy) Calls(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

// SetStatus makes every authenticated endpoint reply with code (0 restores
// normal behavior).
func (p *FakeSigningProxy) SetStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = code
}

// SetExpiresIn changes the lifetime, in seconds, reported for new URLs.
func (p *FakeSigningProxy) SetExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// SetExchangeResponse overrides the /token-exchange reply body.
func (p *FakeSigningProxy) SetExchangeResponse(body map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchange = body
}

// Object returns the bytes stored at an object key.
func (p *FakeSigningProxy) Object(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.objects[key]
	return b, ok
}

// PutObject seeds an object.
func (p *FakeSigningProxy) PutObject(key string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = append([]byte(nil), data...)
}

// Batches returns the path lists received by /presign-batch.
func (p *FakeSigningProxy) Batches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.batches...)
}

func (p *FakeSigningProxy) authorize(w http.ResponseWriter, r *http.Request) bool {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return false
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return false
	}
	return true
}

func (p *FakeSigningProxy) signedURL(key, op string) string {
	p.seq++
	return fmt.Sprintf("%s/objects/%s?op=%s&sig=%d", p.Server.URL, key, op, p.seq)
}

func (p *FakeSigningProxy) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider"`
		Operation   string `json:"operation"`
		Path        string `json:"path"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.calls["presign:"+req.Operation]++
	p.mu.Unlock()
	if !p.authorize(w, r) {
		return
	}

	p.mu.Lock()
	body := map[string]any{
		"url":       p.signedURL(req.Path, req.Operation),
		"expiresIn": p.expiresIn,
		"path":      req.Path,
		"operation": req.Operation,
	}
	p.mu.Unlock()
	writeJSON(w, body)
}

func (p *FakeSigningProxy) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths     []string `json:"paths"`
		Operation string   `json:"operation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.calls["presign-batch"]++
	p.batches = append(p.batches, req.Paths)
	p.mu.Unlock()
	if !p.authorize(w, r) {
		return
	}

	p.mu.Lock()
	urls := make(map[string]string, len(req.Paths))
	for _, path := range req.Paths {
		urls[path] = p.signedURL(path, req.Operation)
	}
	body := map[string]any{"urls": urls, "expiresIn": p.expiresIn}
	p.mu.Unlock()
	writeJSON(w, body)
}

func (p *FakeSigningProxy) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.calls["token-exchange"]++
	status, override, session, expires := p.status, p.exchange, p.session, p.expiresIn
	p.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if override != nil {
		writeJSON(w, override)
		return
	}
	writeJSON(w, map[string]any{
		"sessionToken": session,
		"expiresIn":    expires,
		"user": map[string]any{
			"id":    42,
			"login": "editor",
			"name":  "Site Editor",
		},
	})
}

// handleObject serves signed object URLs. HEAD is refused the way GET-scoped
// signatures refuse it.
func (p *FakeSigningProxy) handleObject(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/objects/")
	p.mu.Lock()
	p.calls["object:"+r.Method]++
	p.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.PutObject(key, data)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := p.Object(key)
		if !ok {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		if r.Header.Get("Range") == "bytes=0-0" && len(data) > 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(data)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[:1])
			return
		}
		w.Write(data)
	case http.MethodDelete:
		p.mu.Lock()
		delete(p.objects, key)
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "signature does not match", http.StatusForbidden)
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
