package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cmslake/internal/lake"
)

// Namespace is the schema every table lives under.
const Namespace = "lake"

// SettingForceDownload makes remote existence checks use a one-byte ranged
// GET instead of HEAD.
const SettingForceDownload = "force_download"

var errConnClosed = errors.New("connection closed")

// Conn is the connection onto the engine. Statements submitted through Do
// run one at a time on the engine worker.
type Conn struct {
	inst    *Instance
	client  *http.Client
	catalog string

	mu       sync.Mutex
	settings map[string]string
	remote   bool
	closed   bool
}

// Do runs fn against the engine on the worker goroutine.
func (c *Conn) Do(ctx context.Context, fn func(db *sql.DB) error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &lake.LifecycleError{Op: "query", Err: errConnClosed}
	}
	return c.inst.worker.submit(ctx, func() error { return fn(c.inst.db) })
}

// InstanceID identifies the engine instance behind the connection.
func (c *Conn) InstanceID() string { return c.inst.ID }

// Catalog returns the data source name of the attached catalog database.
func (c *Conn) Catalog() string { return c.catalog }

// Set stores a connection setting.
func (c *Conn) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[key] = value
}

// Setting returns a connection setting, or "" when unset.
func (c *Conn) Setting(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings[key]
}

// ReadRemote downloads the object at a signed URL.
func (c *Conn) ReadRemote(ctx context.Context, url string) ([]byte, error) {
	if err := c.requireRemote(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building remote read: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reading remote object: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &lake.NotFoundError{Kind: "object", ID: stripQuery(url)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("reading remote object: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading remote object body: %w", err)
	}
	return data, nil
}

// RemoteExists reports whether the object at a signed URL can be read. Any
// failure counts as absent.
func (c *Conn) RemoteExists(ctx context.Context, url string) bool {
	if c.requireRemote() != nil {
		return false
	}
	method := http.MethodHead
	if c.Setting(SettingForceDownload) == "true" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}

func (c *Conn) requireRemote() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &lake.LifecycleError{Op: "remote read", Err: errConnClosed}
	}
	if !c.remote {
		return &lake.LifecycleError{Op: "remote read", Err: errors.New("httpfs extension not loaded")}
	}
	return nil
}

func (c *Conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.inst.worker.submit(ctx, func() error {
		attached, err := isAttached(ctx, c.inst.db, Namespace)
		if err != nil || !attached {
			return err
		}
		_, err = c.inst.db.ExecContext(ctx, "DETACH DATABASE "+Namespace)
		return err
	})
}

func stripQuery(u string) string {
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			return u[:i]
		}
	}
	return u
}
