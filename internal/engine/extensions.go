package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type extension struct {
	name string
	load func(ctx context.Context, c *Conn) error
}

// requiredExtensions are loaded once per engine, in order.
var requiredExtensions = []extension{
	{name: "catalog", load: loadCatalog},
	{name: "httpfs", load: loadHTTPFS},
}

// catalogDSN names the catalog database. A memory catalog is a named
// shared-cache database so migrations can reach it through a second handle.
func catalogDSN(opts Options, instanceID string) string {
	if opts.CatalogType == CatalogSQLite && opts.CatalogPath != "" {
		return opts.CatalogPath
	}
	return fmt.Sprintf("file:cmslake-%s?mode=memory&cache=shared", instanceID)
}

func loadCatalog(ctx context.Context, c *Conn) error {
	if !strings.HasPrefix(c.catalog, "file:") {
		dir := filepath.Dir(c.catalog)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating catalog directory: %w", err)
		}
	}
	return c.Do(ctx, func(db *sql.DB) error {
		return AttachCatalog(ctx, db, c.catalog)
	})
}

// AttachCatalog attaches the catalog database under the lake namespace
// unless it already is.
func AttachCatalog(ctx context.Context, db *sql.DB, dsn string) error {
	attached, err := isAttached(ctx, db, Namespace)
	if err != nil {
		return err
	}
	if attached {
		return nil
	}
	if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+Namespace, dsn); err != nil {
		return fmt.Errorf("attaching catalog: %w", err)
	}
	return nil
}

func isAttached(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT count(*) FROM pragma_database_list WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("listing attached databases: %w", err)
	}
	return n > 0, nil
}

func loadHTTPFS(_ context.Context, c *Conn) error {
	if c.client == nil {
		return fmt.Errorf("no http client")
	}
	c.mu.Lock()
	c.remote = true
	c.mu.Unlock()
	return nil
}
