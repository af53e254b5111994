// Package database maps the lake entries and assets tables, held in the
// embedded engine under the lake namespace, to domain records.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cmslake/internal/engine"
	"cmslake/internal/lake"
)

// Connector hands out the engine connection. *engine.Manager implements it.
type Connector interface {
	Connection(ctx context.Context) (*engine.Conn, error)
}

var _ Connector = (*engine.Manager)(nil)

// OpenConnection opens a second handle directly on the catalog database, the
// way migrations need it. dsn is a file path or a shared-cache memory URI.
func OpenConnection(dsn string) (*sql.DB, error) {
	db, err := sql.Open(engine.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// run executes fn on the engine worker. Failures that are not already
// domain errors come back as a QueryError tagged with op.
func run(ctx context.Context, c Connector, op string, fn func(db *sql.DB) error) error {
	conn, err := c.Connection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Do(ctx, fn); err != nil {
		var (
			nf  *lake.NotFoundError
			ve  *lake.ValidationError
			lce *lake.LifecycleError
		)
		if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &lce) {
			return err
		}
		return &lake.QueryError{Op: op, Err: err}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
