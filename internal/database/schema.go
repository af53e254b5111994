package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"

	"cmslake/internal/database/migrations"
	"cmslake/internal/engine"
	"cmslake/internal/lake"
)

// Tables in the lake namespace.
const (
	EntriesTable = engine.Namespace + ".entries"
	AssetsTable  = engine.Namespace + ".assets"
)

var indices = []string{
	"CREATE INDEX IF NOT EXISTS lake.idx_entries_entry_id ON entries (entry_id)",
	"CREATE INDEX IF NOT EXISTS lake.idx_entries_path ON entries (path)",
	"CREATE INDEX IF NOT EXISTS lake.idx_entries_collection ON entries (collection)",
	"CREATE INDEX IF NOT EXISTS lake.idx_assets_folder ON assets (folder)",
	"CREATE INDEX IF NOT EXISTS lake.idx_assets_collection ON assets (collection)",
}

// TableStats summarizes both tables.
type TableStats struct {
	EntryRows      int64
	Entries        int64
	Assets         int64
	InlineAssets   int64
	ExternalAssets int64
	InlineBytes    int64
	ExternalBytes  int64
	SchemaVersion  uint
}

// SchemaStore creates, checks and drops the lake schema.
type SchemaStore struct {
	logger lake.Logger
}

func NewSchemaStore(logger lake.Logger) *SchemaStore {
	if logger == nil {
		logger = lake.NewNopLogger()
	}
	return &SchemaStore{logger: logger}
}

// InitializeSchema attaches the lake namespace if needed and migrates both
// tables to the latest version. It is safe to call on every session start.
func (s *SchemaStore) InitializeSchema(ctx context.Context, conn *engine.Conn) error {
	err := conn.Do(ctx, func(db *sql.DB) error {
		if err := engine.AttachCatalog(ctx, db, conn.Catalog()); err != nil {
			return err
		}
		return s.withCatalog(conn, migrations.MigrateUp)
	})
	if err != nil {
		return &lake.SchemaError{Op: "initialize", Err: err}
	}
	s.logger.Debug("schema initialized", "catalog", conn.Catalog())
	return nil
}

// SchemaExists reports whether the namespace and both tables are present.
// Any failure reads as false.
func (s *SchemaStore) SchemaExists(ctx context.Context, conn *engine.Conn) bool {
	exists := false
	err := conn.Do(ctx, func(db *sql.DB) error {
		var attached int
		if err := db.QueryRowContext(ctx, "SELECT count(*) FROM pragma_database_list WHERE name = ?", engine.Namespace).Scan(&attached); err != nil {
			return err
		}
		if attached == 0 {
			return nil
		}
		var tables int
		err := db.QueryRowContext(ctx,
			"SELECT count(*) FROM lake.sqlite_master WHERE type = 'table' AND name IN ('entries', 'assets')").Scan(&tables)
		if err != nil {
			return err
		}
		exists = tables == 2
		return nil
	})
	if err != nil {
		s.logger.Debug("schema check failed", "error", err)
		return false
	}
	return exists
}

// CreateIndices adds the lookup indices used by path and entry id queries.
func (s *SchemaStore) CreateIndices(ctx context.Context, conn *engine.Conn) error {
	err := conn.Do(ctx, func(db *sql.DB) error {
		for _, stmt := range indices {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating index: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return &lake.SchemaError{Op: "create indices", Err: err}
	}
	return nil
}

// DropSchema reverts every migration, dropping both tables and their data.
func (s *SchemaStore) DropSchema(ctx context.Context, conn *engine.Conn) error {
	err := conn.Do(ctx, func(*sql.DB) error {
		return s.withCatalog(conn, migrations.MigrateDown)
	})
	if err != nil {
		return &lake.SchemaError{Op: "drop", Err: err}
	}
	s.logger.Warn("schema dropped", "catalog", conn.Catalog())
	return nil
}

// TableStats counts rows and asset bytes by storage mode and reports the
// schema version.
func (s *SchemaStore) TableStats(ctx context.Context, conn *engine.Conn) (*TableStats, error) {
	var st TableStats
	err := conn.Do(ctx, func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, `SELECT count(*),
				count(DISTINCT CASE WHEN entry_id <> '' THEN entry_id ELSE id END)
			FROM lake.entries`).Scan(&st.EntryRows, &st.Entries)
		if err != nil {
			return fmt.Errorf("counting entries: %w", err)
		}
		err = db.QueryRowContext(ctx, `SELECT count(*),
				coalesce(sum(CASE WHEN storage_mode = 'inline' THEN 1 ELSE 0 END), 0),
				coalesce(sum(CASE WHEN storage_mode = 'external' THEN 1 ELSE 0 END), 0),
				coalesce(sum(CASE WHEN storage_mode = 'inline' THEN size ELSE 0 END), 0),
				coalesce(sum(CASE WHEN storage_mode = 'external' THEN size ELSE 0 END), 0)
			FROM lake.assets`).Scan(&st.Assets, &st.InlineAssets, &st.ExternalAssets, &st.InlineBytes, &st.ExternalBytes)
		if err != nil {
			return fmt.Errorf("counting assets: %w", err)
		}
		return s.withCatalog(conn, func(mdb *sql.DB) error {
			v, _, err := migrations.Version(mdb)
			if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
				return fmt.Errorf("reading schema version: %w", err)
			}
			st.SchemaVersion = v
			return nil
		})
	})
	if err != nil {
		return nil, &lake.QueryError{Op: "table stats", Err: err}
	}
	return &st, nil
}

// CheckMigrations verifies the catalog schema is at the latest version.
func (s *SchemaStore) CheckMigrations(ctx context.Context, conn *engine.Conn) error {
	return conn.Do(ctx, func(*sql.DB) error {
		return s.withCatalog(conn, migrations.CheckDBMigrationStatus)
	})
}

// withCatalog opens a migration handle on the catalog for the length of fn.
// It runs on the engine worker, so no engine statement is in flight.
func (s *SchemaStore) withCatalog(conn *engine.Conn, fn func(*sql.DB) error) error {
	mdb, err := OpenConnection(conn.Catalog())
	if err != nil {
		return err
	}
	defer mdb.Close()
	return fn(mdb)
}
