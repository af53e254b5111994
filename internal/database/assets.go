package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cmslake/internal/lake"
	"cmslake/internal/snapshot"
)

const (
	assetMetaColumns = "id, path, filename, mime_type, size, kind, sha, storage_mode, storage_url, folder, collection, created_at, updated_at"
	assetColumns     = "id, path, filename, mime_type, size, kind, content, sha, storage_mode, storage_url, folder, collection, created_at, updated_at"
)

// AssetStore reads and writes the assets table. Where content lives is
// decided once, at insert time, from the asset mode and inline threshold.
type AssetStore struct {
	conn      Connector
	clock     lake.Clock
	logger    lake.Logger
	mode      lake.AssetMode
	threshold int64
}

var _ lake.AssetStore = (*AssetStore)(nil)

func NewAssetStore(conn Connector, mode lake.AssetMode, threshold int64, clock lake.Clock, logger lake.Logger) *AssetStore {
	if mode == "" {
		mode = lake.AssetModeExternal
	}
	if threshold <= 0 {
		threshold = lake.DefaultInlineThreshold
	}
	if clock == nil {
		clock = lake.RealClock{}
	}
	if logger == nil {
		logger = lake.NewNopLogger()
	}
	return &AssetStore{conn: conn, clock: clock, logger: logger, mode: mode, threshold: threshold}
}

func scanAsset(s rowScanner, withContent bool) (*lake.Asset, error) {
	var (
		a                  lake.Asset
		mode, created, upd string
		url                sql.NullString
		content            []byte
	)
	dest := []any{&a.ID, &a.Path, &a.Name, &a.MimeType, &a.Size, &a.Kind}
	if withContent {
		dest = append(dest, &content)
	}
	dest = append(dest, &a.SHA, &mode, &url, &a.Folder, &a.Collection, &created, &upd)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	sm, err := lake.ParseStorageMode(mode)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", a.ID, err)
	}
	a.StorageMode = sm
	a.StorageURL = url.String
	a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(upd)
	if withContent && sm == lake.StorageInline {
		if content == nil {
			content = []byte{}
		}
		a.Content = content
	}
	return &a, nil
}

func (s *AssetStore) queryAssets(ctx context.Context, db *sql.DB, withContent bool, where string, args ...any) ([]*lake.Asset, error) {
	cols := assetMetaColumns
	if withContent {
		cols = assetColumns
	}
	rows, err := db.QueryContext(ctx, "SELECT "+cols+" FROM "+AssetsTable+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*lake.Asset
	for rows.Next() {
		a, err := scanAsset(rows, withContent)
		if err != nil {
			return nil, fmt.Errorf("scanning asset row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert stores a. Content is kept inline when the placement policy allows
// it; otherwise only a.StorageURL is recorded and the bytes are dropped. A
// row already at a.Path is replaced; an id held by another path is a
// ValidationError.
func (s *AssetStore) Insert(ctx context.Context, a *lake.Asset, content []byte) error {
	if a == nil || a.ID == "" {
		return &lake.ValidationError{Field: "id", Message: "asset id is empty"}
	}
	if a.Path == "" {
		return &lake.ValidationError{Field: "path", Message: "asset path is empty"}
	}

	var (
		mode   lake.StorageMode
		inline []byte
		url    sql.NullString
		size   = a.Size
	)
	if content != nil {
		size = int64(len(content))
		mode = lake.PlaceAsset(s.mode, s.threshold, size)
	} else {
		mode = lake.StorageExternal
	}
	switch mode {
	case lake.StorageInline:
		inline = content
	case lake.StorageExternal:
		if a.StorageURL == "" {
			return &lake.ValidationError{Field: "storage_url", Message: fmt.Sprintf("asset %s is stored externally but has no storage URL", a.Path)}
		}
		url = sql.NullString{String: a.StorageURL, Valid: true}
	}

	now := s.clock.Now()
	err := run(ctx, s.conn, "insert asset "+a.Path, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		var held string
		err = tx.QueryRowContext(ctx, "SELECT path FROM "+AssetsTable+" WHERE id = ?", a.ID).Scan(&held)
		switch {
		case err == nil && held != a.Path:
			return &lake.ValidationError{Field: "id", Message: fmt.Sprintf("asset id %s is already used by %s", a.ID, held)}
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("checking asset id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+AssetsTable+" WHERE path = ?", a.Path); err != nil {
			return fmt.Errorf("replacing asset: %w", err)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO "+AssetsTable+" ("+assetColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			a.ID, a.Path, firstNonEmpty(a.Name, a.Path), firstNonEmpty(a.MimeType, "application/octet-stream"),
			size, firstNonEmpty(a.Kind, "file"), inline, firstNonEmpty(a.SHA, a.ID), string(mode), url,
			a.Folder, a.Collection, firstNonEmpty(formatTime(a.CreatedAt), formatTime(now)),
			firstNonEmpty(formatTime(a.UpdatedAt), formatTime(now)))
		if err != nil {
			return fmt.Errorf("inserting asset: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	a.StorageMode = mode
	a.Size = size
	if mode == lake.StorageInline {
		a.Content, a.StorageURL = inline, ""
	} else {
		a.Content = nil
	}
	return nil
}

// Update patches only the supplied columns. New content moves the row to
// inline storage and clears its URL; a new URL moves it to external storage
// and clears its content. Nothing is executed when nothing changes.
func (s *AssetStore) Update(ctx context.Context, id string, patch lake.AssetPatch, content []byte) error {
	if id == "" {
		return &lake.ValidationError{Field: "id", Message: "asset id is empty"}
	}
	if content != nil && patch.StorageURL != nil {
		return &lake.ValidationError{Field: "storage_url", Message: "content and storage URL are mutually exclusive"}
	}

	var sets []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	set("id", patch.ID)
	set("path", patch.Path)
	set("filename", patch.Name)
	set("mime_type", patch.MimeType)
	set("kind", patch.Kind)
	set("folder", patch.Folder)
	set("collection", patch.Collection)
	switch {
	case content != nil:
		sets = append(sets, "content = ?", "size = ?", "storage_mode = 'inline'", "storage_url = NULL")
		args = append(args, content, int64(len(content)))
	case patch.StorageURL != nil:
		if *patch.StorageURL == "" {
			return &lake.ValidationError{Field: "storage_url", Message: "storage URL is empty"}
		}
		sets = append(sets, "storage_url = ?", "storage_mode = 'external'", "content = NULL")
		args = append(args, *patch.StorageURL)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.clock.Now()), id)

	return run(ctx, s.conn, "update asset "+id, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "UPDATE "+AssetsTable+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &lake.NotFoundError{Kind: "asset", ID: id}
		}
		return nil
	})
}

// FetchContent returns where the bytes of asset id live.
func (s *AssetStore) FetchContent(ctx context.Context, id string) (*lake.AssetContent, error) {
	if id == "" {
		return nil, &lake.ValidationError{Field: "id", Message: "asset id is empty"}
	}
	var out lake.AssetContent
	err := run(ctx, s.conn, "fetch asset content "+id, func(db *sql.DB) error {
		var (
			mode string
			url  sql.NullString
		)
		err := db.QueryRowContext(ctx, "SELECT content, storage_url, storage_mode FROM "+AssetsTable+" WHERE id = ?", id).
			Scan(&out.Content, &url, &mode)
		if errors.Is(err, sql.ErrNoRows) {
			return &lake.NotFoundError{Kind: "asset", ID: id}
		}
		if err != nil {
			return err
		}
		out.StorageURL = url.String
		out.StorageMode, err = lake.ParseStorageMode(mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.StorageMode == lake.StorageInline && out.Content == nil {
		out.Content = []byte{}
	}
	return &out, nil
}

// FetchAll returns the metadata of every asset, ordered by path.
func (s *AssetStore) FetchAll(ctx context.Context) ([]*lake.Asset, error) {
	var out []*lake.Asset
	err := run(ctx, s.conn, "fetch assets", func(db *sql.DB) error {
		var err error
		out, err = s.queryAssets(ctx, db, false, "ORDER BY path")
		return err
	})
	return out, err
}

// FetchByPath returns the metadata of the asset stored at p.
func (s *AssetStore) FetchByPath(ctx context.Context, p string) (*lake.Asset, error) {
	if p == "" {
		return nil, &lake.ValidationError{Field: "path", Message: "path is empty"}
	}
	var found []*lake.Asset
	err := run(ctx, s.conn, "fetch asset at "+p, func(db *sql.DB) error {
		var err error
		found, err = s.queryAssets(ctx, db, false, "WHERE path = ?", p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, &lake.NotFoundError{Kind: "asset", ID: p}
	}
	return found[0], nil
}

// DeleteByID removes the asset with the given content id.
func (s *AssetStore) DeleteByID(ctx context.Context, id string) error {
	if id == "" {
		return &lake.ValidationError{Field: "id", Message: "asset id is empty"}
	}
	return run(ctx, s.conn, "delete asset "+id, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM "+AssetsTable+" WHERE id = ?", id)
		return err
	})
}

// DeleteByPath removes the asset stored at p.
func (s *AssetStore) DeleteByPath(ctx context.Context, p string) (int64, error) {
	if p == "" {
		return 0, &lake.ValidationError{Field: "path", Message: "path is empty"}
	}
	var n int64
	err := run(ctx, s.conn, "delete asset at "+p, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM "+AssetsTable+" WHERE path = ?", p)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Count returns the number of assets. Failures count as zero.
func (s *AssetStore) Count(ctx context.Context) int {
	var n int
	err := run(ctx, s.conn, "count assets", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT count(*) FROM "+AssetsTable).Scan(&n)
	})
	if err != nil {
		s.logger.Warn("counting assets", "error", err)
		return 0
	}
	return n
}

// ExportSnapshot encodes the whole table, content included, in id order.
func (s *AssetStore) ExportSnapshot(ctx context.Context) ([]byte, error) {
	var assets []*lake.Asset
	err := run(ctx, s.conn, "export assets", func(db *sql.DB) error {
		var err error
		assets, err = s.queryAssets(ctx, db, true, "ORDER BY id, path")
		return err
	})
	if err != nil {
		return nil, err
	}
	rows := make([]snapshot.AssetRow, 0, len(assets))
	for _, a := range assets {
		rows = append(rows, toAssetRow(a))
	}
	data, err := snapshot.EncodeAssets(rows)
	if err != nil {
		return nil, &lake.QueryError{Op: "export assets", Err: err}
	}
	return data, nil
}

// LoadSnapshot replaces the table with the rows of an assets snapshot.
func (s *AssetStore) LoadSnapshot(ctx context.Context, data []byte) (int, error) {
	rows, err := snapshot.DecodeAssets(data)
	if err != nil {
		return 0, fmt.Errorf("decoding assets snapshot: %w", err)
	}
	err = run(ctx, s.conn, "load assets", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+AssetsTable); err != nil {
			return fmt.Errorf("clearing assets: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+AssetsTable+" ("+assetColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			var content []byte
			if r.StorageMode == string(lake.StorageInline) {
				content = r.Content
			}
			_, err := stmt.ExecContext(ctx, r.ID, r.Path, r.Filename, r.MimeType, r.Size, r.Kind, content, r.SHA,
				r.StorageMode, r.StorageURL, r.Folder, r.Collection, r.CreatedAt, r.UpdatedAt)
			if err != nil {
				return fmt.Errorf("inserting asset %s: %w", r.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func toAssetRow(a *lake.Asset) snapshot.AssetRow {
	r := snapshot.AssetRow{
		ID:          a.ID,
		Path:        a.Path,
		Filename:    a.Name,
		MimeType:    a.MimeType,
		Size:        a.Size,
		Kind:        a.Kind,
		SHA:         a.SHA,
		StorageMode: string(a.StorageMode),
		Folder:      a.Folder,
		Collection:  a.Collection,
		CreatedAt:   formatTime(a.CreatedAt),
		UpdatedAt:   formatTime(a.UpdatedAt),
	}
	if a.StorageMode == lake.StorageInline {
		r.Content = a.Content
	} else {
		url := a.StorageURL
		r.StorageURL = &url
	}
	return r
}
