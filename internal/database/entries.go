package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"cmslake/internal/content"
	"cmslake/internal/lake"
	"cmslake/internal/snapshot"
)

const entryColumns = "id, entry_id, collection, slug, locale, path, data, status, sha, created_at, updated_at, created_by, updated_by"

// EntryStore reads and writes the entries table, one row per locale.
type EntryStore struct {
	conn   Connector
	clock  lake.Clock
	logger lake.Logger
}

var _ lake.EntryStore = (*EntryStore)(nil)

func NewEntryStore(conn Connector, clock lake.Clock, logger lake.Logger) *EntryStore {
	if clock == nil {
		clock = lake.RealClock{}
	}
	if logger == nil {
		logger = lake.NewNopLogger()
	}
	return &EntryStore{conn: conn, clock: clock, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(s rowScanner) (snapshot.EntryRow, error) {
	var r snapshot.EntryRow
	err := s.Scan(&r.ID, &r.EntryID, &r.Collection, &r.Slug, &r.Locale, &r.Path, &r.Data,
		&r.Status, &r.SHA, &r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy)
	return r, err
}

func queryEntryRows(ctx context.Context, db *sql.DB, query string, args ...any) ([]snapshot.EntryRow, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []snapshot.EntryRow
	for rows.Next() {
		r, err := scanEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// baseID returns the entry id a row belongs to. Rows written before entry_id
// was recorded fall back to stripping a locale suffix from the row id.
func baseID(r snapshot.EntryRow) string {
	if r.EntryID != "" {
		return r.EntryID
	}
	base, _, _ := lake.StripLocaleSuffix(r.ID)
	return base
}

func rowLocale(r snapshot.EntryRow) string {
	if r.Locale != "" {
		return r.Locale
	}
	if _, loc, ok := lake.StripLocaleSuffix(r.ID); ok {
		return loc
	}
	return lake.DefaultLocale
}

// RowsToEntry rebuilds one entry from its locale rows. Status, author and
// SHA come from the most recently updated row.
func RowsToEntry(rows []snapshot.EntryRow) (*lake.Entry, error) {
	if len(rows) == 0 {
		return nil, &lake.ValidationError{Field: "rows", Message: "no rows to build an entry from"}
	}

	id := baseID(rows[0])
	e := &lake.Entry{
		ID:         id,
		Collection: rows[0].Collection,
		Locales:    make(map[string]*lake.LocalizedEntry, len(rows)),
	}
	if dir := path.Dir(rows[0].Slug); dir != "." {
		e.SubPath = dir
	}

	var latest snapshot.EntryRow
	var latestAt time.Time
	for i, r := range rows {
		loc := rowLocale(r)
		if _, dup := e.Locales[loc]; dup {
			return nil, &lake.ValidationError{Field: "locale", Message: fmt.Sprintf("entry %s has locale %s twice", id, loc)}
		}
		data, err := content.ParseJSON([]byte(r.Data))
		if err != nil {
			return nil, fmt.Errorf("decoding data of row %s: %w", r.ID, err)
		}
		e.Locales[loc] = &lake.LocalizedEntry{Slug: r.Slug, Path: r.Path, Content: data}
		if r.ID == id {
			e.DefaultLocale = loc
		}

		created, updated := parseTime(r.CreatedAt), parseTime(r.UpdatedAt)
		if e.CreatedAt.IsZero() || (!created.IsZero() && created.Before(e.CreatedAt)) {
			e.CreatedAt = created
		}
		if i == 0 || updated.After(latestAt) {
			latest, latestAt = r, updated
		}
	}
	e.UpdatedAt = latestAt
	e.Status = latest.Status
	e.SHA = latest.SHA
	e.Author = firstNonEmpty(latest.UpdatedBy, latest.CreatedBy)
	return e, nil
}

// groupRows buckets rows by base id, keeping first-seen order.
func groupRows(rows []snapshot.EntryRow) ([]*lake.Entry, error) {
	var order []string
	groups := make(map[string][]snapshot.EntryRow)
	for _, r := range rows {
		id := baseID(r)
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}
	out := make([]*lake.Entry, 0, len(order))
	for _, id := range order {
		e, err := RowsToEntry(groups[id])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FetchAll returns every entry with all of its locales.
func (s *EntryStore) FetchAll(ctx context.Context) ([]*lake.Entry, error) {
	var rows []snapshot.EntryRow
	err := run(ctx, s.conn, "fetch entries", func(db *sql.DB) error {
		var err error
		rows, err = queryEntryRows(ctx, db, "SELECT "+entryColumns+" FROM "+EntriesTable+" ORDER BY id, locale")
		return err
	})
	if err != nil {
		return nil, err
	}
	return groupRows(rows)
}

// FetchByID returns the entry with the given base id.
func (s *EntryStore) FetchByID(ctx context.Context, entryID string) (*lake.Entry, error) {
	if entryID == "" {
		return nil, &lake.ValidationError{Field: "id", Message: "entry id is empty"}
	}
	var rows []snapshot.EntryRow
	err := run(ctx, s.conn, "fetch entry "+entryID, func(db *sql.DB) error {
		var err error
		rows, err = s.rowsOf(ctx, db, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &lake.NotFoundError{Kind: "entry", ID: entryID}
	}
	return RowsToEntry(rows)
}

// rowsOf returns the locale rows of a base id, including legacy rows whose
// entry_id was never recorded.
func (s *EntryStore) rowsOf(ctx context.Context, q *sql.DB, entryID string) ([]snapshot.EntryRow, error) {
	candidates, err := queryEntryRows(ctx, q,
		"SELECT "+entryColumns+" FROM "+EntriesTable+
			` WHERE entry_id = ? OR (entry_id = '' AND (id = ? OR id LIKE ? ESCAPE '\')) ORDER BY id, locale`,
		entryID, entryID, escapeLike(entryID)+`\_%`)
	if err != nil {
		return nil, err
	}
	rows := candidates[:0]
	for _, r := range candidates {
		if baseID(r) == entryID {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// FetchByPath returns the entry holding only the locale stored at p.
func (s *EntryStore) FetchByPath(ctx context.Context, p string) (*lake.Entry, error) {
	if p == "" {
		return nil, &lake.ValidationError{Field: "path", Message: "path is empty"}
	}
	var rows []snapshot.EntryRow
	err := run(ctx, s.conn, "fetch entry at "+p, func(db *sql.DB) error {
		var err error
		rows, err = queryEntryRows(ctx, db, "SELECT "+entryColumns+" FROM "+EntriesTable+" WHERE path = ? ORDER BY id, locale", p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &lake.NotFoundError{Kind: "entry", ID: p}
	}
	return RowsToEntry(rows[:1])
}

// Upsert replaces the row of every locale in e: any row with the same row
// id is deleted, then a fresh row is inserted. Creation time and author of
// a replaced row are carried over.
func (s *EntryStore) Upsert(ctx context.Context, e *lake.Entry, collection string) error {
	if e == nil || e.ID == "" {
		return &lake.ValidationError{Field: "id", Message: "entry id is empty"}
	}
	if len(e.Locales) == 0 {
		return &lake.ValidationError{Field: "locales", Message: fmt.Sprintf("entry %s has no locales", e.ID)}
	}
	for _, loc := range e.LocaleKeys() {
		if err := lake.ValidateLocale(loc); err != nil {
			return err
		}
	}
	if collection == "" {
		collection = e.Collection
	}
	now := s.clock.Now()

	return run(ctx, s.conn, "upsert entry "+e.ID, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		for _, loc := range e.LocaleKeys() {
			le := e.Locales[loc]
			rowID := lake.RowID(e.ID, loc, e.DefaultLocale)

			var createdAt, createdBy string
			err := tx.QueryRowContext(ctx, "SELECT created_at, created_by FROM "+EntriesTable+" WHERE id = ?", rowID).
				Scan(&createdAt, &createdBy)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("reading row %s: %w", rowID, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+EntriesTable+" WHERE id = ?", rowID); err != nil {
				return fmt.Errorf("deleting row %s: %w", rowID, err)
			}

			data, err := le.Content.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encoding data of row %s: %w", rowID, err)
			}
			slug := le.Slug
			if slug == "" {
				slug = strings.TrimPrefix(e.ID, collection+"/")
			}
			_, err = tx.ExecContext(ctx, "INSERT INTO "+EntriesTable+" ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				rowID, e.ID, collection, slug, loc, le.Path, string(data), e.Status, e.SHA,
				firstNonEmpty(createdAt, formatTime(e.CreatedAt), formatTime(now)),
				firstNonEmpty(formatTime(e.UpdatedAt), formatTime(now)),
				firstNonEmpty(createdBy, e.Author), e.Author)
			if err != nil {
				return fmt.Errorf("inserting row %s: %w", rowID, err)
			}
		}
		return tx.Commit()
	})
}

// DeleteByID removes rows whose row id matches exactly. Other locale rows of
// the same entry stay.
func (s *EntryStore) DeleteByID(ctx context.Context, rowID string) error {
	if rowID == "" {
		return &lake.ValidationError{Field: "id", Message: "row id is empty"}
	}
	return run(ctx, s.conn, "delete entry row "+rowID, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM "+EntriesTable+" WHERE id = ?", rowID)
		return err
	})
}

// DeleteEntry removes every locale row of a base entry id.
func (s *EntryStore) DeleteEntry(ctx context.Context, entryID string) error {
	if entryID == "" {
		return &lake.ValidationError{Field: "id", Message: "entry id is empty"}
	}
	return run(ctx, s.conn, "delete entry "+entryID, func(db *sql.DB) error {
		rows, err := s.rowsOf(ctx, db, entryID)
		if err != nil {
			return err
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+EntriesTable+" WHERE id = ?", r.ID); err != nil {
				return fmt.Errorf("deleting row %s: %w", r.ID, err)
			}
		}
		return tx.Commit()
	})
}

// DeleteByPath removes the row stored at p.
func (s *EntryStore) DeleteByPath(ctx context.Context, p string) (int64, error) {
	if p == "" {
		return 0, &lake.ValidationError{Field: "path", Message: "path is empty"}
	}
	var n int64
	err := run(ctx, s.conn, "delete entry at "+p, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "DELETE FROM "+EntriesTable+" WHERE path = ?", p)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Count returns the number of distinct entries. Failures count as zero.
func (s *EntryStore) Count(ctx context.Context) int {
	var n int
	err := run(ctx, s.conn, "count entries", func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT count(DISTINCT CASE WHEN entry_id <> '' THEN entry_id ELSE id END) FROM "+EntriesTable).Scan(&n)
	})
	if err != nil {
		s.logger.Warn("counting entries", "error", err)
		return 0
	}
	return n
}

// ExportSnapshot encodes the whole table in (id, locale) order.
func (s *EntryStore) ExportSnapshot(ctx context.Context) ([]byte, error) {
	var rows []snapshot.EntryRow
	err := run(ctx, s.conn, "export entries", func(db *sql.DB) error {
		var err error
		rows, err = queryEntryRows(ctx, db, "SELECT "+entryColumns+" FROM "+EntriesTable+" ORDER BY id, locale")
		return err
	})
	if err != nil {
		return nil, err
	}
	data, err := snapshot.EncodeEntries(rows)
	if err != nil {
		return nil, &lake.QueryError{Op: "export entries", Err: err}
	}
	return data, nil
}

// LoadSnapshot replaces the table with the rows of an entries snapshot.
func (s *EntryStore) LoadSnapshot(ctx context.Context, data []byte) (int, error) {
	rows, err := snapshot.DecodeEntries(data)
	if err != nil {
		return 0, fmt.Errorf("decoding entries snapshot: %w", err)
	}
	err = run(ctx, s.conn, "load entries", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+EntriesTable); err != nil {
			return fmt.Errorf("clearing entries: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+EntriesTable+" ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if r.Locale == "" {
				r.Locale = rowLocale(r)
			}
			_, err := stmt.ExecContext(ctx, r.ID, r.EntryID, r.Collection, r.Slug, r.Locale, r.Path, r.Data,
				r.Status, r.SHA, r.CreatedAt, r.UpdatedAt, r.CreatedBy, r.UpdatedBy)
			if err != nil {
				return fmt.Errorf("inserting row %s: %w", r.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
