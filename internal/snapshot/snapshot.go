// Package snapshot encodes the entries and assets tables as zstd-compressed
// Parquet files.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// File names of the two published snapshots.
const (
	EntriesFile = "entries.parquet"
	AssetsFile  = "assets.parquet"
)

var magic = []byte("PAR1")

// ErrNotParquet is returned when a buffer is not a Parquet file.
var ErrNotParquet = errors.New("not a parquet file")

// EntryRow is one row of the entries table. Timestamps are RFC 3339 text.
type EntryRow struct {
	ID         string `parquet:"id"`
	EntryID    string `parquet:"entry_id"`
	Collection string `parquet:"collection"`
	Slug       string `parquet:"slug"`
	Locale     string `parquet:"locale"`
	Path       string `parquet:"path"`
	Data       string `parquet:"data"`
	Status     string `parquet:"status"`
	SHA        string `parquet:"sha"`
	CreatedAt  string `parquet:"created_at"`
	UpdatedAt  string `parquet:"updated_at"`
	CreatedBy  string `parquet:"created_by"`
	UpdatedBy  string `parquet:"updated_by"`
}

// AssetRow is one row of the assets table. StorageMode says which of
// Content and StorageURL is meaningful: Content is written as a plain byte
// array and comes back nil for external rows, StorageURL is null for inline
// ones.
type AssetRow struct {
	ID          string  `parquet:"id"`
	Path        string  `parquet:"path"`
	Filename    string  `parquet:"filename"`
	MimeType    string  `parquet:"mime_type"`
	Size        int64   `parquet:"size"`
	Kind        string  `parquet:"kind"`
	Content     []byte  `parquet:"content"`
	SHA         string  `parquet:"sha"`
	StorageMode string  `parquet:"storage_mode"`
	StorageURL  *string `parquet:"storage_url,optional"`
	Folder      string  `parquet:"folder"`
	Collection  string  `parquet:"collection"`
	CreatedAt   string  `parquet:"created_at"`
	UpdatedAt   string  `parquet:"updated_at"`
}

// EncodeEntries writes rows, in the order given, as a Parquet file.
func EncodeEntries(rows []EntryRow) ([]byte, error) {
	return encode(rows)
}

// DecodeEntries reads an entries snapshot.
func DecodeEntries(data []byte) ([]EntryRow, error) {
	return decode[EntryRow](data)
}

// EncodeAssets writes rows, in the order given, as a Parquet file.
func EncodeAssets(rows []AssetRow) ([]byte, error) {
	return encode(rows)
}

// DecodeAssets reads an assets snapshot.
func DecodeAssets(data []byte) ([]AssetRow, error) {
	rows, err := decode[AssetRow](data)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		switch {
		case rows[i].StorageMode != "inline":
			rows[i].Content = nil
		case rows[i].Content == nil:
			rows[i].Content = []byte{}
		}
	}
	return rows, nil
}

func encode[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, parquet.Compression(&parquet.Zstd))
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, fmt.Errorf("writing parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decode[T any](data []byte) ([]T, error) {
	if len(data) < 2*len(magic) || !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		return nil, ErrNotParquet
	}
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading parquet rows: %w", err)
	}
	return rows, nil
}
