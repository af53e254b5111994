package lake

import (
	"context"
	"io"
)

// EntryStore is the slice of the entries table the commit pipeline mutates.
type EntryStore interface {
	// Upsert replaces the row of every locale in entry (delete then insert).
	Upsert(ctx context.Context, entry *Entry, collection string) error

	// DeleteByID removes rows whose row id matches exactly. Locale variants
	// are separate rows and are not touched.
	DeleteByID(ctx context.Context, rowID string) error

	// DeleteEntry removes every locale row of a base entry id.
	DeleteEntry(ctx context.Context, entryID string) error

	// DeleteByPath removes the row stored at path and reports how many rows
	// went away.
	DeleteByPath(ctx context.Context, path string) (int64, error)

	// FetchByPath returns the entry holding only the locale stored at path.
	FetchByPath(ctx context.Context, path string) (*Entry, error)

	// ExportSnapshot serializes the whole table in (id, locale) order.
	ExportSnapshot(ctx context.Context) ([]byte, error)
}

// AssetPatch lists the asset columns an update should change. Nil fields are
// left alone.
type AssetPatch struct {
	ID         *string
	Path       *string
	Name       *string
	MimeType   *string
	Kind       *string
	Folder     *string
	Collection *string
	StorageURL *string
}

// Empty reports whether the patch changes nothing.
func (p AssetPatch) Empty() bool {
	return p.ID == nil && p.Path == nil && p.Name == nil && p.MimeType == nil && p.Kind == nil &&
		p.Folder == nil && p.Collection == nil && p.StorageURL == nil
}

// AssetStore is the slice of the assets table the commit pipeline mutates.
type AssetStore interface {
	// Insert stores asset metadata and, when placement allows, content inline.
	Insert(ctx context.Context, asset *Asset, content []byte) error

	// Update patches only the supplied columns. New content switches the row
	// to inline storage; a new StorageURL switches it to external storage.
	Update(ctx context.Context, id string, patch AssetPatch, content []byte) error

	FetchByPath(ctx context.Context, path string) (*Asset, error)
	DeleteByPath(ctx context.Context, path string) (int64, error)
	ExportSnapshot(ctx context.Context) ([]byte, error)
}

// Vault is the object storage that receives snapshot files and external
// asset bytes. Operations stream through io.Reader/io.Writer.
type Vault interface {
	// Put stores size bytes from r under key and returns the object's
	// location (a URL without signing parameters where the backend has one).
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)

	// Get writes the object stored under key to w. A missing object is a
	// NotFoundError.
	Get(ctx context.Context, key string, w io.Writer) error

	// Exists reports whether key is stored. Failures read as false.
	Exists(ctx context.Context, key string) bool

	// ValidateSetup verifies that the vault is reachable and configured.
	ValidateSetup(ctx context.Context) error
}

// StagingArea queues pending changes between editing and commit. The queue
// is bounded by a maximum payload size.
type StagingArea interface {
	// Stage appends a change. Payload bytes are kept alongside the queue.
	Stage(change *PendingChange) error

	// List returns the queued changes in staging order with payloads loaded.
	List() ([]*PendingChange, error)

	// Drain hands every queued change to fn and removes them only if fn
	// succeeds. It returns the number of changes handed over.
	Drain(fn func([]PendingChange) error) (int, error)

	// Count returns the number of queued changes.
	Count() (int, error)

	// Size returns the total payload bytes held by the queue.
	Size() (int64, error)
}
