package lake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"cmslake/internal/content"
	"cmslake/internal/metrics"
)

// SnapshotContentType is the media type of exported table snapshots.
const SnapshotContentType = "application/vnd.apache.parquet"

// CommitOptions configures where a Coordinator publishes and how it places
// assets.
type CommitOptions struct {
	EntriesKey      string
	AssetsKey       string
	AssetMode       AssetMode
	InlineThreshold int64
	DefaultLocale   string

	// AssetKey maps an asset path to the vault key of its external bytes.
	AssetKey func(assetPath string) string

	// IsAssetPath reports whether a path without an explicit kind names an
	// asset (by extension).
	IsAssetPath func(p string) bool
}

// Coordinator turns batches of pending changes into table mutations and
// publishes both table snapshots.
type Coordinator struct {
	entries EntryStore
	assets  AssetStore
	vault   Vault
	opts    CommitOptions
	clock   Clock
	logger  Logger
	metrics *metrics.Recorder

	mu       sync.Mutex
	diverged bool
}

func NewCoordinator(entries EntryStore, assets AssetStore, vault Vault, opts CommitOptions, clock Clock, logger Logger, rec *metrics.Recorder) *Coordinator {
	if opts.AssetKey == nil {
		opts.AssetKey = func(p string) string { return path.Join("assets", p) }
	}
	if opts.IsAssetPath == nil {
		opts.IsAssetPath = func(string) bool { return false }
	}
	if opts.AssetMode == "" {
		opts.AssetMode = AssetModeExternal
	}
	if opts.InlineThreshold <= 0 {
		opts.InlineThreshold = DefaultInlineThreshold
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = DefaultLocale
	}
	return &Coordinator{
		entries: entries,
		assets:  assets,
		vault:   vault,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: rec,
	}
}

// Diverged reports whether the local tables hold mutations from a commit
// that was never published.
func (c *Coordinator) Diverged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diverged
}

// MarkSynced clears the diverged flag after local tables were reloaded from
// the published snapshots.
func (c *Coordinator) MarkSynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diverged = false
}

// Commit applies changes to the local tables, exports both snapshots,
// uploads them and returns the commit summary. A failure while applying a
// change aborts before anything is uploaded; the local tables may then hold
// part of the batch, which Diverged reports.
func (c *Coordinator) Commit(ctx context.Context, changes []PendingChange) (*CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.clock.Now()
	res, err := c.commit(ctx, changes)
	c.metrics.ObserveCommit(c.clock.Now().Sub(start), err == nil)
	if err != nil {
		c.logger.Error("commit failed", "changes", len(changes), "error", err)
		return nil, err
	}
	c.logger.Info("commit published", "hash", res.Hash, "changes", len(changes),
		"entries_bytes", res.EntriesBytes, "assets_bytes", res.AssetsBytes)
	return res, nil
}

func (c *Coordinator) commit(ctx context.Context, changes []PendingChange) (*CommitResult, error) {
	if len(changes) == 0 {
		return nil, &CommitError{Stage: "validate", Err: &ValidationError{Message: "no changes to commit"}}
	}
	for i := range changes {
		if err := changes[i].Validate(); err != nil {
			return nil, &CommitError{Stage: "validate", Path: changes[i].Path, Err: err}
		}
	}

	ids := make(map[string]string, len(changes))
	c.diverged = true
	for i := range changes {
		ch := &changes[i]
		var (
			id  string
			err error
		)
		if c.isAsset(ch) {
			id, err = c.applyAsset(ctx, ch)
			if err != nil {
				return nil, &CommitError{Stage: "assets", Path: ch.Path, Err: err}
			}
		} else {
			id, err = c.applyEntry(ctx, ch)
			if err != nil {
				return nil, &CommitError{Stage: "entries", Path: ch.Path, Err: err}
			}
		}
		ids[ch.Path] = id
		c.logger.Debug("applied change", "action", ch.Action, "path", ch.Path, "id", id)
	}

	entriesBuf, err := c.entries.ExportSnapshot(ctx)
	if err != nil {
		return nil, &CommitError{Stage: "export", Path: c.opts.EntriesKey, Err: err}
	}
	assetsBuf, err := c.assets.ExportSnapshot(ctx)
	if err != nil {
		return nil, &CommitError{Stage: "export", Path: c.opts.AssetsKey, Err: err}
	}
	c.metrics.SetSnapshotBytes("entries", len(entriesBuf))
	c.metrics.SetSnapshotBytes("assets", len(assetsBuf))

	if err := c.publish(ctx, entriesBuf, assetsBuf); err != nil {
		return nil, err
	}

	hash := CommitHash(entriesBuf, assetsBuf)
	for p, id := range ids {
		if id == "" {
			ids[p] = hash
		}
	}
	c.diverged = false

	return &CommitResult{
		Hash:         hash,
		Timestamp:    c.clock.Now().UTC(),
		Paths:        ids,
		EntriesBytes: len(entriesBuf),
		AssetsBytes:  len(assetsBuf),
	}, nil
}

// publish uploads both snapshots concurrently. Either failure fails the
// commit.
func (c *Coordinator) publish(ctx context.Context, entriesBuf, assetsBuf []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	upload := func(key string, data []byte) func() error {
		return func() error {
			if _, err := c.vault.Put(gctx, key, bytes.NewReader(data), int64(len(data)), SnapshotContentType); err != nil {
				return &CommitError{Stage: "upload", Path: key, Err: err}
			}
			return nil
		}
	}
	g.Go(upload(c.opts.EntriesKey, entriesBuf))
	g.Go(upload(c.opts.AssetsKey, assetsBuf))
	return g.Wait()
}

// CommitHash derives the commit id from the entries snapshot followed by the
// assets snapshot.
func CommitHash(entriesBuf, assetsBuf []byte) string {
	h := sha256.New()
	h.Write(entriesBuf)
	h.Write(assetsBuf)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Coordinator) isAsset(ch *PendingChange) bool {
	switch ch.Kind {
	case KindAsset:
		return true
	case KindEntry:
		return false
	}
	if ch.Asset != nil {
		return true
	}
	if ch.Record != nil {
		return false
	}
	return c.opts.IsAssetPath(ch.Path)
}

func (c *Coordinator) identity(ch *PendingChange, p string) Identity {
	id := DeriveIdentity(p)
	if p != ch.Path {
		return id
	}
	if ch.Collection != "" {
		id.Collection = ch.Collection
	}
	if ch.Slug != "" {
		id.Slug = ch.Slug
	}
	if ch.Locale != "" {
		id.Locale = ch.Locale
	}
	if ch.EntryID != "" {
		id.EntryID = ch.EntryID
	}
	return id
}

func (c *Coordinator) applyEntry(ctx context.Context, ch *PendingChange) (string, error) {
	switch ch.Action {
	case ActionDelete:
		return "", c.deleteEntryAt(ctx, ch, ch.Path)

	case ActionCreate, ActionUpdate:
		entry := c.entryFromChange(ch)
		if err := c.entries.Upsert(ctx, entry, entry.Collection); err != nil {
			return "", fmt.Errorf("upserting entry %s: %w", entry.ID, err)
		}
		return entry.ID, nil

	case ActionMove:
		var entry *Entry
		if ch.Record == nil && ch.Payload == nil {
			old, err := c.entries.FetchByPath(ctx, ch.OldPath)
			if err != nil {
				return "", fmt.Errorf("loading moved entry %s: %w", ch.OldPath, err)
			}
			entry = c.relocate(ch, old)
		} else {
			entry = c.entryFromChange(ch)
		}
		if err := c.deleteEntryAt(ctx, ch, ch.OldPath); err != nil {
			return "", err
		}
		if err := c.entries.Upsert(ctx, entry, entry.Collection); err != nil {
			return "", fmt.Errorf("upserting moved entry %s: %w", entry.ID, err)
		}
		return entry.ID, nil
	}
	return "", fmt.Errorf("unsupported action %q", ch.Action)
}

func (c *Coordinator) deleteEntryAt(ctx context.Context, ch *PendingChange, p string) error {
	n, err := c.entries.DeleteByPath(ctx, p)
	if err != nil {
		return fmt.Errorf("deleting entry at %s: %w", p, err)
	}
	if n > 0 {
		return nil
	}
	id := c.identity(ch, p)
	rowID := RowID(id.EntryID, id.Locale, c.opts.DefaultLocale)
	if err := c.entries.DeleteByID(ctx, rowID); err != nil {
		return fmt.Errorf("deleting entry %s: %w", rowID, err)
	}
	return nil
}

// entryFromChange builds the entry a create or update writes. Payloads that
// fail to parse become empty content rather than failing the commit.
func (c *Coordinator) entryFromChange(ch *PendingChange) *Entry {
	id := c.identity(ch, ch.Path)
	now := c.clock.Now().UTC()

	if ch.Record != nil {
		e := *ch.Record
		if e.ID == "" {
			e.ID = id.EntryID
		}
		if e.Collection == "" {
			e.Collection = id.Collection
		}
		if e.Author == "" {
			e.Author = ch.Author
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		locales := make(map[string]*LocalizedEntry, len(e.Locales))
		for k, le := range e.Locales {
			cp := *le
			if cp.Path == "" && k == id.Locale {
				cp.Path = ch.Path
			}
			locales[k] = &cp
		}
		e.Locales = locales
		return &e
	}

	body, err := content.ParseDocument(ch.Path, ch.Payload)
	if err != nil {
		c.logger.Warn("unparseable entry payload, storing empty content", "path", ch.Path, "error", err)
		body = content.EmptyMap()
	}
	sum := sha256.Sum256(ch.Payload)
	return &Entry{
		ID:            id.EntryID,
		Collection:    id.Collection,
		SubPath:       id.SubPath,
		SHA:           hex.EncodeToString(sum[:]),
		DefaultLocale: c.opts.DefaultLocale,
		Status:        entryStatus(body),
		Author:        ch.Author,
		CreatedAt:     now,
		UpdatedAt:     now,
		Locales: map[string]*LocalizedEntry{
			id.Locale: {Slug: id.Slug, Path: ch.Path, Content: body},
		},
	}
}

// relocate rewrites an existing entry's identity for a payload-less move.
func (c *Coordinator) relocate(ch *PendingChange, old *Entry) *Entry {
	id := c.identity(ch, ch.Path)
	var body content.Value
	for _, le := range old.Locales {
		body = le.Content
	}
	e := *old
	e.ID = id.EntryID
	e.Collection = id.Collection
	e.SubPath = id.SubPath
	e.UpdatedAt = c.clock.Now().UTC()
	if ch.Author != "" {
		e.Author = ch.Author
	}
	e.Locales = map[string]*LocalizedEntry{
		id.Locale: {Slug: id.Slug, Path: ch.Path, Content: body},
	}
	return &e
}

func entryStatus(body content.Value) string {
	if s, ok := body.GetString("status"); ok && s != "" {
		return s
	}
	if d, ok := body.Get("draft"); ok {
		if b, _ := d.AsBool(); b {
			return "draft"
		}
	}
	return "published"
}

func (c *Coordinator) applyAsset(ctx context.Context, ch *PendingChange) (string, error) {
	switch ch.Action {
	case ActionDelete:
		if _, err := c.assets.DeleteByPath(ctx, ch.Path); err != nil {
			return "", fmt.Errorf("deleting asset at %s: %w", ch.Path, err)
		}
		return "", nil

	case ActionCreate, ActionUpdate:
		return c.storeAsset(ctx, ch)

	case ActionMove:
		if ch.Payload != nil {
			if _, err := c.assets.DeleteByPath(ctx, ch.OldPath); err != nil {
				return "", fmt.Errorf("deleting moved asset at %s: %w", ch.OldPath, err)
			}
			return c.storeAsset(ctx, ch)
		}
		existing, err := c.assets.FetchByPath(ctx, ch.OldPath)
		if err != nil {
			return "", fmt.Errorf("loading moved asset %s: %w", ch.OldPath, err)
		}
		newPath := ch.Path
		name := path.Base(newPath)
		folder := assetFolder(newPath)
		collection := c.identity(ch, newPath).Collection
		newID := AssetID(newPath, existing.SHA)
		patch := AssetPatch{ID: &newID, Path: &newPath, Name: &name, Folder: &folder, Collection: &collection}
		if err := c.assets.Update(ctx, existing.ID, patch, nil); err != nil {
			return "", fmt.Errorf("moving asset %s: %w", existing.ID, err)
		}
		return newID, nil
	}
	return "", fmt.Errorf("unsupported action %q", ch.Action)
}

// storeAsset inserts an asset, uploading its bytes first when placement puts
// them in external storage.
func (c *Coordinator) storeAsset(ctx context.Context, ch *PendingChange) (string, error) {
	a := c.assetFromChange(ch)
	data := ch.Payload

	if data == nil && a.StorageURL == "" {
		return "", &ValidationError{Field: "payload", Message: fmt.Sprintf("asset %s has neither content nor storage url", ch.Path)}
	}
	if data != nil && PlaceAsset(c.opts.AssetMode, c.opts.InlineThreshold, int64(len(data))) == StorageExternal {
		key := c.opts.AssetKey(a.Path)
		location, err := c.vault.Put(ctx, key, bytes.NewReader(data), int64(len(data)), a.MimeType)
		if err != nil {
			return "", fmt.Errorf("uploading asset %s: %w", key, err)
		}
		a.StorageURL = location
	}
	if err := c.assets.Insert(ctx, a, data); err != nil {
		return "", fmt.Errorf("inserting asset %s: %w", a.Path, err)
	}
	return a.ID, nil
}

func (c *Coordinator) assetFromChange(ch *PendingChange) *Asset {
	var a Asset
	if ch.Asset != nil {
		a = *ch.Asset
	}
	now := c.clock.Now().UTC()
	a.Path = ch.Path
	if a.Name == "" {
		a.Name = path.Base(ch.Path)
	}
	if ch.Payload != nil {
		sum := sha256.Sum256(ch.Payload)
		a.SHA = hex.EncodeToString(sum[:])
		a.Size = int64(len(ch.Payload))
	}
	if a.SHA == "" && a.StorageURL != "" {
		sum := sha256.Sum256([]byte(a.StorageURL))
		a.SHA = hex.EncodeToString(sum[:])
	}
	if a.ID == "" {
		a.ID = AssetID(a.Path, a.SHA)
	}
	if a.MimeType == "" {
		a.MimeType = MimeTypeFor(ch.Path)
	}
	if a.Kind == "" {
		a.Kind = AssetKind(a.MimeType)
	}
	if a.Folder == "" {
		a.Folder = assetFolder(ch.Path)
	}
	if a.Collection == "" {
		a.Collection = c.identity(ch, ch.Path).Collection
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return &a
}

// AssetID derives the row id of the asset at p with content hash sha. The
// same bytes at two paths get two ids; SHA stays the content hash.
func AssetID(p, sha string) string {
	sum := sha256.Sum256([]byte(p + "\x00" + sha))
	return hex.EncodeToString(sum[:])
}

func assetFolder(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// MimeTypeFor looks up a media type by file extension.
func MimeTypeFor(p string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(p))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// AssetKind groups a media type into the coarse kind shown to editors.
func AssetKind(mimeType string) string {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image", "video", "audio", "font":
		return major
	}
	if strings.HasPrefix(mimeType, "application/pdf") || strings.HasPrefix(mimeType, "text/") {
		return "document"
	}
	return "file"
}

// IsAuthFailure reports whether err carries an AuthenticationError.
func IsAuthFailure(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
