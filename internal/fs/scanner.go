// Package fs reads the local content tree and turns its files into pending
// changes.
package fs

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cmslake/internal/config"
	"cmslake/internal/lake"
)

// Scanner classifies files under a content root.
type Scanner struct {
	root     string
	matcher  *IgnoreMatcher
	assetExt map[string]bool
	logger   lake.Logger
}

// NewScanner creates a scanner for cfg.Root. Ignore patterns come from the
// defaults, cfg.Ignore and the root's .lakeignore file.
func NewScanner(cfg config.ContentConfig, logger lake.Logger) (*Scanner, error) {
	if cfg.Root == "" {
		return nil, &lake.ConfigError{Field: "content.root", Message: "content root is empty"}
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving content root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat content root: %w", err)
	}
	if !info.IsDir() {
		return nil, &lake.ConfigError{Field: "content.root", Message: fmt.Sprintf("%s is not a directory", root)}
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string{}, defaultIgnorePatterns...), cfg.Ignore...), fromFile...)

	if logger == nil {
		logger = lake.NewNopLogger()
	}
	return &Scanner{
		root:     root,
		matcher:  NewIgnoreMatcher(patterns),
		assetExt: assetExtensions(cfg.AssetExtensions),
		logger:   logger,
	}, nil
}

func assetExtensions(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = config.DefaultAssetExtensions
	}
	out := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	return out
}

// AssetClassifier returns a predicate that reports whether a path names an
// asset by its extension. An empty list means DefaultAssetExtensions.
func AssetClassifier(exts []string) func(p string) bool {
	set := assetExtensions(exts)
	return func(p string) bool { return set[strings.ToLower(path.Ext(p))] }
}

// Root returns the absolute content root.
func (s *Scanner) Root() string { return s.root }

// IsAsset reports whether a content path names an asset by its extension.
func (s *Scanner) IsAsset(p string) bool {
	return s.assetExt[strings.ToLower(path.Ext(p))]
}

// Ignored reports whether a content path is excluded from syncing.
func (s *Scanner) Ignored(rel string) bool {
	return s.matcher.Match(rel)
}

// Rel converts a path (absolute, or relative to the working directory) into
// a slash-separated content path. Paths outside the root are rejected.
func (s *Scanner) Rel(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		var err error
		if abs, err = filepath.Abs(p); err != nil {
			return "", fmt.Errorf("resolving absolute path: %w", err)
		}
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &lake.ValidationError{Field: "path", Message: fmt.Sprintf("%s is outside the content root %s", p, s.root)}
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// Scan walks the root and returns the content path of every regular file
// that is not ignored, sorted.
func (s *Scanner) Scan() ([]string, error) {
	return s.walk(s.root)
}

func (s *Scanner) walk(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		if rel == "." {
			return nil
		}
		if s.matcher.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// ChangeFor builds the pending change for one content path: a create
// carrying the file bytes when the file exists, a delete when it does not.
// Ignored paths return nil.
func (s *Scanner) ChangeFor(rel string) (*lake.PendingChange, error) {
	rel = strings.Trim(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if rel == "" {
		return nil, &lake.ValidationError{Field: "path", Message: "content path is empty"}
	}
	if s.matcher.Match(rel) {
		return nil, nil
	}

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Lstat(full)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return s.describe(&lake.PendingChange{Action: lake.ActionDelete, Path: rel}), nil
	case err != nil:
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	if err := checkRegular(full, info); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	if data == nil {
		data = []byte{}
	}
	return s.describe(&lake.PendingChange{Action: lake.ActionCreate, Path: rel, Payload: data}), nil
}

// describe fills kind and identity fields from the path.
func (s *Scanner) describe(ch *lake.PendingChange) *lake.PendingChange {
	id := lake.DeriveIdentity(ch.Path)
	ch.Collection = id.Collection
	if s.IsAsset(ch.Path) {
		ch.Kind = lake.KindAsset
		return ch
	}
	ch.Kind = lake.KindEntry
	ch.Slug = id.Slug
	ch.Locale = id.Locale
	ch.EntryID = id.EntryID
	return ch
}

// Changes builds pending changes for paths, which may be files or
// directories (walked recursively). With no paths the whole root is
// scanned. Files that vanished become deletes.
func (s *Scanner) Changes(paths []string) ([]*lake.PendingChange, error) {
	var rels []string
	if len(paths) == 0 {
		all, err := s.Scan()
		if err != nil {
			return nil, err
		}
		rels = all
	}
	for _, p := range paths {
		rel, err := s.Rel(p)
		if err != nil {
			return nil, err
		}
		full := filepath.Join(s.root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err == nil && info.IsDir() {
			found, err := s.walk(full)
			if err != nil {
				return nil, err
			}
			rels = append(rels, found...)
			continue
		}
		rels = append(rels, rel)
	}

	seen := make(map[string]bool, len(rels))
	var out []*lake.PendingChange
	for _, rel := range rels {
		if seen[rel] {
			continue
		}
		seen[rel] = true
		ch, err := s.ChangeFor(rel)
		if err != nil {
			return nil, err
		}
		if ch == nil {
			s.logger.Debug("skipping ignored path", "path", rel)
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

// checkRegular rejects the special file types the content tree cannot hold.
func checkRegular(full string, info iofs.FileInfo) error {
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return fmt.Errorf("symlinks not supported: %s", full)
	case mode&os.ModeDevice != 0:
		return fmt.Errorf("device files not supported: %s", full)
	case mode&os.ModeNamedPipe != 0:
		return fmt.Errorf("named pipes not supported: %s", full)
	case mode&os.ModeSocket != 0:
		return fmt.Errorf("sockets not supported: %s", full)
	case info.IsDir():
		return fmt.Errorf("cannot stage directory as file: %s", full)
	}
	return nil
}
