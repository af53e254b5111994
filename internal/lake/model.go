package lake

import (
	"fmt"
	"sort"
	"time"

	"cmslake/internal/content"
)

// DefaultLocale is the sentinel locale for entries that are not localized.
const DefaultLocale = "default"

// Entry is one logical content record, possibly rendered in several locales.
type Entry struct {
	ID            string
	Collection    string
	SubPath       string
	SHA           string
	DefaultLocale string
	Status        string
	Author        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Locales       map[string]*LocalizedEntry
}

// LocalizedEntry is one locale's rendering of an Entry. Path uniquely
// identifies the storage row.
type LocalizedEntry struct {
	Slug    string
	Path    string
	Content content.Value
}

// PrimaryLocale picks the locale whose rendering stands for the entry as a
// whole: the declared default, the sentinel, the only locale, or the first
// locale in sorted order.
func (e *Entry) PrimaryLocale() string {
	if e.DefaultLocale != "" {
		if _, ok := e.Locales[e.DefaultLocale]; ok {
			return e.DefaultLocale
		}
	}
	if _, ok := e.Locales[DefaultLocale]; ok {
		return DefaultLocale
	}
	keys := e.LocaleKeys()
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// LocaleKeys returns the entry's locales sorted.
func (e *Entry) LocaleKeys() []string {
	keys := make([]string, 0, len(e.Locales))
	for k := range e.Locales {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StorageMode records where an asset's bytes live.
type StorageMode string

const (
	StorageInline   StorageMode = "inline"
	StorageExternal StorageMode = "external"
)

// ParseStorageMode converts a stored storage_mode column value.
func ParseStorageMode(s string) (StorageMode, error) {
	switch StorageMode(s) {
	case StorageInline, StorageExternal:
		return StorageMode(s), nil
	}
	return "", fmt.Errorf("unknown storage mode %q", s)
}

// AssetMode is the repository-wide asset placement policy.
type AssetMode string

const (
	AssetModeInline   AssetMode = "inline"
	AssetModeExternal AssetMode = "external"
)

// DefaultInlineThreshold is the largest asset kept inline under the external
// policy.
const DefaultInlineThreshold int64 = 256 * 1024

// PlaceAsset decides where content of the given size is stored. The inline
// policy always inlines; the external policy inlines only at or below
// threshold.
func PlaceAsset(mode AssetMode, threshold, size int64) StorageMode {
	if mode == AssetModeInline {
		return StorageInline
	}
	if size <= threshold {
		return StorageInline
	}
	return StorageExternal
}

// Asset is a binary or media object. Exactly one of Content and StorageURL is
// set, as StorageMode says.
type Asset struct {
	ID          string
	SHA         string
	Path        string
	Name        string
	MimeType    string
	Size        int64
	Kind        string
	StorageMode StorageMode
	Content     []byte
	StorageURL  string
	Folder      string
	Collection  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AssetContent is the stored payload of one asset.
type AssetContent struct {
	Content     []byte
	StorageURL  string
	StorageMode StorageMode
}
