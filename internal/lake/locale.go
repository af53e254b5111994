package lake

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

var localeSuffix = regexp.MustCompile(`_([a-z]{2})(?:-([A-Z]{2}))?$`)

// RowID returns the storage row id of one locale of an entry. The default
// locale is stored under the bare entry id, every other locale as
// "{id}_{locale}".
func RowID(entryID, locale, defaultLocale string) string {
	if locale == "" || locale == DefaultLocale || locale == defaultLocale {
		return entryID
	}
	return entryID + "_" + locale
}

// StripLocaleSuffix recovers the base id and locale from a composite row id.
// Only suffixes naming a known ISO 639 language (and optional ISO 3166
// region) are stripped, so ids like "guide_zz" stay intact.
func StripLocaleSuffix(rowID string) (base, locale string, ok bool) {
	m := localeSuffix.FindStringSubmatchIndex(rowID)
	if m == nil {
		return rowID, "", false
	}
	lang := rowID[m[2]:m[3]]
	if _, err := language.ParseBase(lang); err != nil {
		return rowID, "", false
	}
	locale = lang
	if m[4] >= 0 {
		region := rowID[m[4]:m[5]]
		if _, err := language.ParseRegion(region); err != nil {
			return rowID, "", false
		}
		locale = lang + "-" + region
	}
	return rowID[:m[0]], locale, true
}

// ValidateLocale accepts the default sentinel or a well-formed BCP 47 tag.
func ValidateLocale(locale string) error {
	if locale == DefaultLocale {
		return nil
	}
	if _, err := language.Parse(locale); err != nil {
		return &ValidationError{Field: "locale", Message: fmt.Sprintf("invalid locale %q: %v", locale, err)}
	}
	return nil
}

// Identity is the entry addressing derived from a content path.
type Identity struct {
	EntryID    string
	Collection string
	SubPath    string
	Slug       string
	Locale     string
}

// DeriveIdentity splits a content path such as "blog/2024/hello.fr.md" into
// its collection ("blog"), sub path ("2024"), slug ("2024/hello") and locale
// ("fr"). A file without a locale marker gets the default sentinel.
func DeriveIdentity(p string) Identity {
	p = strings.Trim(path.Clean("/"+p), "/")
	dir, file := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")

	stem := strings.TrimSuffix(file, path.Ext(file))
	locale := DefaultLocale
	if ext := path.Ext(stem); ext != "" {
		candidate := ext[1:]
		if isLocaleTag(candidate) {
			locale = candidate
			stem = strings.TrimSuffix(stem, ext)
		}
	}

	var id Identity
	id.Locale = locale
	collection, sub, _ := strings.Cut(dir, "/")
	id.Collection = collection
	id.SubPath = sub
	if sub != "" {
		id.Slug = sub + "/" + stem
	} else {
		id.Slug = stem
	}
	if collection != "" {
		id.EntryID = collection + "/" + id.Slug
	} else {
		id.EntryID = id.Slug
	}
	return id
}

func isLocaleTag(s string) bool {
	lang, region, hasRegion := strings.Cut(s, "-")
	if len(lang) != 2 || strings.ToLower(lang) != lang {
		return false
	}
	if _, err := language.ParseBase(lang); err != nil {
		return false
	}
	if hasRegion {
		if len(region) != 2 || strings.ToUpper(region) != region {
			return false
		}
		if _, err := language.ParseRegion(region); err != nil {
			return false
		}
	}
	return true
}
