package lake_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmslake/internal/lake"
)

func TestRowID(t *testing.T) {
	tests := []struct {
		id, locale, def string
		want            string
	}{
		{"blog/hello", "default", "default", "blog/hello"},
		{"blog/hello", "", "default", "blog/hello"},
		{"blog/hello", "en", "en", "blog/hello"},
		{"blog/hello", "fr", "en", "blog/hello_fr"},
		{"blog/hello", "pt-BR", "default", "blog/hello_pt-BR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lake.RowID(tt.id, tt.locale, tt.def), "RowID(%q, %q, %q)", tt.id, tt.locale, tt.def)
	}
}

func TestStripLocaleSuffix(t *testing.T) {
	tests := []struct {
		rowID      string
		wantBase   string
		wantLocale string
		wantOK     bool
	}{
		{"blog/hello_fr", "blog/hello", "fr", true},
		{"blog/hello_pt-BR", "blog/hello", "pt-BR", true},
		{"blog/hello", "blog/hello", "", false},
		{"blog/my_zz", "blog/my_zz", "", false},
		{"blog/hello_FR", "blog/hello_FR", "", false},
		{"blog/hello_english", "blog/hello_english", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.rowID, func(t *testing.T) {
			base, locale, ok := lake.StripLocaleSuffix(tt.rowID)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantLocale, locale)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestDeriveIdentity(t *testing.T) {
	tests := []struct {
		path string
		want lake.Identity
	}{
		{"blog/hello.md", lake.Identity{EntryID: "blog/hello", Collection: "blog", Slug: "hello", Locale: "default"}},
		{"blog/hello.fr.md", lake.Identity{EntryID: "blog/hello", Collection: "blog", Slug: "hello", Locale: "fr"}},
		{"/blog/2024/launch.en-US.md", lake.Identity{EntryID: "blog/2024/launch", Collection: "blog", SubPath: "2024", Slug: "2024/launch", Locale: "en-US"}},
		{"pages/v1.2.md", lake.Identity{EntryID: "pages/v1.2", Collection: "pages", Slug: "v1.2", Locale: "default"}},
		{"about.json", lake.Identity{EntryID: "about", Slug: "about", Locale: "default"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, lake.DeriveIdentity(tt.path))
		})
	}
}

func TestValidateLocale(t *testing.T) {
	for _, ok := range []string{"default", "en", "fr-CA", "zh-Hant"} {
		assert.NoError(t, lake.ValidateLocale(ok), "ValidateLocale(%q)", ok)
	}
	var vErr *lake.ValidationError
	require.ErrorAs(t, lake.ValidateLocale("not a locale"), &vErr)
}

func TestPlaceAsset(t *testing.T) {
	tests := []struct {
		name      string
		mode      lake.AssetMode
		threshold int64
		size      int64
		want      lake.StorageMode
	}{
		{"inline mode under threshold", lake.AssetModeInline, 10, 5, lake.StorageInline},
		{"inline mode over threshold", lake.AssetModeInline, 10, 50, lake.StorageInline},
		{"external mode at threshold", lake.AssetModeExternal, 10, 10, lake.StorageInline},
		{"external mode over threshold", lake.AssetModeExternal, 10, 11, lake.StorageExternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lake.PlaceAsset(tt.mode, tt.threshold, tt.size))
		})
	}
}

func TestPrimaryLocale(t *testing.T) {
	e := &lake.Entry{Locales: map[string]*lake.LocalizedEntry{"fr": {}, "en": {}}}
	assert.Equal(t, "en", e.PrimaryLocale())

	e.DefaultLocale = "fr"
	assert.Equal(t, "fr", e.PrimaryLocale())

	e.Locales["default"] = &lake.LocalizedEntry{}
	e.DefaultLocale = "de"
	assert.Equal(t, "default", e.PrimaryLocale())
}
