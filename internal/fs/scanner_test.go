package fs

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"cmslake/internal/config"
	"cmslake/internal/lake"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("creating dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

func newTestScanner(t *testing.T, files map[string]string, ignore ...string) *Scanner {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)
	s, err := NewScanner(config.ContentConfig{Root: root, Ignore: ignore}, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	return s
}

func TestNewScanner(t *testing.T) {
	t.Run("rejects empty root", func(t *testing.T) {
		var cfgErr *lake.ConfigError
		if _, err := NewScanner(config.ContentConfig{}, nil); !errors.As(err, &cfgErr) {
			t.Errorf("NewScanner() error = %v, want ConfigError", err)
		}
	})

	t.Run("rejects a file root", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f")
		if err := os.WriteFile(file, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewScanner(config.ContentConfig{Root: file}, nil); err == nil {
			t.Error("NewScanner() error = nil, want error")
		}
	})

	t.Run("normalizes asset extensions", func(t *testing.T) {
		s, err := NewScanner(config.ContentConfig{Root: t.TempDir(), AssetExtensions: []string{"PNG", ".tiff"}}, nil)
		if err != nil {
			t.Fatalf("NewScanner() error = %v", err)
		}
		for p, want := range map[string]bool{"a.png": true, "b.TIFF": true, "c.jpg": false, "d.md": false} {
			if got := s.IsAsset(p); got != want {
				t.Errorf("IsAsset(%q) = %v, want %v", p, got, want)
			}
		}
	})
}

func TestScanner_Scan(t *testing.T) {
	s := newTestScanner(t, map[string]string{
		"blog/hello.md":         "# hi",
		"blog/hello.fr.md":      "# salut",
		"blog/drafts/wip.md":    "wip",
		"static/logo.png":       "png",
		".git/HEAD":             "ref",
		"notes.swp":             "x",
		".lakeignore":           "# local\ndrafts\n",
		"pages/about/index.md":  "about",
		"pages/about/.DS_Store": "",
	}, "pages/about/index.md")

	got, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := []string{"blog/hello.fr.md", "blog/hello.md", "static/logo.png"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan() = %v, want %v", got, want)
	}
}

func TestScanner_ChangeFor(t *testing.T) {
	s := newTestScanner(t, map[string]string{
		"blog/2024/hello.fr.md": "---\ntitle: Salut\n---\nbody",
		"static/img/logo.png":   "png-bytes",
		"empty.md":              "",
	})

	t.Run("localized entry", func(t *testing.T) {
		ch, err := s.ChangeFor("blog/2024/hello.fr.md")
		if err != nil {
			t.Fatalf("ChangeFor() error = %v", err)
		}
		want := &lake.PendingChange{
			Action:     lake.ActionCreate,
			Kind:       lake.KindEntry,
			Path:       "blog/2024/hello.fr.md",
			Collection: "blog",
			Slug:       "2024/hello",
			Locale:     "fr",
			EntryID:    "blog/2024/hello",
			Payload:    []byte("---\ntitle: Salut\n---\nbody"),
		}
		if !reflect.DeepEqual(ch, want) {
			t.Errorf("ChangeFor() = %+v, want %+v", ch, want)
		}
	})

	t.Run("asset", func(t *testing.T) {
		ch, err := s.ChangeFor("static/img/logo.png")
		if err != nil {
			t.Fatalf("ChangeFor() error = %v", err)
		}
		if ch.Kind != lake.KindAsset || ch.Collection != "static" || string(ch.Payload) != "png-bytes" {
			t.Errorf("ChangeFor() = %+v", ch)
		}
		if ch.Locale != "" || ch.EntryID != "" {
			t.Errorf("asset change carries entry identity: %+v", ch)
		}
	})

	t.Run("empty file keeps a non-nil payload", func(t *testing.T) {
		ch, err := s.ChangeFor("empty.md")
		if err != nil {
			t.Fatalf("ChangeFor() error = %v", err)
		}
		if ch.Payload == nil {
			t.Error("ChangeFor().Payload = nil, want empty")
		}
		if ch.Locale != lake.DefaultLocale {
			t.Errorf("ChangeFor().Locale = %q, want %q", ch.Locale, lake.DefaultLocale)
		}
	})

	t.Run("missing file becomes delete", func(t *testing.T) {
		ch, err := s.ChangeFor("blog/gone.md")
		if err != nil {
			t.Fatalf("ChangeFor() error = %v", err)
		}
		if ch.Action != lake.ActionDelete || ch.Payload != nil {
			t.Errorf("ChangeFor() = %+v, want delete without payload", ch)
		}
	})

	t.Run("ignored path returns nil", func(t *testing.T) {
		ch, err := s.ChangeFor(".git/config")
		if err != nil || ch != nil {
			t.Errorf("ChangeFor() = %+v, %v; want nil, nil", ch, err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		var vErr *lake.ValidationError
		if _, err := s.ChangeFor("/"); !errors.As(err, &vErr) {
			t.Errorf("ChangeFor() error = %v, want ValidationError", err)
		}
	})
}

func TestScanner_Changes(t *testing.T) {
	s := newTestScanner(t, map[string]string{
		"blog/a.md":       "a",
		"blog/b.md":       "b",
		"docs/c.md":       "c",
		"static/logo.png": "png",
	})

	t.Run("no paths scans everything", func(t *testing.T) {
		changes, err := s.Changes(nil)
		if err != nil {
			t.Fatalf("Changes() error = %v", err)
		}
		if len(changes) != 4 {
			t.Errorf("Changes() returned %d changes, want 4", len(changes))
		}
	})

	t.Run("directory and file arguments", func(t *testing.T) {
		changes, err := s.Changes([]string{
			filepath.Join(s.Root(), "blog"),
			filepath.Join(s.Root(), "blog", "a.md"),
			filepath.Join(s.Root(), "docs", "removed.md"),
		})
		if err != nil {
			t.Fatalf("Changes() error = %v", err)
		}
		var got []string
		for _, ch := range changes {
			got = append(got, string(ch.Action)+":"+ch.Path)
		}
		want := []string{"create:blog/a.md", "create:blog/b.md", "delete:docs/removed.md"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Changes() = %v, want %v", got, want)
		}
	})

	t.Run("path outside root", func(t *testing.T) {
		var vErr *lake.ValidationError
		if _, err := s.Changes([]string{t.TempDir()}); !errors.As(err, &vErr) {
			t.Errorf("Changes() error = %v, want ValidationError", err)
		}
	})
}

func TestAssetClassifier(t *testing.T) {
	isAsset := AssetClassifier(nil)
	for p, want := range map[string]bool{"static/a.PNG": true, "docs/manual.pdf": true, "blog/post.md": false, "README": false} {
		if got := isAsset(p); got != want {
			t.Errorf("AssetClassifier(nil)(%q) = %v, want %v", p, got, want)
		}
	}

	custom := AssetClassifier([]string{"raw"})
	if !custom("photos/x.raw") || custom("static/a.png") {
		t.Error("AssetClassifier([raw]) does not use the custom list")
	}
}
