package config

import (
	"strings"
	"testing"
)

func TestFullStoragePath(t *testing.T) {
	t.Run("example layout", func(t *testing.T) {
		r := &RepositoryConfig{Bucket: "my-bucket", DataPath: "cms/data"}
		if got := r.FullStoragePath("entries/blog.json"); got != "my-bucket/cms/data/entries/blog.json" {
			t.Errorf("FullStoragePath() = %q", got)
		}
	})

	t.Run("empty relative path", func(t *testing.T) {
		r := &RepositoryConfig{Bucket: "b", DataPath: "d"}
		if got := r.FullStoragePath(""); got != "b/d" {
			t.Errorf("FullStoragePath(\"\") = %q, want %q", got, "b/d")
		}
	})

	t.Run("never doubles separators", func(t *testing.T) {
		parts := []string{"", "/", "a", "/a", "a/", "/a/", "a//b", "//"}
		for _, prefix := range parts {
			for _, data := range parts {
				for _, rel := range parts {
					r := &RepositoryConfig{Bucket: "bkt/", PathPrefix: prefix, DataPath: data}
					for _, got := range []string{r.FullStoragePath(rel), r.ObjectKey(rel)} {
						if strings.Contains(got, "//") || strings.HasPrefix(got, "/") || strings.HasSuffix(got, "/") {
							t.Fatalf("prefix=%q data=%q rel=%q produced %q", prefix, data, rel, got)
						}
					}
				}
			}
		}
	})
}

func TestObjectKey_ExcludesBucket(t *testing.T) {
	r := &RepositoryConfig{Bucket: "secret-bucket", PathPrefix: "/site/", DataPath: "cms/data/"}

	if got := r.ObjectKey("entries.parquet"); got != "site/cms/data/entries.parquet" {
		t.Errorf("ObjectKey() = %q", got)
	}
	if got := r.EntriesSnapshotKey(); got != "site/cms/data/entries.parquet" {
		t.Errorf("EntriesSnapshotKey() = %q", got)
	}
	if got := r.AssetsSnapshotKey(); got != "site/cms/data/assets.parquet" {
		t.Errorf("AssetsSnapshotKey() = %q", got)
	}
	if got := r.AssetObjectKey("/media/logo.png"); got != "site/cms/data/assets/media/logo.png" {
		t.Errorf("AssetObjectKey() = %q", got)
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name string
		repo RepositoryConfig
		bust int64
		want string
	}{
		{
			name: "s3 virtual hosted",
			repo: RepositoryConfig{Bucket: "b", StorageProvider: ProviderS3, Region: "eu-west-1"},
			want: "https://b.s3.eu-west-1.amazonaws.com/cms/data/entries.parquet",
		},
		{
			name: "s3 custom endpoint is path style",
			repo: RepositoryConfig{Bucket: "b", StorageProvider: ProviderS3, Endpoint: "http://localhost:9000/"},
			want: "http://localhost:9000/b/cms/data/entries.parquet",
		},
		{
			name: "gcs",
			repo: RepositoryConfig{Bucket: "b", StorageProvider: ProviderGCS},
			bust: 1700000000000,
			want: "https://storage.googleapis.com/b/cms/data/entries.parquet?t=1700000000000",
		},
		{
			name: "r2",
			repo: RepositoryConfig{Bucket: "b", StorageProvider: ProviderR2, Endpoint: "https://acct.r2.cloudflarestorage.com"},
			want: "https://b.acct.r2.cloudflarestorage.com/cms/data/entries.parquet",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.repo.PublicURL("cms/data/entries.parquet", tt.bust)
			if err != nil {
				t.Fatalf("PublicURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PublicURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	r := RepositoryConfig{Bucket: "b", DataPath: "d", AssetMode: "inline", InlineThreshold: 10, CredentialProxyURL: "x"}
	r.Reset()
	if r != (RepositoryConfig{}) {
		t.Errorf("Reset() left %+v", r)
	}
}

func TestParsers(t *testing.T) {
	if _, err := ParseStorageProvider("azure"); err == nil {
		t.Error("ParseStorageProvider(azure) expected error")
	}
	if p, err := ParseStorageProvider("r2"); err != nil || p != ProviderR2 {
		t.Errorf("ParseStorageProvider(r2) = %q, %v", p, err)
	}
	if _, err := ParseCatalogType("postgres"); err == nil {
		t.Error("ParseCatalogType(postgres) expected error")
	}
	if _, err := ParseAssetMode(""); err == nil {
		t.Error("ParseAssetMode(\"\") expected error")
	}
}
