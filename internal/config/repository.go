package config

import (
	"fmt"
	"net/url"
	"strings"

	"cmslake/internal/lake"
)

// Provider names an object storage service.
type Provider string

const (
	ProviderS3  Provider = "s3"
	ProviderGCS Provider = "gcs"
	ProviderR2  Provider = "r2"
)

// CatalogType selects where the lake namespace lives.
type CatalogType string

const (
	CatalogMemory CatalogType = "memory"
	CatalogSQLite CatalogType = "sqlite"
)

// DefaultInlineThreshold is the largest asset kept inline under the external
// asset mode.
const DefaultInlineThreshold = lake.DefaultInlineThreshold

const (
	entriesSnapshotFile = "entries.parquet"
	assetsSnapshotFile  = "assets.parquet"
)

// RepositoryConfig locates the repository's snapshots and decides how assets
// are placed. The zero value is the reset state.
type RepositoryConfig struct {
	Bucket             string      `toml:"bucket"`
	DataPath           string      `toml:"data_path"`
	PathPrefix         string      `toml:"path_prefix,omitempty"`
	StorageProvider    Provider    `toml:"storage_provider"`
	Region             string      `toml:"region,omitempty"`
	Endpoint           string      `toml:"endpoint,omitempty"`
	CatalogType        CatalogType `toml:"catalog_type"`
	CatalogEndpoint    string      `toml:"catalog_endpoint,omitempty"`
	AssetMode          string      `toml:"asset_mode"`
	InlineThreshold    int64       `toml:"inline_threshold,omitempty"`
	CredentialProxyURL string      `toml:"credential_proxy_url,omitempty"`
}

// Reset clears every field.
func (r *RepositoryConfig) Reset() {
	*r = RepositoryConfig{}
}

// Validate checks the settings needed to read and publish snapshots.
func (r *RepositoryConfig) Validate() error {
	if r.Bucket == "" {
		return &lake.ConfigError{Field: "repository.bucket", Message: "bucket is required"}
	}
	if _, err := ParseStorageProvider(string(r.StorageProvider)); err != nil {
		return err
	}
	if _, err := ParseCatalogType(string(r.CatalogType)); err != nil {
		return err
	}
	if _, err := ParseAssetMode(r.AssetMode); err != nil {
		return err
	}
	if r.InlineThreshold < 0 {
		return &lake.ConfigError{Field: "repository.inline_threshold", Message: "must not be negative"}
	}
	if r.StorageProvider == ProviderR2 && r.Endpoint == "" {
		return &lake.ConfigError{Field: "repository.endpoint", Message: "r2 needs the account endpoint"}
	}
	return nil
}

// Threshold returns the inline threshold, defaulted when unset.
func (r *RepositoryConfig) Threshold() int64 {
	if r.InlineThreshold <= 0 {
		return DefaultInlineThreshold
	}
	return r.InlineThreshold
}

// Mode returns the parsed asset mode, defaulting to external.
func (r *RepositoryConfig) Mode() lake.AssetMode {
	m, err := ParseAssetMode(r.AssetMode)
	if err != nil {
		return lake.AssetModeExternal
	}
	return m
}

// ObjectKey joins the path prefix, data path and rel into the object key the
// signing service receives. The bucket is not part of it.
func (r *RepositoryConfig) ObjectKey(rel string) string {
	return joinPath(r.PathPrefix, r.DataPath, rel)
}

// FullStoragePath is ObjectKey qualified with the bucket, for display and
// public URLs.
func (r *RepositoryConfig) FullStoragePath(rel string) string {
	return joinPath(r.Bucket, r.PathPrefix, r.DataPath, rel)
}

// EntriesSnapshotKey is the object key of the entries snapshot.
func (r *RepositoryConfig) EntriesSnapshotKey() string {
	return r.ObjectKey(entriesSnapshotFile)
}

// AssetsSnapshotKey is the object key of the assets snapshot.
func (r *RepositoryConfig) AssetsSnapshotKey() string {
	return r.ObjectKey(assetsSnapshotFile)
}

// AssetObjectKey is the object key for the external bytes of an asset.
func (r *RepositoryConfig) AssetObjectKey(assetPath string) string {
	return r.ObjectKey(joinPath("assets", assetPath))
}

// PublicURL builds the public read URL of an object key. A positive bust
// appends a cache-defeating query parameter.
func (r *RepositoryConfig) PublicURL(key string, bust int64) (string, error) {
	escaped := escapePath(key)
	var out string
	switch r.StorageProvider {
	case ProviderS3, "":
		if r.Endpoint != "" {
			out = strings.TrimSuffix(r.Endpoint, "/") + "/" + url.PathEscape(r.Bucket) + "/" + escaped
			break
		}
		region := r.Region
		if region == "" {
			region = "us-east-1"
		}
		out = fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", r.Bucket, region, escaped)
	case ProviderGCS:
		out = fmt.Sprintf("https://storage.googleapis.com/%s/%s", url.PathEscape(r.Bucket), escaped)
	case ProviderR2:
		u, err := url.Parse(r.Endpoint)
		if err != nil || u.Host == "" {
			return "", &lake.ConfigError{Field: "repository.endpoint", Message: fmt.Sprintf("invalid r2 endpoint %q", r.Endpoint)}
		}
		u.Host = r.Bucket + "." + u.Host
		out = strings.TrimSuffix(u.String(), "/") + "/" + escaped
	default:
		return "", &lake.ConfigError{Field: "repository.storage_provider", Message: fmt.Sprintf("unknown provider %q", r.StorageProvider)}
	}
	if bust > 0 {
		out = fmt.Sprintf("%s?t=%d", out, bust)
	}
	return out, nil
}

// ParseStorageProvider validates a provider name.
func ParseStorageProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderS3, ProviderGCS, ProviderR2:
		return Provider(s), nil
	}
	return "", &lake.ConfigError{Field: "repository.storage_provider", Message: fmt.Sprintf("unknown provider %q (want s3, gcs or r2)", s)}
}

// ParseCatalogType validates a catalog type.
func ParseCatalogType(s string) (CatalogType, error) {
	switch CatalogType(s) {
	case CatalogMemory, CatalogSQLite:
		return CatalogType(s), nil
	}
	return "", &lake.ConfigError{Field: "repository.catalog_type", Message: fmt.Sprintf("unknown catalog type %q (want memory or sqlite)", s)}
}

// ParseAssetMode validates an asset mode.
func ParseAssetMode(s string) (lake.AssetMode, error) {
	switch lake.AssetMode(s) {
	case lake.AssetModeInline, lake.AssetModeExternal:
		return lake.AssetMode(s), nil
	}
	return "", &lake.ConfigError{Field: "repository.asset_mode", Message: fmt.Sprintf("unknown asset mode %q (want inline or external)", s)}
}

// joinPath joins parts with "/" dropping empty segments, so no combination of
// leading or trailing separators yields "//" or an edge separator.
func joinPath(parts ...string) string {
	segs := make([]string, 0, len(parts)*2)
	for _, p := range parts {
		for _, s := range strings.Split(p, "/") {
			if s != "" {
				segs = append(segs, s)
			}
		}
	}
	return strings.Join(segs, "/")
}

func escapePath(key string) string {
	segs := strings.Split(joinPath(key), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
