package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for cmslake.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Repository  RepositoryConfig  `toml:"repository"`
	Credentials CredentialsConfig `toml:"credentials"`
	Engine      EngineConfig      `toml:"engine"`
	Vault       VaultConfig       `toml:"vault"`
	Staging     StagingConfig     `toml:"staging"`
	Content     ContentConfig     `toml:"content"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// CredentialsConfig selects how signed URLs are obtained and where they are
// cached. Mode and Cache are tagged unions.
type CredentialsConfig struct {
	Mode          string `toml:"mode"`           // "proxy" (default) or "direct"
	OAuthProvider string `toml:"oauth_provider"` // "github" or "gitlab"
	SessionFile   string `toml:"session_file,omitempty"`

	// Direct-mode fields (only used when Mode == "direct")
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	URLTTLSeconds   int    `toml:"url_ttl_seconds,omitempty"`

	Cache string `toml:"cache"` // "memory" (default) or "redis"

	// Redis-specific fields (only used when Cache == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisPrefix   string `toml:"redis_prefix,omitempty"`
}

// EngineConfig tunes the embedded query engine.
type EngineConfig struct {
	QueueSize int `toml:"queue_size,omitempty"`
}

// VaultConfig represents the object storage backend that receives snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "signed" (default), "s3", "filesystem" or "memory"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// StagingConfig represents configuration for the staging queue.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size"`              // max total payload bytes; must be positive
}

// ContentConfig describes the local content tree that is scanned and watched.
type ContentConfig struct {
	Root            string   `toml:"root"`
	DefaultLocale   string   `toml:"default_locale"`
	Ignore          []string `toml:"ignore"`
	AssetExtensions []string `toml:"asset_extensions"`
}

// MetricsConfig enables the Prometheus endpoint in watch mode.
type MetricsConfig struct {
	Listen string `toml:"listen,omitempty"` // e.g. "127.0.0.1:9464"; empty disables
}

// DefaultAssetExtensions are the file extensions treated as assets when the
// config lists none.
var DefaultAssetExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif",
	".pdf", ".mp4", ".webm", ".mp3", ".wav", ".woff", ".woff2", ".zip",
}

// NewConfig creates a Config with default settings rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Repository: RepositoryConfig{
			DataPath:        "cms/data",
			StorageProvider: ProviderS3,
			CatalogType:     CatalogSQLite,
			CatalogEndpoint: filepath.Join(baseDir, "catalog.db"),
			AssetMode:       "external",
			InlineThreshold: DefaultInlineThreshold,
		},
		Credentials: CredentialsConfig{
			Mode:          "proxy",
			OAuthProvider: "github",
			SessionFile:   filepath.Join(baseDir, "session.toml"),
			Cache:         "memory",
		},
		Vault: VaultConfig{Type: "signed"},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
			MaxSize:    256 * 1024 * 1024,
		},
		Content: ContentConfig{
			DefaultLocale:   "default",
			AssetExtensions: DefaultAssetExtensions,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// the file can hold static bucket credentials
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
