package config

import (
	"fmt"

	"cmslake/internal/lake"
)

// Validate checks the whole configuration before any component is built.
func (c *Config) Validate() error {
	if err := c.Repository.Validate(); err != nil {
		return err
	}

	switch c.Credentials.Mode {
	case "", "proxy":
		if c.Repository.CredentialProxyURL == "" {
			return &lake.ConfigError{Field: "repository.credential_proxy_url", Message: "proxy mode needs the signing service URL"}
		}
		switch c.Credentials.OAuthProvider {
		case "github", "gitlab":
		default:
			return &lake.ConfigError{Field: "credentials.oauth_provider", Message: fmt.Sprintf("unsupported provider %q", c.Credentials.OAuthProvider)}
		}
	case "direct":
		if c.Repository.StorageProvider != ProviderS3 && c.Repository.StorageProvider != ProviderR2 {
			return &lake.ConfigError{Field: "credentials.mode", Message: "direct signing needs an S3-compatible provider"}
		}
	default:
		return &lake.ConfigError{Field: "credentials.mode", Message: fmt.Sprintf("unknown mode %q", c.Credentials.Mode)}
	}

	switch c.Credentials.Cache {
	case "", "memory":
	case "redis":
		if c.Credentials.RedisAddr == "" {
			return &lake.ConfigError{Field: "credentials.redis_addr", Message: "redis cache needs an address"}
		}
	default:
		return &lake.ConfigError{Field: "credentials.cache", Message: fmt.Sprintf("unknown cache %q", c.Credentials.Cache)}
	}

	switch c.Vault.Type {
	case "", "signed", "s3", "memory":
	case "filesystem":
		if c.Vault.FSVaultRoot == "" {
			return &lake.ConfigError{Field: "vault.fs_vault_root", Message: "filesystem vault needs a root"}
		}
	default:
		return &lake.ConfigError{Field: "vault.type", Message: fmt.Sprintf("unknown vault type %q", c.Vault.Type)}
	}

	if c.Content.DefaultLocale != "" {
		if err := lake.ValidateLocale(c.Content.DefaultLocale); err != nil {
			return err
		}
	}
	return nil
}
