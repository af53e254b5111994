package vault

import (
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cmslake/internal/config"
	"cmslake/internal/lake"
)

// Dependencies are the collaborators the remote backends need.
type Dependencies struct {
	Signer     Signer
	HTTPClient *http.Client
	S3         *s3.Client
	Bucket     string
}

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(cfg config.VaultConfig, deps Dependencies) (lake.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(), nil
	case "signed", "":
		if deps.Signer == nil {
			return nil, fmt.Errorf("signed vault requires a signer")
		}
		return NewSignedVault(deps.Signer, deps.HTTPClient), nil
	case "s3":
		v, err := NewS3Vault(deps.S3, deps.Bucket)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
