package database

import (
	"fmt"

	"cmslake/internal/config"
	"cmslake/internal/engine"
)

// NewManagerFromConfig creates an engine manager whose catalog follows the
// repository catalog type.
func NewManagerFromConfig(cfg config.RepositoryConfig, opts engine.Options) (*engine.Manager, error) {
	switch cfg.CatalogType {
	case config.CatalogSQLite:
		if cfg.CatalogEndpoint == "" {
			return nil, fmt.Errorf("catalog_endpoint required for sqlite catalog")
		}
		opts.CatalogType = engine.CatalogSQLite
		opts.CatalogPath = cfg.CatalogEndpoint
	case config.CatalogMemory, "":
		opts.CatalogType = engine.CatalogMemory
		opts.CatalogPath = ""
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.CatalogType)
	}
	return engine.NewManager(opts), nil
}
