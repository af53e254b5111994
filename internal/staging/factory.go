package staging

import (
	"fmt"

	"cmslake/internal/config"
	"cmslake/internal/lake"
)

// DefaultMaxSize is the default maximum staging area size (64MB).
const DefaultMaxSize int64 = 64 * 1024 * 1024

// NewStagingAreaFromConfig creates a StagingArea implementation based on the config type.
func NewStagingAreaFromConfig(cfg config.StagingConfig) (lake.StagingArea, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStagingArea(maxSize), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, &lake.ConfigError{Field: "staging.staging_dir", Message: "filesystem staging area requires staging_dir to be set"}
		}
		return NewFileSystemStagingArea(cfg.StagingDir, maxSize)
	default:
		return nil, &lake.ConfigError{Field: "staging.type", Message: fmt.Sprintf("unknown staging area type: %s", cfg.Type)}
	}
}
