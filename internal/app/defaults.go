package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CMSLAKE_CONFIG_PATH: config file location (default: ~/.config/cmslake.toml)
//   - CMSLAKE_HOME: base directory for cmslake data (default: ~/.local/share/cmslake)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path":  configPath,
		"base_dir":     baseDir,
		"log_dir":      filepath.Join(baseDir, "log"),
		"session_file": filepath.Join(baseDir, "session.toml"),
	}, nil
}

// getConfigPath returns the config file path, checking CMSLAKE_CONFIG_PATH first,
// then falling back to the default ~/.config/cmslake.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CMSLAKE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "cmslake.toml"), nil
}

// getBaseDir returns the base directory for cmslake data, checking CMSLAKE_HOME first,
// then falling back to the XDG default ~/.local/share/cmslake.
func getBaseDir() (string, error) {
	if path := os.Getenv("CMSLAKE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "cmslake"), nil
}
