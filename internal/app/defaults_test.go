package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("CMSLAKE_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("CMSLAKE_HOME", "/custom/cmslake")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/cmslake" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/cmslake")
		}
		if defaults["log_dir"] != "/custom/cmslake/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/cmslake/log")
		}
		if defaults["session_file"] != "/custom/cmslake/session.toml" {
			t.Errorf("session_file = %q, want %q", defaults["session_file"], "/custom/cmslake/session.toml")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("CMSLAKE_CONFIG_PATH", "")
		t.Setenv("CMSLAKE_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "cmslake.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "cmslake")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}
