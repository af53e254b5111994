package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"cmslake/internal/credentials"
)

// sessionFile is the persisted signing-service session. It holds a bearer
// token, so it is written with owner-only permissions.
type sessionFile struct {
	Token     string    `toml:"token"`
	ExpiresAt time.Time `toml:"expires_at,omitempty"`
	UserID    string    `toml:"user_id,omitempty"`
	Login     string    `toml:"login,omitempty"`
	Name      string    `toml:"name,omitempty"`
	Email     string    `toml:"email,omitempty"`
}

func (s *sessionFile) user() *credentials.User {
	if s.Login == "" && s.UserID == "" {
		return nil
	}
	return &credentials.User{ID: credentials.UserID(s.UserID), Login: s.Login, Name: s.Name, Email: s.Email}
}

// expired reports whether the session has a known expiry that has passed.
func (s *sessionFile) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// loadSession reads the session at path. A missing file returns nil, nil.
func loadSession(path string) (*sessionFile, error) {
	var s sessionFile
	_, err := toml.DecodeFile(path, &s)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	if s.Token == "" {
		return nil, nil
	}
	return &s, nil
}

// saveSession writes the session atomically with mode 0600.
func saveSession(path string, s *sessionFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-session-*")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting session file mode: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming session file: %w", err)
	}
	return nil
}

// removeSession deletes the session file. A missing file is not an error.
func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
