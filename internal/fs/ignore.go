package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFile is the per-root file listing extra ignore patterns.
const IgnoreFile = ".lakeignore"

// defaultIgnorePatterns are always applied regardless of config or .lakeignore.
var defaultIgnorePatterns = []string{IgnoreFile, ".git", ".DS_Store", "*.swp", "*~", ".tmp-*"}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match any path segment
}

// IgnoreMatcher checks file paths against a set of ignore patterns.
// Patterns without '/' match any single path segment, so "drafts" ignores
// every file below a drafts directory. Patterns with '/' match against the
// full relative path from the content root, or a leading part of it.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be ignored.
// relativePath should use filepath separators and be relative to the directory root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 {
		return false
	}

	// Normalize to forward slashes for consistent matching.
	normalized := strings.Trim(filepath.ToSlash(relativePath), "/")
	if normalized == "" {
		return false
	}
	segments := strings.Split(normalized, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			if matchPrefix(p.pattern, segments) {
				return true
			}
			continue
		}
		for _, seg := range segments {
			// Bad patterns never match.
			if ok, err := path.Match(p.pattern, seg); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// matchPrefix matches pattern against the path and each of its parent
// directories.
func matchPrefix(pattern string, segments []string) bool {
	pattern = strings.Trim(pattern, "/")
	for i := len(segments); i > 0; i-- {
		if ok, err := path.Match(pattern, strings.Join(segments[:i], "/")); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads a .lakeignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
