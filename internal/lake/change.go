package lake

import (
	"fmt"
	"time"
)

// Action is the mutation a PendingChange requests.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
)

// ParseAction converts a user supplied action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete, ActionMove:
		return Action(s), nil
	}
	return "", &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", s)}
}

// ChangeKind names the record kind a change targets. Empty means "decide from
// the path".
type ChangeKind string

const (
	KindEntry ChangeKind = "entry"
	KindAsset ChangeKind = "asset"
)

// PendingChange is one requested mutation from an editing session.
type PendingChange struct {
	Action     Action     `json:"action"`
	Kind       ChangeKind `json:"kind,omitempty"`
	Path       string     `json:"path"`
	OldPath    string     `json:"old_path,omitempty"`
	Collection string     `json:"collection,omitempty"`
	Slug       string     `json:"slug,omitempty"`
	Locale     string     `json:"locale,omitempty"`
	EntryID    string     `json:"entry_id,omitempty"`
	Payload    []byte     `json:"-"`
	Record     *Entry     `json:"-"`
	Asset      *Asset     `json:"-"`
	Author     string     `json:"author,omitempty"`
}

// Validate checks the change is well formed before any mutation runs.
func (c *PendingChange) Validate() error {
	if _, err := ParseAction(string(c.Action)); err != nil {
		return err
	}
	if c.Path == "" {
		return &ValidationError{Field: "path", Message: "change path is empty"}
	}
	if c.Action == ActionMove && c.OldPath == "" {
		return &ValidationError{Field: "old_path", Message: fmt.Sprintf("move of %s has no source path", c.Path)}
	}
	switch c.Kind {
	case "", KindEntry, KindAsset:
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", c.Kind)}
	}
	if c.Locale != "" {
		if err := ValidateLocale(c.Locale); err != nil {
			return err
		}
	}
	return nil
}

// CommitResult summarizes a published commit.
type CommitResult struct {
	Hash         string
	Timestamp    time.Time
	Paths        map[string]string
	EntriesBytes int
	AssetsBytes  int
}
