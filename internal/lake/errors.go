package lake

import (
	"fmt"
	"net/http"
)

// ConfigError reports missing or invalid configuration (proxy URL, provider,
// bucket, ...). It is returned before any I/O is attempted.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// AuthenticationError reports that the signing service rejected the session.
// Whoever returns it has already wiped the local credentials.
type AuthenticationError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthenticationError) Error() string {
	msg := "authentication failed"
	if e.Op != "" {
		msg = fmt.Sprintf("%s: authentication failed", e.Op)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (%d %s)", msg, e.Status, http.StatusText(e.Status))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed response from the signing or token
// exchange service.
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: protocol error: %s", e.Op, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// LifecycleError reports a failure to initialize, connect or tear down the
// query engine.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// SchemaError wraps failures while creating, checking or dropping the
// storage schema.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// QueryError wraps a failed read or write against the entries or assets
// table.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NotFoundError reports that no record matched.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CommitError reports a commit that did not get published. Stage names the
// pipeline step that failed.
type CommitError struct {
	Stage string
	Path  string
	Err   error
}

func (e *CommitError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("commit failed at %s (%s): %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("commit failed at %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
