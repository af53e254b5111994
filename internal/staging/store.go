package staging

// stagingStore abstracts the storage mechanics for a staging area.
// Implementations handle payload storage and queue management.
// Concurrency is managed by the caller (stagingArea.mu), so stores
// do not need to be safe for concurrent use.
type stagingStore interface {
	// StoreContent stores data under its SHA-256 checksum. Storing content
	// that already exists is a no-op.
	StoreContent(checksum string, data []byte) error

	// HasContent reports whether content with checksum is stored.
	HasContent(checksum string) (bool, error)

	// RemoveContent removes stored content by checksum (best-effort).
	RemoveContent(checksum string)

	// ReadContent returns the stored content for checksum.
	ReadContent(checksum string) ([]byte, error)

	// ContentSize returns total bytes of all stored content.
	ContentSize() (int64, error)

	// Append adds a change to the end of the queue.
	Append(op *stagedChange) error

	// All returns the queued changes in order.
	All() ([]*stagedChange, error)

	// Truncate removes the first n changes from the queue.
	Truncate(n int) error

	// Len returns the number of changes in the queue.
	Len() (int, error)
}
