package staging

import (
	"crypto/sha256"
	"encoding/hex"

	"cmslake/internal/lake"
)

// stagedChange is the persisted form of a lake.PendingChange. The payload is
// stored separately and referenced by checksum; an empty PayloadSHA means the
// change carried no payload at all (a delete, or a move without content).
type stagedChange struct {
	lake.PendingChange
	PayloadSHA  string `json:"payload_sha,omitempty"`
	PayloadSize int64  `json:"payload_size,omitempty"`
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// toPending rebuilds the pending change with its payload loaded.
func (c *stagedChange) toPending(store stagingStore) (*lake.PendingChange, error) {
	pc := c.PendingChange
	if c.PayloadSHA == "" {
		return &pc, nil
	}
	data, err := store.ReadContent(c.PayloadSHA)
	if err != nil {
		return nil, err
	}
	pc.Payload = data
	return &pc, nil
}
