package testutil

import (
	"context"
	"testing"

	"cmslake/internal/engine"
)

// NewTestEngine starts an engine with a private in-memory catalog and opens
// its connection. The engine is closed when the test completes.
func NewTestEngine(t *testing.T) (*engine.Manager, *engine.Conn) {
	t.Helper()

	m := engine.NewManager(engine.Options{CatalogType: engine.CatalogMemory})
	conn, err := m.Connection(context.Background())
	if err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}

	t.Cleanup(func() {
		m.Close()
	})

	return m, conn
}
