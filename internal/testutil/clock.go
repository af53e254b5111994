package testutil

import (
	"fmt"
	"sync"
	"time"

	"cmslake/internal/lake"
)

var (
	_ lake.Clock       = (*StubClock)(nil)
	_ lake.IDGenerator = (*StubIDGenerator)(nil)
)

// CommitTime is the instant FixedClock starts at. Commit timestamps and
// credential expiries in tests are expressed relative to it.
var CommitTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a lake.Clock that only moves when told to. Safe for
// concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to CommitTime.
func FixedClock() *StubClock {
	return NewStubClock(CommitTime)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t, which may be in the past.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// StubIDGenerator is a lake.IDGenerator handing out "<prefix>-1",
// "<prefix>-2", and so on.
type StubIDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued int
}

// NewStubIDGenerator numbers ids with the "id" prefix.
func NewStubIDGenerator() *StubIDGenerator {
	return NewPrefixedIDGenerator("id")
}

func NewPrefixedIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return fmt.Sprintf("%s-%d", g.prefix, g.issued)
}

// Issued reports how many ids have been handed out.
func (g *StubIDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}
