package testutil

import (
	"fmt"
	"sync"
	"time"

	"quotesync/internal/qsync"
)

// SnapshotResolution is the smallest step that changes a snapshot key.
const SnapshotResolution = time.Millisecond

// StubClock is a manually driven clock for queue and snapshot tests. Safe
// for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC, whose
// snapshot stamp is "2024-01-15T10-30-00-000Z".
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, for example past a retry delay.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SnapshotStamp is the key timestamp a snapshot uploaded now would get.
func (c *StubClock) SnapshotStamp() string {
	return qsync.SnapshotTimestamp(c.Now())
}

// NextSnapshot moves the clock by SnapshotResolution so the next upload of
// the same quote gets a distinct key, and returns the new stamp.
func (c *StubClock) NextSnapshot() string {
	c.Advance(SnapshotResolution)
	return c.SnapshotStamp()
}

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}

var (
	_ qsync.Clock       = (*StubClock)(nil)
	_ qsync.IDGenerator = (*StubIDGenerator)(nil)
)
