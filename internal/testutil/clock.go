package testutil

import (
	"fmt"
	"sync"
	"time"

	"lessonvault/internal/license"
	"lessonvault/internal/offline"
)

var (
	_ license.Clock       = (*StubClock)(nil)
	_ offline.Clock       = (*StubClock)(nil)
	_ license.IDGenerator = (*StubIDGenerator)(nil)
)

// LessonEpoch is the moment every FixedClock starts at. Package timestamps in
// golden fixtures are written against it.
var LessonEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// StubClock drives both the license server and the client in tests. Safe for
// concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to LessonEpoch.
func FixedClock() *StubClock {
	return NewStubClock(LessonEpoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, e.g. past a fetch URL's expiry.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator hands out license ids "lic-1", "lic-2", ... in issue order.
type StubIDGenerator struct {
	mu    sync.Mutex
	count int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return fmt.Sprintf("lic-%d", g.count)
}

// Issued reports how many ids have been handed out.
func (g *StubIDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}
