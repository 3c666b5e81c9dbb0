// Package quota enforces the provider's daily request allowance.
package quota

import (
	"sync"
	"time"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

// DefaultDailyLimit matches the provider's free-tier allowance.
const DefaultDailyLimit = 100

// Guard counts accepted requests per UTC day.
type Guard struct {
	mu    sync.Mutex
	limit int
	clock ingest.Clock
	day   string
	used  int
}

// New builds a Guard. A non-positive limit disables enforcement.
func New(limit int, clock ingest.Clock) *Guard {
	return &Guard{limit: limit, clock: clock}
}

// Allow consumes one request from today's allowance if any is left.
func (g *Guard) Allow() bool {
	if g.limit <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll()
	if g.used >= g.limit {
		return false
	}
	g.used++
	return true
}

// Release returns one request to today's allowance after an admitted job
// failed before reaching the provider. It is a no-op once the day has rolled.
func (g *Guard) Release() {
	if g.limit <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll()
	if g.used > 0 {
		g.used--
	}
}

// Remaining reports the requests left today, or -1 when unlimited.
func (g *Guard) Remaining() int {
	if g.limit <= 0 {
		return -1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll()
	return g.limit - g.used
}

// Usage reports requests used today and the daily limit.
func (g *Guard) Usage() (used, limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll()
	return g.used, g.limit
}

// ResetAt returns the start of the next UTC day.
func (g *Guard) ResetAt() time.Time {
	now := g.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

func (g *Guard) roll() {
	today := g.clock.Now().UTC().Format(time.DateOnly)
	if today != g.day {
		g.day = today
		g.used = 0
	}
}
