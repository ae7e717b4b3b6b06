package eventsub

import (
	"sync"
	"time"
)

// replayGuard remembers delivered message ids for a fixed window so that
// provider redeliveries are acknowledged without being dispatched twice.
type replayGuard struct {
	mu        sync.Mutex
	window    time.Duration
	seen      map[string]time.Time
	lastSweep time.Time
}

func newReplayGuard(window time.Duration) *replayGuard {
	return &replayGuard{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// stale reports whether a delivery timestamp falls outside the window in
// either direction.
func (g *replayGuard) stale(ts, now time.Time) bool {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d > g.window
}

// firstSighting records id and reports whether it was not seen within the
// window.
func (g *replayGuard) firstSighting(id string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastSweep) >= g.window {
		for k, at := range g.seen {
			if now.Sub(at) > g.window {
				delete(g.seen, k)
			}
		}
		g.lastSweep = now
	}

	if at, ok := g.seen[id]; ok && now.Sub(at) <= g.window {
		return false
	}
	g.seen[id] = now
	return true
}

func (g *replayGuard) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
