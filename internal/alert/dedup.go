package alert

import (
	"sync"
	"time"
)

// DefaultMaxEntryAge bounds how long a dedup entry is kept without a fresh
// alert.
const DefaultMaxEntryAge = 24 * time.Hour

// DedupEntry records the last alert emitted for a stream.
type DedupEntry struct {
	StreamID      string
	LastAlertedAt time.Time
}

// DedupCache holds at most one entry per stream id. Entries older than the
// max age are evicted on lookup and by Sweep. Callers pass the current time,
// so the cache itself has no clock.
type DedupCache struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[string]DedupEntry
}

// NewDedupCache creates an empty cache. A non-positive maxAge uses
// DefaultMaxEntryAge.
func NewDedupCache(maxAge time.Duration) *DedupCache {
	if maxAge <= 0 {
		maxAge = DefaultMaxEntryAge
	}
	return &DedupCache{
		maxAge:  maxAge,
		entries: make(map[string]DedupEntry),
	}
}

// Lookup returns the entry for streamID. An expired entry is evicted and
// reported as absent. Lookup never refreshes LastAlertedAt.
func (c *DedupCache) Lookup(streamID string, now time.Time) (DedupEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[streamID]
	if !ok {
		return DedupEntry{}, false
	}
	if c.expired(e, now) {
		delete(c.entries, streamID)
		return DedupEntry{}, false
	}
	return e, true
}

// Record upserts the entry for streamID with the alert time.
func (c *DedupCache) Record(streamID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[streamID] = DedupEntry{StreamID: streamID, LastAlertedAt: at}
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *DedupCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired ones included until swept.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DedupCache) expired(e DedupEntry, now time.Time) bool {
	return now.Sub(e.LastAlertedAt) > c.maxAge
}
