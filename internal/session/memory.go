package session

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the in-process Cache implementation: a mutex-guarded map
// with an explicit expiry sweep. Suitable for single-instance deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryCache creates a new in-memory session cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Get returns a snapshot of the entry. Expired-but-unswept entries still
// miss, so reads never observe a session past its TTL.
func (c *MemoryCache) Get(_ context.Context, sessionID string) (*Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[sessionID]
	c.mu.RUnlock()

	if !ok || entry.Expired(c.now()) {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

// Set stores a copy of the entry with a refreshed LastAccessed timestamp.
func (c *MemoryCache) Set(_ context.Context, sessionID string, entry *Entry) error {
	stored := entry.Clone()
	stored.LastAccessed = c.now()

	c.mu.Lock()
	c.entries[sessionID] = stored
	c.mu.Unlock()
	return nil
}

// Delete removes the entry, reporting whether it existed.
func (c *MemoryCache) Delete(_ context.Context, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[sessionID]
	if ok {
		delete(c.entries, sessionID)
	}
	return ok, nil
}

// Entries returns a snapshot of all live entries.
func (c *MemoryCache) Entries(_ context.Context) (map[string]*Entry, error) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*Entry, len(c.entries))
	for id, entry := range c.entries {
		if entry.Expired(now) {
			continue
		}
		out[id] = entry.Clone()
	}
	return out, nil
}

// Values returns a snapshot of all live entries.
func (c *MemoryCache) Values(ctx context.Context) ([]*Entry, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	return out, nil
}

// Size returns the stored entry count, including expired-but-unswept
// entries; a point-in-time approximation under concurrent use.
func (c *MemoryCache) Size(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

// CleanupExpiredSessions removes all and only the expired entries.
// The expiry check and the removal happen under the same lock per entry,
// so a Set racing this sweep either lands before the check (and the
// refreshed entry survives) or after the delete (and re-creates the
// session); a freshly written entry is never removed.
func (c *MemoryCache) CleanupExpiredSessions(_ context.Context) (int, error) {
	now := c.now()
	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed, nil
}

// StartSweeper runs CleanupExpiredSessions on the given interval until the
// context is cancelled. Intended to be launched once at startup.
func (c *MemoryCache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.CleanupExpiredSessions(ctx)
		}
	}
}
