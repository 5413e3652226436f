package browser

import (
	"sync"

	"github.com/neboloop/pagepilot/internal/axtree"
)

// SnapshotCache holds the latest snapshot per tab. A new snapshot replaces
// the previous one whole.
type SnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[TabID]*axtree.Snapshot
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{snapshots: make(map[TabID]*axtree.Snapshot)}
}

// Put stores snap as the current snapshot of tab.
func (c *SnapshotCache) Put(tab TabID, snap *axtree.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[tab] = snap
}

// Get returns the current snapshot of tab, if any.
func (c *SnapshotCache) Get(tab TabID) (*axtree.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[tab]
	return snap, ok
}

// Clear drops the snapshot of tab.
func (c *SnapshotCache) Clear(tab TabID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, tab)
}

// ClearAll drops every snapshot.
func (c *SnapshotCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = make(map[TabID]*axtree.Snapshot)
}

// Tabs returns the tabs with a cached snapshot.
func (c *SnapshotCache) Tabs() []TabID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tabs := make([]TabID, 0, len(c.snapshots))
	for tab := range c.snapshots {
		tabs = append(tabs, tab)
	}
	return tabs
}
