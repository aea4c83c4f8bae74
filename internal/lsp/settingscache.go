package lsp

import (
	"log/slog"
	"sync"

	"spelld/internal/settings"
)

// settingsCache memoizes resolved snapshots per URI until invalidated.
// Resolution failures fall back to the last-known-good snapshot for that URI,
// then to process defaults; they are never surfaced to the caller.
type settingsCache struct {
	load LoadSettingsFunc
	log  *slog.Logger

	mu        sync.Mutex
	epoch     uint64
	snapshots map[string]settings.Settings
	lastGood  map[string]settings.Settings
}

func newSettingsCache(load LoadSettingsFunc, log *slog.Logger) *settingsCache {
	return &settingsCache{
		load:      load,
		log:       log,
		snapshots: make(map[string]settings.Settings),
		lastGood:  make(map[string]settings.Settings),
	}
}

// resolve returns the effective snapshot for uri, loading it on a cache miss.
// importPaths is the current import registry contents; it only matters on a
// miss, when the loader runs.
func (c *settingsCache) resolve(uri string, importPaths []string) settings.Settings {
	c.mu.Lock()
	if snap, ok := c.snapshots[uri]; ok {
		c.mu.Unlock()
		return snap
	}
	epoch := c.epoch
	c.mu.Unlock()

	// Loading may touch disk; keep the lock released.
	snap, err := c.load(uri, importPaths)
	if err != nil {
		c.log.Error("settings resolution failed", "uri", uri, "err", err)
		c.mu.Lock()
		fallback, ok := c.lastGood[uri]
		c.mu.Unlock()
		if ok {
			return fallback
		}
		return settings.Defaults()
	}

	c.mu.Lock()
	// An invalidation during the load means the result may predate the newest
	// configuration; serve it to this caller but do not memoize it.
	if c.epoch == epoch {
		c.snapshots[uri] = snap
	}
	c.lastGood[uri] = snap
	c.mu.Unlock()
	return snap
}

// invalidateAll drops every cached snapshot. Last-known-good snapshots are
// kept as the failure fallback.
func (c *settingsCache) invalidateAll() {
	c.mu.Lock()
	c.epoch++
	c.snapshots = make(map[string]settings.Settings)
	c.mu.Unlock()
}
