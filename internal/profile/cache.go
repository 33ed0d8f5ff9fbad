package profile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alecgard/roster/internal/kv"
)

const (
	// CacheKey is the single well-known key the cached profile lives under.
	CacheKey = "profile_cache"

	// DefaultTTL bounds how long a cached profile may stand in for the remote one.
	DefaultTTL = 24 * time.Hour
)

// CachedEntry is the persisted form of a cached profile.
type CachedEntry struct {
	Profile    Profile `json:"profile"`
	CachedAtMs int64   `json:"cached_at_ms"`
	OwnerID    string  `json:"owner_id"`
}

// Cache stores the last known profile for the active owner. It never returns
// errors: storage and decoding failures are logged and corrupt entries are
// removed, so the worst case is a cache miss.
type Cache struct {
	store  kv.Store
	ttl    time.Duration
	now    func() time.Time // injectable clock for testing
	logger *slog.Logger
}

// NewCache creates a Cache over store. A non-positive ttl selects DefaultTTL.
func NewCache(store kv.Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the clock used to stamp and age entries.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Read returns the cached profile for ownerID, or nil when there is no entry,
// the entry belongs to another owner, or it is older than the TTL.
func (c *Cache) Read(ownerID string) *Profile {
	if ownerID == "" {
		return nil
	}

	data, err := c.store.Get(CacheKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warn("profile cache unreadable, clearing", "error", err)
			c.Clear()
		}
		return nil
	}

	var entry CachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("profile cache corrupt, clearing", "error", err)
		c.Clear()
		return nil
	}

	if entry.OwnerID != ownerID {
		return nil
	}

	age := c.now().Sub(time.UnixMilli(entry.CachedAtMs))
	if age > c.ttl {
		c.logger.Debug("profile cache expired", "owner_id", ownerID, "age", age)
		c.Clear()
		return nil
	}

	return entry.Profile.Clone()
}

// Write stores p as the cached profile for ownerID, replacing any previous entry.
func (c *Cache) Write(p Profile, ownerID string) {
	if ownerID == "" {
		return
	}

	data, err := json.Marshal(CachedEntry{
		Profile:    p,
		CachedAtMs: c.now().UnixMilli(),
		OwnerID:    ownerID,
	})
	if err != nil {
		c.logger.Warn("encoding profile cache entry", "error", err)
		return
	}
	if err := c.store.Set(CacheKey, data); err != nil {
		c.logger.Warn("writing profile cache", "owner_id", ownerID, "error", err)
	}
}

// Clear removes the cached entry.
func (c *Cache) Clear() {
	if err := c.store.Delete(CacheKey); err != nil {
		c.logger.Warn("clearing profile cache", "error", err)
	}
}
