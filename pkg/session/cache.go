// Package session holds the in-memory session cache and the coordinator
// that drives a conversation turn: load history, invoke the agent
// capability, filter the transcript, and persist the checkpoint.
package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyager-travel/voyager/agent"
)

// accessThrottle bounds how often a read refreshes an entry's last-access
// time, so rapid polling doesn't rewrite the timestamp on every call.
const accessThrottle = 10 * time.Second

// CacheConfig configures the session cache.
type CacheConfig struct {
	// TTL is the maximum idle duration before an entry is evicted.
	// Zero or negative disables eviction.
	TTL time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// Logger receives sweep warnings. Defaults to the standard logger.
	Logger logrus.FieldLogger
	// OnEvict, if set, is called with the number of entries removed by
	// a sweep.
	OnEvict func(evicted int)
}

type cacheEntry struct {
	messages   []agent.Message
	lastAccess time.Time
}

// Cache is a process-local cache of active sessions' message lists. It is
// strictly a performance layer over the checkpoint store: losing it never
// loses persisted data, and it is never the source of truth across
// restarts. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
	onEvict func(int)
}

// NewCache creates a session cache.
func NewCache(cfg CacheConfig) *Cache {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     cfg.TTL,
		now:     now,
		log:     log,
		onEvict: cfg.OnEvict,
	}
}

// GetOrCreate returns the cached message list for sessionID, creating an
// empty entry on first reference. Expired entries are swept first. The
// returned slice is a copy; mutate it freely and hand it back via Save.
func (c *Cache) GetOrCreate(sessionID string) []agent.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	entry := c.entries[sessionID]
	if entry == nil {
		c.entries[sessionID] = &cacheEntry{lastAccess: c.now()}
		return nil
	}

	if c.now().Sub(entry.lastAccess) > accessThrottle {
		entry.lastAccess = c.now()
	}

	msgs := make([]agent.Message, len(entry.messages))
	copy(msgs, entry.messages)
	return msgs
}

// Save replaces the entry's message list wholesale and refreshes its
// last-access time unconditionally.
func (c *Cache) Save(sessionID string, msgs []agent.Message) {
	copied := make([]agent.Message, len(msgs))
	copy(copied, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	c.entries[sessionID] = &cacheEntry{messages: copied, lastAccess: c.now()}
}

// Remove drops the entry for sessionID, if any.
func (c *Cache) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepLocked removes entries idle past the TTL. Malformed entries are
// logged and skipped. Cache maintenance must never interrupt the request
// path, so any panic here is swallowed with a warning.
func (c *Cache) sweepLocked() {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Warn("session cache sweep failed")
		}
	}()

	if c.ttl <= 0 {
		return
	}

	now := c.now()
	evicted := 0
	for id, entry := range c.entries {
		if entry == nil {
			c.log.WithField("session_id", id).Warn("malformed session cache entry, skipping")
			continue
		}
		if now.Sub(entry.lastAccess) > c.ttl {
			delete(c.entries, id)
			evicted++
		}
	}

	if evicted > 0 && c.onEvict != nil {
		c.onEvict(evicted)
	}
}
