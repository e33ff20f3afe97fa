// Package cache keeps rendered artifacts in a bounded in-memory LRU with
// per-entry TTL, optionally mirrored to a durable backend.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// Backend mirrors entries outside the process so they survive restarts.
type Backend interface {
	SaveCacheEntry(ctx context.Context, entry model.CacheEntry) error
	EvictCacheEntry(ctx context.Context, fingerprint string) error
	LoadCacheEntry(ctx context.Context, fingerprint string) (model.CacheEntry, bool, error)
}

// LRU is safe for concurrent use.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	backend  Backend
	now      func() time.Time
	logger   zerolog.Logger
}

// New returns a cache holding at most capacity entries. backend may be nil.
func New(capacity int, backend Backend, logger zerolog.Logger) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		backend:  backend,
		now:      time.Now,
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

// Get returns the unexpired entry for fingerprint. On a local miss the
// backend is consulted and a hit is promoted into memory.
func (c *LRU) Get(ctx context.Context, fingerprint string) (model.CacheEntry, bool) {
	return c.GetAt(ctx, fingerprint, c.now())
}

// GetAt is Get with expiry judged at now rather than the wall clock.
func (c *LRU) GetAt(ctx context.Context, fingerprint string, now time.Time) (model.CacheEntry, bool) {
	c.mu.Lock()
	if el, ok := c.items[fingerprint]; ok {
		entry := el.Value.(model.CacheEntry)
		if !entry.Expired(now) {
			c.ll.MoveToFront(el)
			c.mu.Unlock()
			return entry, true
		}
		c.removeElement(el)
	}
	c.mu.Unlock()

	if c.backend == nil {
		return model.CacheEntry{}, false
	}
	entry, ok, err := c.backend.LoadCacheEntry(ctx, fingerprint)
	if err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache backend load failed")
		return model.CacheEntry{}, false
	}
	if !ok || entry.Expired(now) {
		return model.CacheEntry{}, false
	}

	c.mu.Lock()
	evicted := c.insert(entry)
	c.mu.Unlock()
	c.evictBackend(ctx, evicted)
	return entry, true
}

// Put stores entry, replacing any entry with the same fingerprint and
// evicting the least recently used entries beyond capacity.
func (c *LRU) Put(ctx context.Context, entry model.CacheEntry) {
	c.mu.Lock()
	evicted := c.insert(entry)
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	if err := c.backend.SaveCacheEntry(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", entry.Fingerprint).Msg("cache backend save failed")
	}
	c.evictBackend(ctx, evicted)
}

// Remove drops fingerprint from memory and the backend.
func (c *LRU) Remove(ctx context.Context, fingerprint string) bool {
	c.mu.Lock()
	el, ok := c.items[fingerprint]
	if ok {
		c.removeElement(el)
	}
	c.mu.Unlock()

	c.evictBackend(ctx, []string{fingerprint})
	return ok
}

// RemoveFunc drops every in-memory entry matching fn and returns their
// fingerprints.
func (c *LRU) RemoveFunc(ctx context.Context, fn func(model.CacheEntry) bool) []string {
	var removed []string
	c.mu.Lock()
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if entry := el.Value.(model.CacheEntry); fn(entry) {
			removed = append(removed, entry.Fingerprint)
			c.removeElement(el)
		}
		el = next
	}
	c.mu.Unlock()

	c.evictBackend(ctx, removed)
	return removed
}

// FindArtifact returns the in-memory artifact with the given id, ignoring
// TTL. Used to re-push the image already on the panel.
func (c *LRU) FindArtifact(id string) (model.ImageArtifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if entry := el.Value.(model.CacheEntry); entry.Artifact.ID == id {
			return entry.Artifact, true
		}
	}
	return model.ImageArtifact{}, false
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// insert must be called with mu held. It returns the evicted fingerprints.
func (c *LRU) insert(entry model.CacheEntry) []string {
	if el, ok := c.items[entry.Fingerprint]; ok {
		el.Value = entry
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[entry.Fingerprint] = c.ll.PushFront(entry)

	var evicted []string
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		evicted = append(evicted, oldest.Value.(model.CacheEntry).Fingerprint)
		c.removeElement(oldest)
	}
	return evicted
}

func (c *LRU) evictBackend(ctx context.Context, fingerprints []string) {
	if c.backend == nil {
		return
	}
	for _, fp := range fingerprints {
		if err := c.backend.EvictCacheEntry(ctx, fp); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("cache backend evict failed")
		}
	}
}

func (c *LRU) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(model.CacheEntry).Fingerprint)
}
