/*
cache.go - Read-through cache over RemoteStore reads

PURPOSE:
  Memoizes remote reads for a fixed window so list and detail views do not
  hit the document store on every render.

KEY:
  collection + "_" + (docID or "collection") + "_" + serialized constraints.
  The same inputs always produce the same key.

EXPIRY:
  Passive. An entry is checked on the next read and refetched if its TTL
  has elapsed. Nothing is evicted in the background and there is no size
  bound; per-user data volumes are small.

FAILURES:
  A failed remote read is returned to the caller and nothing is cached.

CONCURRENCY:
  Safe for concurrent use. Concurrent misses on the same key share one
  remote read, which runs on a context detached from any single caller;
  a caller whose context ends stops waiting without failing the others.
  Each caller stores the shared result with its own TTL. A result whose
  read started before an invalidation is returned but not stored.

SEE ALSO:
  - service.go: Invalidates after writes
*/
package quote

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the window a cached read stays live.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	docs      []Document
	fetchedAt time.Time
	ttl       time.Duration
}

func (e cacheEntry) live(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

// Cache memoizes RemoteStore reads.
type Cache struct {
	remote RemoteStore
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	epoch   uint64 // bumped by every invalidation
	group   singleflight.Group
}

// fetched is the shared result of one remote read.
type fetched struct {
	docs      []Document
	fetchedAt time.Time
	epoch     uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithDefaultTTL overrides DefaultCacheTTL.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(remote RemoteStore, opts ...CacheOption) *Cache {
	c := &Cache{
		remote:  remote,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getOptions are per-call settings.
type getOptions struct {
	ttl time.Duration
}

// GetOption configures a single Get.
type GetOption func(*getOptions)

// WithTTL sets the TTL stored with this read's entry.
func WithTTL(ttl time.Duration) GetOption {
	return func(o *getOptions) { o.ttl = ttl }
}

// CacheKey builds the composite key for a read.
func CacheKey(collection, docID string, q *Query) string {
	target := docID
	if target == "" {
		target = "collection"
	}
	constraints := "[]"
	if q != nil {
		constraints = q.Key()
	}
	return collection + "_" + target + "_" + constraints
}

// Get returns a single document (docID set) or a collection query result.
// A single document comes back as a one-element slice.
func (c *Cache) Get(ctx context.Context, collection, docID string, q *Query, opts ...GetOption) ([]Document, error) {
	o := getOptions{ttl: c.ttl}
	for _, opt := range opts {
		opt(&o)
	}

	key := CacheKey(collection, docID, q)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && entry.live(c.now()) {
		return entry.docs, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()

		docs, err := c.fetch(context.WithoutCancel(ctx), collection, docID, q)
		if err != nil {
			log.Printf("[Cache] remote read %s failed: %v", key, err)
			return nil, err
		}
		return fetched{docs: docs, fetchedAt: c.now(), epoch: epoch}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		f := res.Val.(fetched)
		c.store(key, f, o.ttl)
		return f.docs, nil
	}
}

// store records f unless an invalidation happened after its read began.
func (c *Cache) store(key string, f fetched, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.epoch != c.epoch {
		return
	}
	c.entries[key] = cacheEntry{docs: f.docs, fetchedAt: f.fetchedAt, ttl: ttl}
}

func (c *Cache) fetch(ctx context.Context, collection, docID string, q *Query) ([]Document, error) {
	if docID != "" {
		doc, err := c.remote.Get(ctx, collection, docID)
		if err != nil {
			return nil, err
		}
		return []Document{doc}, nil
	}
	query := Query{}
	if q != nil {
		query = *q
	}
	return c.remote.Query(ctx, collection, query)
}

// Document is Get for a single document.
func (c *Cache) Document(ctx context.Context, collection, id string, opts ...GetOption) (Document, error) {
	docs, err := c.Get(ctx, collection, id, nil, opts...)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, &DocumentNotFoundError{Collection: collection, ID: id}
	}
	return docs[0], nil
}

// Query is Get for a collection.
func (c *Cache) Query(ctx context.Context, collection string, q Query, opts ...GetOption) ([]Document, error) {
	return c.Get(ctx, collection, "", &q, opts...)
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	delete(c.entries, key)
}

// InvalidateCollection drops every key read from collection, documents
// and queries alike.
func (c *Cache) InvalidateCollection(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	prefix := collection + "_"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[string]cacheEntry)
}

// Len reports the number of stored entries, live or expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
