package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"kb/internal/domain"
	"kb/internal/port"
)

// QueryCache is an LRU of query embeddings with a per-entry TTL.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	key       string
	vector    []float32
	timestamp time.Time
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:16])
}

// Get returns a copy of the cached vector for query.
func (c *QueryCache) Get(query string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(query)]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.timestamp) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, entry.key)
		return nil, false
	}

	c.order.MoveToFront(el)
	return slices.Clone(entry.vector), true
}

func (c *QueryCache) Put(query string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.vector = slices.Clone(vector)
		entry.timestamp = c.now()
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:       key,
		vector:    slices.Clone(vector),
		timestamp: c.now(),
	})
}

// Invalidate drops every entry, e.g. after the embedding model changes.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CachedGateway serves repeated EmbedQuery calls from a QueryCache.
// Document embedding passes straight through.
type CachedGateway struct {
	next  port.EmbeddingGateway
	cache *QueryCache
}

var _ port.EmbeddingGateway = (*CachedGateway)(nil)

func NewCachedGateway(next port.EmbeddingGateway, cache *QueryCache) *CachedGateway {
	return &CachedGateway{next: next, cache: cache}
}

func (g *CachedGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, hit := g.cache.Get(text); hit {
		return vec, nil
	}

	vec, err := g.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	g.cache.Put(text, vec)
	return vec, nil
}

func (g *CachedGateway) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	return g.next.EmbedDocumentChunks(ctx, chunks)
}

func (g *CachedGateway) EmbedDocuments(ctx context.Context, docs [][]string) ([][][]float32, error) {
	return g.next.EmbedDocuments(ctx, docs)
}

func (g *CachedGateway) Health(ctx context.Context) (domain.HealthStatus, error) {
	return g.next.Health(ctx)
}
