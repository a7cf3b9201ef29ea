package registry

import (
	"context"
	"sync"
	"time"
)

// DigestCache is an in-process cache of resolved digests keyed by
// repository:tag. A Dockerfile that builds several stages from the same
// base hits the network once.
type DigestCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]digestEntry
}

type digestEntry struct {
	digest    string
	expiresAt time.Time
}

// NewDigestCache creates a digest cache. Entries expire after ttl; a zero
// ttl keeps entries for the lifetime of the cache, which suits one-shot
// CLI runs.
func NewDigestCache(ttl time.Duration) *DigestCache {
	return &DigestCache{
		ttl:     ttl,
		entries: make(map[string]digestEntry),
	}
}

// Get returns the cached digest for repository:tag, if present and fresh.
func (c *DigestCache) Get(repository, tag string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[repository+":"+tag]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, repository+":"+tag)
		return "", false
	}
	return entry.digest, true
}

// Put stores a resolved digest.
func (c *DigestCache) Put(repository, tag, digest string) {
	entry := digestEntry{digest: digest}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[repository+":"+tag] = entry
	c.mu.Unlock()
}

// CachingResolver wraps a Resolver with a DigestCache.
type CachingResolver struct {
	resolver Resolver
	cache    *DigestCache
}

// NewCachingResolver creates a resolver that serves repeated lookups from
// cache.
func NewCachingResolver(resolver Resolver, cache *DigestCache) *CachingResolver {
	if cache == nil {
		cache = NewDigestCache(0)
	}
	return &CachingResolver{
		resolver: resolver,
		cache:    cache,
	}
}

// Resolve resolves through the cache.
func (r *CachingResolver) Resolve(ctx context.Context, repository, tag string) (string, error) {
	if digest, ok := r.cache.Get(repository, tag); ok {
		return digest, nil
	}
	digest, err := r.resolver.Resolve(ctx, repository, tag)
	if err != nil {
		return "", err
	}
	r.cache.Put(repository, tag, digest)
	return digest, nil
}
