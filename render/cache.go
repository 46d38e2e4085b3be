// ABOUTME: In-memory cache over markdown rendering, keyed by sha256 of the source text.
// ABOUTME: Supports TTL expiry and concurrent access; errors are never cached.

package render

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	html      string
	createdAt time.Time
}

// Cache wraps a Renderer so repeated polls of the same finalized content do
// not re-convert it. Entries expire after the configured TTL.
type Cache struct {
	renderer *Renderer
	ttl      time.Duration
	entries  map[string]*cacheEntry
	mu       sync.RWMutex
}

// NewCache creates a cache over the given renderer.
func NewCache(renderer *Renderer, ttl time.Duration) *Cache {
	return &Cache{
		renderer: renderer,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

// Render converts markdown to HTML, returning a cached result when available
// and not expired.
func (c *Cache) Render(markdown string) (string, error) {
	key := fmt.Sprintf("%x", sha256.Sum256([]byte(markdown)))

	c.mu.RLock()
	if entry, ok := c.entries[key]; ok {
		if time.Since(entry.createdAt) < c.ttl {
			html := entry.html
			c.mu.RUnlock()
			return html, nil
		}
	}
	c.mu.RUnlock()

	html, err := c.renderer.Render(markdown)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{html: html, createdAt: time.Now()}
	c.mu.Unlock()

	return html, nil
}

// Len returns the number of entries currently cached, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
