package reducer

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/groupcache/lru"
	"github.com/harliandi/go-shrink/pkg/metrics"
	"github.com/harliandi/go-shrink/pkg/quality"
)

// Cache remembers outcomes of recent searches. Searches are deterministic,
// so identical input and parameters always produce the same outcome.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewCache returns a cache holding up to maxEntries outcomes, or nil when
// maxEntries is not positive.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		return nil
	}
	return &Cache{lru: lru.New(maxEntries)}
}

// Get returns a copy of the cached outcome for key.
func (c *Cache) Get(key string) (*Outcome, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	v, ok := c.lru.Get(key)
	c.mu.Unlock()
	metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	out := *v.(*Outcome)
	return &out, true
}

// Add stores o under key. The outcome's data must not be modified afterwards.
func (c *Cache) Add(key string, o *Outcome) {
	if c == nil {
		return
	}
	stored := *o
	c.mu.Lock()
	c.lru.Add(key, &stored)
	c.mu.Unlock()
}

// Len returns the number of cached outcomes.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// cacheKey hashes the input together with every parameter that affects the result.
func cacheKey(data []byte, target int64, opts quality.Options, scale float64, encoder string) string {
	h := xxhash.New()
	_, _ = h.Write(data)
	fmt.Fprintf(h, "|%d|%d|%g|%g|%g|%s", target, opts.Iterations, opts.MinQuality, opts.MaxQuality, scale, encoder)
	return strconv.FormatUint(h.Sum64(), 16)
}

// etag returns a strong entity tag for encoded output.
func etag(data []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(data))
}
