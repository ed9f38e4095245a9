package dedup

import (
	"net/http"
	"sync"
	"time"
)

// Config configures request deduplication.
type Config struct {
	TTLSeconds   int  `json:"ttl_seconds"`
	MaxBodyBytes int  `json:"max_body_bytes"`
	Enabled      bool `json:"enabled"`
}

// DefaultConfig returns the default dedup configuration.
func DefaultConfig() Config {
	return Config{
		TTLSeconds:   30,
		MaxBodyBytes: 1 << 20, // 1 MiB
		Enabled:      true,
	}
}

// CachedResponse is a completed upstream response held for replay to
// coalesced requests.
type CachedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

type completedEntry struct {
	response    *CachedResponse
	completedAt time.Time
}

func (e *completedEntry) expired(ttl time.Duration) bool {
	return time.Since(e.completedAt) > ttl
}

type inflightEntry struct {
	waiters []chan *CachedResponse
}

// Cache coalesces identical in-flight requests and replays recently
// completed responses. A key is either completed or in flight, never both,
// and every registered waiter is resolved exactly once.
type Cache struct {
	config    Config
	completed map[string]*completedEntry
	inflight  map[string]*inflightEntry
	mutex     sync.Mutex
}

// NewCache creates a dedup cache.
func NewCache(config Config) *Cache {
	return &Cache{
		config:    config,
		completed: make(map[string]*completedEntry),
		inflight:  make(map[string]*inflightEntry),
	}
}

func (c *Cache) ttl() time.Duration {
	return time.Duration(c.config.TTLSeconds) * time.Second
}

// MaxBodyBytes returns the replay body size limit. Callers streaming a
// response use it to cap their capture buffer.
func (c *Cache) MaxBodyBytes() int {
	return c.config.MaxBodyBytes
}

// GetCached returns a completed response if one exists within TTL. Expired
// entries are evicted on the way out.
func (c *Cache) GetCached(key string) (*CachedResponse, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.completed[key]
	if !exists {
		return nil, false
	}
	if entry.expired(c.ttl()) {
		delete(c.completed, key)
		return nil, false
	}
	return entry.response, true
}

// GetInflight registers a waiter against an in-flight entry for the key. The
// returned channel receives exactly one response and is then closed. The
// second return is false when no request is in flight.
func (c *Cache) GetInflight(key string) (<-chan *CachedResponse, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.inflight[key]
	if !exists {
		return nil, false
	}

	ch := make(chan *CachedResponse, 1)
	entry.waiters = append(entry.waiters, ch)
	return ch, true
}

// MarkInflight claims the key for the caller. It returns true when the
// caller now owns the in-flight entry and must eventually call Complete or
// RemoveInflight. It returns false when the key is already in flight or a
// fresh completed entry exists, in which case the caller should look the key
// up again.
func (c *Cache) MarkInflight(key string) bool {
	if !c.config.Enabled {
		return true
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.inflight[key]; exists {
		return false
	}
	if entry, exists := c.completed[key]; exists {
		if !entry.expired(c.ttl()) {
			return false
		}
		delete(c.completed, key)
	}

	c.inflight[key] = &inflightEntry{}
	return true
}

// Complete resolves the in-flight entry for the key: the response is stored
// for replay (unless it exceeds MaxBodyBytes), every waiter is woken with it,
// and expired completed entries are pruned.
func (c *Cache) Complete(key string, response *CachedResponse) {
	if !c.config.Enabled {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(response.Body) <= c.config.MaxBodyBytes {
		c.completed[key] = &completedEntry{
			response:    response,
			completedAt: time.Now(),
		}
	}

	c.resolveLocked(key, response)
	c.pruneLocked()
}

// RemoveInflight drops the in-flight entry for the key without caching
// anything. Waiters are woken with a synthetic 503 so each can retry
// independently.
func (c *Cache) RemoveInflight(key string) {
	if !c.config.Enabled {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.resolveLocked(key, failureResponse())
}

// Prune drops expired completed entries.
func (c *Cache) Prune() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.pruneLocked()
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	waiters := 0
	for _, entry := range c.inflight {
		waiters += len(entry.waiters)
	}

	return map[string]interface{}{
		"enabled":     c.config.Enabled,
		"ttl_seconds": c.config.TTLSeconds,
		"completed":   len(c.completed),
		"inflight":    len(c.inflight),
		"waiters":     waiters,
	}
}

// resolveLocked removes the in-flight entry and sends the response to every
// waiter. Waiter channels are buffered, so the sends cannot block.
func (c *Cache) resolveLocked(key string, response *CachedResponse) {
	entry, exists := c.inflight[key]
	if !exists {
		return
	}
	delete(c.inflight, key)

	for _, ch := range entry.waiters {
		ch <- response
		close(ch)
	}
}

func (c *Cache) pruneLocked() int {
	pruned := 0
	for key, entry := range c.completed {
		if entry.expired(c.ttl()) {
			delete(c.completed, key)
			pruned++
		}
	}
	return pruned
}

func failureResponse() *CachedResponse {
	return &CachedResponse{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"error":{"message":"Original request failed, please retry","type":"dedup_origin_failed"}}`),
	}
}
