package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"VoiceChat/internal/backend"
)

// CachedResponse represents a cached API response
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// Cache memoizes replies for identical chat requests. Requests are sent with
// temperature 0, so the same request is expected to produce the same reply.
type Cache struct {
	ttl     time.Duration
	entries sync.Map
	now     func() time.Time
}

// New creates a cache whose entries expire after ttl. A zero ttl keeps
// entries for the life of the process.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// GenerateCacheKey generates a cache key from the model, options and messages
func GenerateCacheKey(req backend.OllamaRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	if opts, err := json.Marshal(req.Options); err == nil {
		h.Write(opts)
	}
	for _, msg := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached reply for key if present and fresh.
func (c *Cache) Get(key string) (string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.ttl > 0 && c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

// Put stores a reply under key.
func (c *Cache) Put(key, response string) {
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}
