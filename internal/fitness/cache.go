package fitness

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache memoizes fitness by scene document. The renderer is deterministic,
// so an identical document always scores the same.
type Cache struct {
	items *gocache.Cache
}

// NewCache keeps entries for ttl after their last write; ttl <= 0 keeps them
// for the life of the run.
func NewCache(ttl time.Duration) *Cache {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &Cache{items: gocache.New(expiration, cleanup)}
}

func (c *Cache) Get(doc string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.items.Get(key(doc))
	if !ok {
		return 0, false
	}
	return v.(float64), true
}

func (c *Cache) Put(doc string, fitness float64) {
	if c == nil {
		return
	}
	c.items.SetDefault(key(doc), fitness)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.items.ItemCount()
}

func key(doc string) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}
