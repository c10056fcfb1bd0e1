package accel

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/chazu/amend/pkg/mesh"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of indices a Cache keeps by default.
const DefaultCacheSize = 32

// Cache keeps recently built indices keyed by mesh content, so that
// re-evaluating an unchanged mesh skips the build. Indices returned for
// equal content may share the buffer of the first mesh that was built;
// buffers handed to the cache must not be modified afterwards.
// A Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	opts     []Option
	ll       *list.List
	items    map[mesh.Digest]*list.Element
	group    singleflight.Group
	log      *zap.Logger

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key mesh.Digest
	idx Index
}

// NewCache returns a cache holding up to capacity indices, all built with
// opts. A nil logger disables logging.
func NewCache(capacity int, log *zap.Logger, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = DefaultCacheSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		capacity: capacity,
		opts:     opts,
		ll:       list.New(),
		items:    make(map[mesh.Digest]*list.Element),
		log:      log,
	}
}

// Get returns the index for m, building it on a miss. Concurrent misses
// for the same content share one build.
func (c *Cache) Get(m *mesh.Buffer) (Index, error) {
	if m == nil {
		return nil, fmt.Errorf("accel: cache: nil mesh")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("accel: cache: %w", err)
	}
	key := m.Hash()

	if idx, ok := c.lookup(key); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return idx, nil
	}
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		if idx, ok := c.lookup(key); ok {
			return idx, nil
		}
		idx, err := Build(m, c.opts...)
		if err != nil {
			return nil, err
		}
		return c.add(key, idx), nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Debug("index built",
		zap.String("mesh", key.Short()),
		zap.Int("triangles", m.TriangleCount()),
		zap.Bool("shared", shared))
	return v.(Index), nil
}

func (c *Cache) lookup(key mesh.Digest) (Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).idx, true
}

// add stores idx under key and returns the cached index, which is the
// existing one when another build got there first.
func (c *Cache) add(key mesh.Digest, idx Index) Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*cacheEntry).idx
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, idx: idx})
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return idx
}

// Len returns the number of cached indices.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns the hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge drops every cached index.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	clear(c.items)
	c.log.Debug("index cache purged")
}
