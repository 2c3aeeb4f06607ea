package page

import "container/list"

// Cache is a bounded read cache in front of a Device. It never itself
// decides durability — writes always go straight through to the
// Device — it only saves re-reading (and re-decrypting) hot pages.
type Cache struct {
	dev      Device
	capacity int

	entries map[uint64]*list.Element
	order   *list.List // front = most recently used

	onHit  func()
	onMiss func()
}

type cacheEntry struct {
	pageNo uint64
	data   []byte
}

// NewCache wraps dev with an LRU cache holding up to capacity pages.
func NewCache(dev Device, capacity int) *Cache {
	return &Cache{
		dev:      dev,
		capacity: capacity,
		entries:  make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

// OnLookup installs callbacks invoked on every cache hit/miss, used by
// the environment facade to feed internal/metrics.
func (c *Cache) OnLookup(onHit, onMiss func()) {
	c.onHit, c.onMiss = onHit, onMiss
}

// Get returns the page, consulting the cache before the device.
func (c *Cache) Get(pageNo uint64) ([]byte, error) {
	if el, ok := c.entries[pageNo]; ok {
		c.order.MoveToFront(el)
		if c.onHit != nil {
			c.onHit()
		}
		out := make([]byte, Size)
		copy(out, el.Value.(*cacheEntry).data)
		return out, nil
	}
	if c.onMiss != nil {
		c.onMiss()
	}

	data, err := c.dev.ReadAt(pageNo)
	if err != nil {
		return nil, err
	}
	c.insert(pageNo, data)
	return data, nil
}

// Put writes a page through to the device and refreshes the cache entry.
func (c *Cache) Put(pageNo uint64, data []byte) error {
	if err := c.dev.WriteAt(pageNo, data); err != nil {
		return err
	}
	c.insert(pageNo, data)
	return nil
}

// Invalidate drops a page from the cache without touching the device,
// used when a page number is recycled through the freelist so a stale
// cached copy is never handed back under a new identity.
func (c *Cache) Invalidate(pageNo uint64) {
	if el, ok := c.entries[pageNo]; ok {
		c.order.Remove(el)
		delete(c.entries, pageNo)
	}
}

func (c *Cache) insert(pageNo uint64, data []byte) {
	cp := make([]byte, Size)
	copy(cp, data)

	if el, ok := c.entries[pageNo]; ok {
		el.Value.(*cacheEntry).data = cp
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{pageNo: pageNo, data: cp})
	c.entries[pageNo] = el

	for c.capacity > 0 && c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).pageNo)
	}
}

// Len reports the number of pages currently resident in the cache.
func (c *Cache) Len() int { return c.order.Len() }
