package cache

import (
	"arbor/internal/lru"
	"arbor/internal/model"
)

// CloseFunc is asked to close a body the cache wants to evict. It returns
// false when the element refuses, in which case the body stays cached.
type CloseFunc func(h model.Handle, b model.Body) bool

// NodeCache is the evicting BodyCache. While a parent with many children is
// being published the space limit is raised so the children cannot evict each
// other; the limit in force before the raise returns once that parent leaves
// the cache.
type NodeCache struct {
	name         string
	lru          *lru.Overflowing[model.ID, Entry]
	defaultLimit int
	raisedBy     model.ID
	savedLimit   int
	hits         uint64
	misses       uint64
}

func NewNodeCache(name string, spaceLimit int, loadFactor float64) *NodeCache {
	c := &NodeCache{
		name:         name,
		defaultLimit: spaceLimit,
		lru: lru.NewOverflowing(lru.Options[model.ID, Entry]{
			SpaceLimit: spaceLimit,
			LoadFactor: loadFactor,
		}),
	}
	c.observe()
	return c
}

// SetCloseFunc installs the eviction hook.
func (c *NodeCache) SetCloseFunc(fn CloseFunc) {
	if fn == nil {
		c.lru.SetCloser(nil)
		return
	}
	c.lru.SetCloser(func(_ model.ID, e Entry) bool {
		if !fn(e.Handle, e.Body) {
			return false
		}
		cacheEvictions.WithLabelValues(c.name).Inc()
		return true
	})
}

func (c *NodeCache) Get(h model.Handle) (model.Body, bool) {
	e, ok := c.lru.Get(h.ID())
	if !ok {
		c.misses++
		cacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	c.hits++
	cacheHits.WithLabelValues(c.name).Inc()
	return e.Body, true
}

func (c *NodeCache) Peek(h model.Handle) (model.Body, bool) {
	e, ok := c.lru.Peek(h.ID())
	if !ok {
		return nil, false
	}
	return e.Body, true
}

func (c *NodeCache) Put(h model.Handle, b model.Body) {
	c.lru.Put(h.ID(), Entry{Handle: h, Body: b})
	c.observe()
}

// PutAll publishes a batch, raising the limit first for its widest body.
func (c *NodeCache) PutAll(entries []Entry) {
	var widest model.Handle
	k := -1
	for _, e := range entries {
		if n := len(e.Body.Children()); n > k {
			widest, k = e.Handle, n
		}
	}
	if widest != nil {
		c.EnsureSpaceLimit(k, widest)
	}
	for _, e := range entries {
		c.lru.Put(e.Handle.ID(), e)
	}
	c.observe()
}

func (c *NodeCache) Remove(h model.Handle) (model.Body, bool) {
	e, ok := c.lru.Remove(h.ID())
	c.ResetSpaceLimit(h)
	c.observe()
	if !ok {
		return nil, false
	}
	return e.Body, true
}

func (c *NodeCache) Len() int {
	return c.lru.Len()
}

// EnsureSpaceLimit makes room for parent and its childCount children to be
// cached together. Only the first parent to raise the limit is remembered.
func (c *NodeCache) EnsureSpaceLimit(childCount int, parent model.Handle) {
	needed := 1 + int((1+c.lru.LoadFactor())*float64(childCount+c.lru.Overflow()))
	if needed <= c.lru.SpaceLimit() {
		return
	}
	c.lru.Shrink()
	if c.raisedBy == "" {
		c.raisedBy = parent.ID()
		c.savedLimit = c.lru.SpaceLimit()
	}
	c.lru.SetSpaceLimit(needed)
	cacheSpaceLimit.WithLabelValues(c.name).Set(float64(needed))
}

// ResetSpaceLimit restores the limit saved when parent raised it.
func (c *NodeCache) ResetSpaceLimit(parent model.Handle) {
	if c.raisedBy == "" || c.raisedBy != parent.ID() {
		return
	}
	c.raisedBy = ""
	c.lru.SetSpaceLimit(c.savedLimit)
	cacheSpaceLimit.WithLabelValues(c.name).Set(float64(c.savedLimit))
}

// SetSpaceLimit changes the budget. While a parent holds the limit raised the
// new budget takes effect when the raise is reset.
func (c *NodeCache) SetSpaceLimit(limit int) {
	if c.raisedBy != "" {
		c.savedLimit = limit
		return
	}
	c.lru.SetSpaceLimit(limit)
	cacheSpaceLimit.WithLabelValues(c.name).Set(float64(limit))
}

func (c *NodeCache) SpaceLimit() int   { return c.lru.SpaceLimit() }
func (c *NodeCache) DefaultLimit() int { return c.defaultLimit }
func (c *NodeCache) Overflow() int     { return c.lru.Overflow() }

// Handles returns the cached handles from most to least recently used.
func (c *NodeCache) Handles() []model.Handle {
	snapshot := c.lru.Snapshot()
	out := make([]model.Handle, len(snapshot))
	for i, e := range snapshot {
		out[i] = e.Value.Handle
	}
	return out
}

func (c *NodeCache) Stats() Stats {
	return Stats{
		Name:         c.name,
		Len:          c.lru.Len(),
		SpaceLimit:   c.lru.SpaceLimit(),
		CurrentSpace: c.lru.CurrentSpace(),
		Overflow:     c.lru.Overflow(),
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.lru.Evictions(),
	}
}

func (c *NodeCache) observe() {
	cacheEntries.WithLabelValues(c.name).Set(float64(c.lru.Len()))
	cacheOverflow.WithLabelValues(c.name).Set(float64(c.lru.Overflow()))
	cacheSpaceLimit.WithLabelValues(c.name).Set(float64(c.lru.SpaceLimit()))
}
