// Package cache holds the body caches the element manager publishes into.
package cache

import "arbor/internal/model"

// Entry pairs a handle with its body.
type Entry struct {
	Handle model.Handle
	Body   model.Body
}

// BodyCache is the store the element manager programs against. Implementations
// need not be safe for concurrent use; the manager serializes access.
type BodyCache interface {
	Get(h model.Handle) (model.Body, bool)
	Peek(h model.Handle) (model.Body, bool)
	Put(h model.Handle, b model.Body)
	PutAll(entries []Entry)
	Remove(h model.Handle) (model.Body, bool)
	Len() int
}

// Stats describes a cache for inspection endpoints.
type Stats struct {
	Name         string `json:"name"`
	Len          int    `json:"len"`
	SpaceLimit   int    `json:"space_limit"`
	CurrentSpace int    `json:"current_space"`
	Overflow     int    `json:"overflow"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    int    `json:"evictions"`
}

// MapCache is a BodyCache that never evicts.
type MapCache struct {
	entries map[model.ID]Entry
}

func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[model.ID]Entry)}
}

func (c *MapCache) Get(h model.Handle) (model.Body, bool) {
	return c.Peek(h)
}

func (c *MapCache) Peek(h model.Handle) (model.Body, bool) {
	e, ok := c.entries[h.ID()]
	if !ok {
		return nil, false
	}
	return e.Body, true
}

func (c *MapCache) Put(h model.Handle, b model.Body) {
	c.entries[h.ID()] = Entry{Handle: h, Body: b}
}

func (c *MapCache) PutAll(entries []Entry) {
	for _, e := range entries {
		c.Put(e.Handle, e.Body)
	}
}

func (c *MapCache) Remove(h model.Handle) (model.Body, bool) {
	e, ok := c.entries[h.ID()]
	if !ok {
		return nil, false
	}
	delete(c.entries, h.ID())
	return e.Body, true
}

func (c *MapCache) Len() int {
	return len(c.entries)
}
