// Package lru implements the least-recently-used containers backing the
// element cache. None of the types here are safe for concurrent use; callers
// serialize access.
package lru

type entry[K comparable, V any] struct {
	key     K
	value   V
	space   int
	prev    *entry[K, V]
	next    *entry[K, V]
	removed bool
}

// Entry is a key/value pair returned by Snapshot.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Cache is an unbounded LRU container. Get, Put and Remove reorder entries;
// nothing is ever evicted.
type Cache[K comparable, V any] struct {
	items map[K]*entry[K, V]
	root  entry[K, V] // root.next is the MRU end, root.prev the LRU end
}

func New[K comparable, V any]() *Cache[K, V] {
	c := &Cache[K, V]{items: make(map[K]*entry[K, V])}
	c.root.next = &c.root
	c.root.prev = &c.root
	return c
}

func (c *Cache[K, V]) Len() int {
	return len(c.items)
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

// Peek returns the value for key without touching the order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Put adds or updates key, marks it most recently used and returns the
// previous value.
func (c *Cache[K, V]) Put(key K, value V) (V, bool) {
	if e, ok := c.items[key]; ok {
		prev := e.value
		e.value = value
		c.moveToFront(e)
		return prev, true
	}
	c.pushFront(&entry[K, V]{key: key, value: value})
	var zero V
	return zero, false
}

// Remove deletes key and returns the removed value.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.unlink(e)
	return e.value, true
}

// Snapshot returns the entries ordered from most to least recently used.
func (c *Cache[K, V]) Snapshot() []Entry[K, V] {
	out := make([]Entry[K, V], 0, len(c.items))
	for e := c.root.next; e != &c.root; e = e.next {
		out = append(out, Entry[K, V]{Key: e.key, Value: e.value})
	}
	return out
}

// Keys returns the keys ordered from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	out := make([]K, 0, len(c.items))
	for e := c.root.next; e != &c.root; e = e.next {
		out = append(out, e.key)
	}
	return out
}

func (c *Cache[K, V]) Clear() {
	for e := c.root.next; e != &c.root; {
		next := e.next
		e.prev, e.next, e.removed = nil, nil, true
		e = next
	}
	c.items = make(map[K]*entry[K, V])
	c.root.next = &c.root
	c.root.prev = &c.root
}

func (c *Cache[K, V]) pushFront(e *entry[K, V]) {
	e.prev = &c.root
	e.next = c.root.next
	c.root.next.prev = e
	c.root.next = e
	c.items[e.key] = e
}

func (c *Cache[K, V]) moveToFront(e *entry[K, V]) {
	if c.root.next == e {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = &c.root
	e.next = c.root.next
	c.root.next.prev = e
	c.root.next = e
}

func (c *Cache[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	e.removed = true
	delete(c.items, e.key)
}

// back returns the least recently used entry or nil.
func (c *Cache[K, V]) back() *entry[K, V] {
	if c.root.prev == &c.root {
		return nil
	}
	return c.root.prev
}

// before returns the entry used more recently than e, or nil.
func (c *Cache[K, V]) before(e *entry[K, V]) *entry[K, V] {
	if e.prev == &c.root {
		return nil
	}
	return e.prev
}
