package lru

import "fmt"

// DefaultLoadFactor is the fraction of the space limit left occupied after
// the cache makes room.
const DefaultLoadFactor = 1.0 / 3

// Options configures an Overflowing cache.
type Options[K comparable, V any] struct {
	SpaceLimit int
	LoadFactor float64 // defaults to DefaultLoadFactor
	// Sizer returns the space a value occupies. Defaults to 1 per entry.
	Sizer func(V) int
	// Closer is asked to release an entry before it is evicted. Returning
	// false keeps the entry cached. The closer may remove entries from the
	// cache itself, including the one being closed.
	Closer func(K, V) bool
}

// Overflowing is an LRU cache with a soft space budget. When an insertion
// does not fit, the least recently used entries are closed and evicted. If
// entries refuse to close the value is inserted anyway and the excess is
// recorded as overflow, which later puts and Shrink try to reclaim.
type Overflowing[K comparable, V any] struct {
	cache        *Cache[K, V]
	spaceLimit   int
	currentSpace int
	overflow     int
	loadFactor   float64
	sizer        func(V) int
	closer       func(K, V) bool
	evicting     bool
	evictions    int
}

func NewOverflowing[K comparable, V any](opts Options[K, V]) *Overflowing[K, V] {
	o := &Overflowing[K, V]{
		cache:      New[K, V](),
		spaceLimit: opts.SpaceLimit,
		loadFactor: opts.LoadFactor,
		sizer:      opts.Sizer,
		closer:     opts.Closer,
	}
	if o.loadFactor <= 0 || o.loadFactor > 1 {
		o.loadFactor = DefaultLoadFactor
	}
	return o
}

func (o *Overflowing[K, V]) Len() int          { return o.cache.Len() }
func (o *Overflowing[K, V]) SpaceLimit() int   { return o.spaceLimit }
func (o *Overflowing[K, V]) CurrentSpace() int { return o.currentSpace }
func (o *Overflowing[K, V]) Overflow() int     { return o.overflow }
func (o *Overflowing[K, V]) LoadFactor() float64 {
	return o.loadFactor
}

// Evictions returns the number of entries closed to make space so far.
func (o *Overflowing[K, V]) Evictions() int { return o.evictions }

// SetCloser replaces the close hook.
func (o *Overflowing[K, V]) SetCloser(closer func(K, V) bool) {
	o.closer = closer
}

func (o *Overflowing[K, V]) SetLoadFactor(f float64) error {
	if f <= 0 || f > 1 {
		return fmt.Errorf("load factor %v out of range (0, 1]", f)
	}
	o.loadFactor = f
	return nil
}

func (o *Overflowing[K, V]) Get(key K) (V, bool)  { return o.cache.Get(key) }
func (o *Overflowing[K, V]) Peek(key K) (V, bool) { return o.cache.Peek(key) }
func (o *Overflowing[K, V]) Contains(key K) bool  { return o.cache.Contains(key) }
func (o *Overflowing[K, V]) Keys() []K            { return o.cache.Keys() }
func (o *Overflowing[K, V]) Snapshot() []Entry[K, V] {
	return o.cache.Snapshot()
}

// Put inserts or replaces key, making space first if needed.
func (o *Overflowing[K, V]) Put(key K, value V) {
	if o.overflow > 0 {
		o.Shrink()
	}

	space := o.spaceFor(value)
	if e, ok := o.cache.items[key]; ok {
		total := o.currentSpace - e.space + space
		if total <= o.spaceLimit {
			e.value = value
			e.space = space
			o.currentSpace = total
			o.cache.moveToFront(e)
			o.overflow = 0
			return
		}
		o.removeEntry(e)
	}

	o.makeSpace(space)
	o.cache.pushFront(&entry[K, V]{key: key, value: value, space: space})
	o.currentSpace += space
}

// Remove deletes key without consulting the close hook.
func (o *Overflowing[K, V]) Remove(key K) (V, bool) {
	e, ok := o.cache.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	o.removeEntry(e)
	return e.value, true
}

// Shrink retries reclaiming space when the cache is in overflow.
func (o *Overflowing[K, V]) Shrink() {
	if o.overflow > 0 {
		o.makeSpace(0)
	}
}

// SetSpaceLimit changes the budget. Lowering it evicts entries down to the
// new limit where they agree to close.
func (o *Overflowing[K, V]) SetSpaceLimit(limit int) {
	if limit < o.spaceLimit && !o.evicting {
		o.makeSpace(o.spaceLimit - limit)
	}
	if o.overflow > 0 || o.currentSpace > limit {
		o.overflow = max(0, o.currentSpace-limit)
	}
	o.spaceLimit = limit
}

func (o *Overflowing[K, V]) Clear() {
	o.cache.Clear()
	o.currentSpace = 0
	o.overflow = 0
}

func (o *Overflowing[K, V]) spaceFor(value V) int {
	if o.sizer == nil {
		return 1
	}
	return o.sizer(value)
}

func (o *Overflowing[K, V]) removeEntry(e *entry[K, V]) {
	o.cache.unlink(e)
	o.currentSpace -= e.space
}

// makeSpace evicts from the LRU end until space fits, reclaiming at least
// (1-loadFactor) of the limit. It reports whether space fits afterwards.
func (o *Overflowing[K, V]) makeSpace(space int) bool {
	if o.overflow == 0 && o.currentSpace+space <= o.spaceLimit {
		return true
	}
	if o.evicting {
		return false
	}
	o.evicting = true
	defer func() { o.evicting = false }()

	needed := int((1 - o.loadFactor) * float64(o.spaceLimit))
	if needed < space {
		needed = space
	}

	refused := make(map[K]struct{})
	e := o.cache.back()
	for e != nil && o.currentSpace+needed > o.spaceLimit {
		prev := o.cache.before(e)
		if o.closeEntry(e) {
			o.evictions++
		} else {
			refused[e.key] = struct{}{}
		}
		if prev != nil && prev.removed {
			// The close hook removed more than e; rescan from the tail.
			prev = o.cache.back()
		}
		for prev != nil {
			if _, skip := refused[prev.key]; !skip {
				break
			}
			prev = o.cache.before(prev)
		}
		e = prev
	}

	if o.currentSpace+space <= o.spaceLimit {
		o.overflow = 0
		return true
	}
	o.overflow = o.currentSpace + space - o.spaceLimit
	return false
}

func (o *Overflowing[K, V]) closeEntry(e *entry[K, V]) bool {
	if o.closer != nil && !o.closer(e.key, e.value) {
		return false
	}
	if !e.removed {
		o.removeEntry(e)
	}
	return true
}
