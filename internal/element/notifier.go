package element

import (
	"sync"

	"arbor/internal/delta"
)

// Notifier receives the change events of a manager.
type Notifier interface {
	Fire(ev delta.Event)
}

type NotifierFunc func(ev delta.Event)

func (f NotifierFunc) Fire(ev delta.Event) { f(ev) }

// Bus fans events out to subscribers. Subscribers are called synchronously
// in subscription order and must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]NotifierFunc
	order  []int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]NotifierFunc)}
}

// Subscribe registers fn and returns a function that unregisters it.
func (b *Bus) Subscribe(fn NotifierFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) Fire(ev delta.Event) {
	b.mu.RLock()
	fns := make([]NotifierFunc, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// fire must not be called with m.mu held.
func (m *Manager) fire(t delta.EventType, d *delta.Delta) {
	if m.notifier == nil || d == nil {
		return
	}
	m.notifier.Fire(delta.NewEvent(t, d))
}
