package element

import (
	"context"

	"arbor/internal/cache"
	"arbor/internal/model"
)

// Staging holds the bodies built by one open call tree before they are
// published together.
type Staging struct {
	bodies map[model.ID]int
	order  []cache.Entry
}

func newStaging() *Staging {
	return &Staging{bodies: make(map[model.ID]int)}
}

// Put stages b as the body of h, replacing any body staged before.
func (s *Staging) Put(h model.Handle, b model.Body) {
	if i, ok := s.bodies[h.ID()]; ok {
		s.order[i] = cache.Entry{Handle: h, Body: b}
		return
	}
	s.bodies[h.ID()] = len(s.order)
	s.order = append(s.order, cache.Entry{Handle: h, Body: b})
}

func (s *Staging) Get(h model.Handle) (model.Body, bool) {
	i, ok := s.bodies[h.ID()]
	if !ok {
		return nil, false
	}
	return s.order[i].Body, true
}

func (s *Staging) Has(h model.Handle) bool {
	_, ok := s.bodies[h.ID()]
	return ok
}

func (s *Staging) Len() int {
	return len(s.order)
}

func (s *Staging) Clear() {
	s.bodies = make(map[model.ID]int)
	s.order = nil
}

// Entries returns the staged bodies in the order they were staged.
func (s *Staging) Entries() []cache.Entry {
	out := make([]cache.Entry, len(s.order))
	copy(out, s.order)
	return out
}

type stagingKey struct {
	m *Manager
}

// GetOrCreateStaging returns the staging area carried by ctx for this
// manager, creating one if there is none. created is true for the outermost
// open call, which is the one that publishes.
func (m *Manager) GetOrCreateStaging(ctx context.Context) (context.Context, *Staging, bool) {
	if st, ok := ctx.Value(stagingKey{m}).(*Staging); ok {
		return ctx, st, false
	}
	st := newStaging()
	return context.WithValue(ctx, stagingKey{m}, st), st, true
}

func (m *Manager) HasStaging(ctx context.Context) bool {
	_, ok := ctx.Value(stagingKey{m}).(*Staging)
	return ok
}

func (m *Manager) staging(ctx context.Context) *Staging {
	st, _ := ctx.Value(stagingKey{m}).(*Staging)
	return st
}
