package element

import (
	"context"
	"fmt"
	"sync"

	"arbor/internal/cache"
	"arbor/internal/errors"
	"arbor/internal/lru"
	"arbor/internal/model"

	"go.uber.org/zap"
)

const (
	DefaultSpaceLimit = 1000
	defaultCacheName  = "elements"
)

type closeHookSetter interface {
	SetCloseFunc(fn cache.CloseFunc)
}

// Manager owns the body cache and the working copy registry of one model.
// A single mutex guards both; structure building never happens under it.
type Manager struct {
	mu            sync.Mutex
	cache         cache.BodyCache
	workingCopies map[model.ID]*WorkingCopyInfo
	logger        *zap.Logger
	notifier      Notifier
}

type ManagerOption func(*Manager)

// WithCache replaces the default evicting cache.
func WithCache(c cache.BodyCache) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNotifier sets the sink for change events fired by the working copy
// layer.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		workingCopies: make(map[model.ID]*WorkingCopyInfo),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = cache.NewNodeCache(defaultCacheName, DefaultSpaceLimit, lru.DefaultLoadFactor)
	}
	if hs, ok := m.cache.(closeHookSetter); ok {
		// invoked by the cache while m.mu is held
		hs.SetCloseFunc(func(h model.Handle, _ model.Body) bool {
			return m.closeLocked(h, CacheOverflow)
		})
	}
	return m
}

func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// Get returns the body of h staged in ctx or published in the cache.
func (m *Manager) Get(ctx context.Context, h model.Handle) (model.Body, bool) {
	if st := m.staging(ctx); st != nil {
		if b, ok := st.Get(h); ok {
			return b, true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Get(h)
}

// Peek is Get without touching the cache's recency order.
func (m *Manager) Peek(ctx context.Context, h model.Handle) (model.Body, bool) {
	if st := m.staging(ctx); st != nil {
		if b, ok := st.Get(h); ok {
			return b, true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Peek(h)
}

// Put publishes the staged bodies. Cached children of h that are not staged
// are closed first since the new body replaces them.
func (m *Manager) Put(h model.Handle, st *Staging) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeReplacedLocked(h, st)
	m.cache.PutAll(st.Entries())
	m.logger.Debug("bodies published",
		zap.String("element", string(h.ID())),
		zap.Int("count", st.Len()))
}

// PutIfAbsent publishes the staged bodies unless h already has a cached
// body, in which case that body is returned and the staged ones discarded.
func (m *Manager) PutIfAbsent(h model.Handle, st *Staging) (model.Body, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.cache.Peek(h); ok {
		return existing, true
	}
	m.cache.PutAll(st.Entries())
	m.logger.Debug("bodies published",
		zap.String("element", string(h.ID())),
		zap.Int("count", st.Len()))
	return nil, false
}

// Remove drops the body of h and closes its children.
func (m *Manager) Remove(h model.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(h)
}

// Close closes h unless it refuses. Working copies only close when their
// parent is closing.
func (m *Manager) Close(h model.Handle, hint CloseHint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(h, hint)
}

// UpdateChildren replaces the children of the published body of h.
func (m *Manager) UpdateChildren(h model.Handle, children []model.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, ok := m.cache.Peek(h)
	if !ok {
		return errors.NotFound(fmt.Sprintf("%s is not open", h.ID()))
	}
	return body.SetChildren(children)
}

// CacheStats returns the statistics of the cache if it keeps any.
func (m *Manager) CacheStats() (cache.Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type statser interface{ Stats() cache.Stats }
	if s, ok := m.cache.(statser); ok {
		return s.Stats(), true
	}
	return cache.Stats{Len: m.cache.Len()}, false
}

func (m *Manager) closeReplacedLocked(h model.Handle, st *Staging) {
	old, ok := m.cache.Peek(h)
	if !ok {
		return
	}
	for _, c := range old.Children() {
		if st.Has(c) {
			m.closeReplacedLocked(c, st)
			continue
		}
		m.closeLocked(c, ParentClosing)
	}
}

func (m *Manager) closeLocked(h model.Handle, hint CloseHint) bool {
	if hint != ParentClosing {
		if _, ok := m.workingCopies[h.ID()]; ok {
			return false
		}
	}
	if c, ok := h.(Closer); ok && !c.CanClose(hint) {
		return false
	}
	m.removeLocked(h)
	return true
}

func (m *Manager) removeLocked(h model.Handle) {
	body, ok := m.cache.Peek(h)
	if !ok {
		return
	}
	if hook, ok := h.(RemovalHook); ok {
		hook.ElementRemoved(body)
	}
	for _, c := range body.Children() {
		m.closeLocked(c, ParentClosing)
	}
	m.cache.Remove(h)
	m.logger.Debug("body removed", zap.String("element", string(h.ID())))
}
