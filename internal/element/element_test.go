package element

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"arbor/internal/cache"
	"arbor/internal/delta"
	"arbor/internal/errors"
	"arbor/internal/lru"
	"arbor/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeKind string

const (
	dirKind  nodeKind = "dir"
	leafKind nodeKind = "leaf"
	fileKind nodeKind = "file"
	lineKind nodeKind = "line"
)

// world is an in-memory model whose structure tests change between opens.
type world struct {
	mu       sync.Mutex
	children map[model.ID][]*node
	text     map[model.ID]string
	missing  map[model.ID]bool
	fail     map[model.ID]error
	noSelf   map[model.ID]bool
	builds   map[model.ID]int
	gate     func(n *node)
}

func newWorld() *world {
	return &world{
		children: make(map[model.ID][]*node),
		text:     make(map[model.ID]string),
		missing:  make(map[model.ID]bool),
		fail:     make(map[model.ID]error),
		noSelf:   make(map[model.ID]bool),
		builds:   make(map[model.ID]int),
	}
}

func (w *world) root(name string) *node {
	return &node{w: w, id: model.MakeID(nil, string(dirKind), name), name: name, kind: dirKind}
}

func (w *world) setChildren(n *node, children ...*node) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.children[n.id] = children
}

func (w *world) buildCount(n *node) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.builds[n.id]
}

type node struct {
	w      *world
	id     model.ID
	name   string
	parent *node
	kind   nodeKind
}

func (n *node) child(name string, kind nodeKind) *node {
	return &node{w: n.w, id: model.MakeID(n, string(kind), name), name: name, parent: n, kind: kind}
}

func (n *node) ID() model.ID   { return n.id }
func (n *node) Name() string   { return n.name }
func (n *node) String() string { return string(n.id) }

func (n *node) Parent() model.Handle {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) IsSource() bool {
	return n.kind == fileKind || n.kind == lineKind
}

func (n *node) SelfOpening() bool {
	return n.kind == dirKind || n.kind == fileKind
}

func (n *node) ValidateExistence(context.Context) error {
	n.w.mu.Lock()
	defer n.w.mu.Unlock()
	if n.w.missing[n.id] {
		return errors.NotFound(fmt.Sprintf("%s does not exist", n.id))
	}
	return nil
}

func (n *node) BuildStructure(ctx context.Context, st *Staging) error {
	w := n.w
	w.mu.Lock()
	w.builds[n.id]++
	gate, failure, skip := w.gate, w.fail[n.id], w.noSelf[n.id]
	children := append([]*node(nil), w.children[n.id]...)
	text := w.text[n.id]
	w.mu.Unlock()

	if gate != nil {
		gate(n)
	}
	if failure != nil {
		return failure
	}

	switch n.kind {
	case fileKind:
		snap := model.Snapshot(model.SnapshotOf([]byte(text)))
		if contents, s, ok := ReconcileContents(ctx, n); ok {
			text, snap = contents, s
		}
		body := model.NewSourceBody()
		body.Snapshot = snap
		body.FullRange = model.TextRange{Offset: 0, Length: len(text)}
		offset := 0
		for _, line := range strings.Split(text, "\n") {
			if line != "" {
				name, _, _ := strings.Cut(line, "=")
				c := n.child(name, lineKind)
				if err := body.AddChild(c); err != nil {
					return err
				}
				lb := model.NewSourceBody()
				lb.FullRange = model.TextRange{Offset: offset, Length: len(line)}
				lb.Snapshot = snap
				lb.Set("text", line)
				st.Put(c, lb)
			}
			offset += len(line) + 1
		}
		if !skip {
			st.Put(n, body)
		}
	default:
		body := model.NewBaseBody()
		for _, c := range children {
			if err := body.AddChild(c); err != nil {
				return err
			}
			if !c.SelfOpening() {
				st.Put(c, model.NewBaseBody())
			}
		}
		if !skip {
			st.Put(n, body)
		}
	}
	return nil
}

type memBuffer struct {
	mu   sync.Mutex
	text string
	refs atomic.Int32
}

func newMemBuffer(text string) *memBuffer {
	return &memBuffer{text: text}
}

func (b *memBuffer) Contents() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *memBuffer) Snapshot() model.Snapshot {
	return model.SnapshotOf([]byte(b.Contents()))
}

func (b *memBuffer) set(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = text
}

func (b *memBuffer) AddRef()  { b.refs.Add(1) }
func (b *memBuffer) Release() { b.refs.Add(-1) }

func cached(m *Manager, h model.Handle) bool {
	_, ok := m.Peek(context.Background(), h)
	return ok
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	sub, leaf := root.child("sub", dirKind), root.child("x", leafKind)
	w.setChildren(root, sub, leaf)

	m := NewManager()
	body, err := Open(ctx, m, root)
	require.NoError(t, err)
	assert.Len(t, body.Children(), 2)

	again, err := Open(ctx, m, root)
	require.NoError(t, err)
	assert.Same(t, body, again)
	assert.Equal(t, 1, w.buildCount(root))

	t.Run("non-self-opening child is built by its parent", func(t *testing.T) {
		assert.True(t, cached(m, leaf))
		assert.False(t, cached(m, sub))
		_, err := Open(ctx, m, leaf)
		require.NoError(t, err)
		assert.Equal(t, 1, w.buildCount(root))
	})

	t.Run("opening a child opens closed ancestors", func(t *testing.T) {
		m := NewManager()
		_, err := Open(ctx, m, sub)
		require.NoError(t, err)
		assert.True(t, cached(m, root))
		assert.True(t, cached(m, sub))
	})

	t.Run("unknown non-self-opening child", func(t *testing.T) {
		_, err := Open(ctx, m, root.child("ghost", leafKind))
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("missing element", func(t *testing.T) {
		gone := root.child("gone", dirKind)
		w.mu.Lock()
		w.missing[gone.id] = true
		w.mu.Unlock()
		ok, err := Exists(ctx, m, gone)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("children", func(t *testing.T) {
		children, err := Children(ctx, m, root)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, sub.ID(), children[0].ID())
	})
}

func TestOpen_Atomicity(t *testing.T) {
	ctx := context.Background()

	t.Run("failed build publishes nothing", func(t *testing.T) {
		w := newWorld()
		root := w.root("r")
		sub := root.child("sub", dirKind)
		w.setChildren(root, sub)
		w.fail[sub.id] = errors.Internal("disk on fire", nil)

		m := NewManager()
		_, err := Open(ctx, m, sub)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk on fire")
		assert.False(t, cached(m, root))
		assert.False(t, cached(m, sub))
	})

	t.Run("element that does not stage itself", func(t *testing.T) {
		w := newWorld()
		root := w.root("r")
		w.noSelf[root.id] = true

		m := NewManager()
		_, err := Open(ctx, m, root)
		require.Error(t, err)
		assert.True(t, errors.IsInvariant(err))
		assert.False(t, cached(m, root))
	})

	t.Run("cancelled while building", func(t *testing.T) {
		w := newWorld()
		root := w.root("r")
		leaf := root.child("x", leafKind)
		w.setChildren(root, leaf)

		cctx, cancel := context.WithCancel(ctx)
		w.gate = func(*node) { cancel() }

		m := NewManager()
		_, err := Open(cctx, m, root)
		require.Error(t, err)
		assert.True(t, errors.IsCancelled(err))
		assert.False(t, cached(m, root))
		assert.False(t, cached(m, leaf))
	})
}

func TestOpen_ConcurrentBuildsPublishOnce(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	w.setChildren(root, root.child("x", leafKind))

	var arrived sync.WaitGroup
	arrived.Add(2)
	w.gate = func(*node) {
		arrived.Done()
		arrived.Wait()
	}

	m := NewManager()
	var wg sync.WaitGroup
	bodies := make([]model.Body, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bodies[i], errs[i] = Open(ctx, m, root)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 2, w.buildCount(root))
	assert.Same(t, bodies[0], bodies[1])

	published, ok := m.Peek(ctx, root)
	require.True(t, ok)
	assert.Same(t, published, bodies[0])
}

func TestOpen_ForceReopenClosesReplacedChildren(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	a, b := root.child("a", dirKind), root.child("b", dirKind)
	w.setChildren(root, a)

	m := NewManager()
	_, err := Open(ctx, m, a)
	require.NoError(t, err)
	require.True(t, cached(m, a))

	w.setChildren(root, b)
	body, err := Open(ctx, m, root, WithForceReopen())
	require.NoError(t, err)
	assert.Equal(t, 2, w.buildCount(root))
	require.Len(t, body.Children(), 1)
	assert.Equal(t, b.ID(), body.Children()[0].ID())
	assert.False(t, cached(m, a))
}

func TestManager_WideNode(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	var leaves []*node
	for i := range 20 {
		leaves = append(leaves, root.child(fmt.Sprintf("x%02d", i), leafKind))
	}
	w.setChildren(root, leaves...)

	m := NewManager(WithCache(cache.NewNodeCache("wide", 5, lru.DefaultLoadFactor)))
	_, err := Open(ctx, m, root)
	require.NoError(t, err)

	for _, l := range leaves {
		assert.True(t, cached(m, l), l.name)
	}
	stats, ok := m.CacheStats()
	require.True(t, ok)
	assert.Greater(t, stats.SpaceLimit, 5)
	assert.Equal(t, 21, stats.Len)

	m.Remove(root)
	stats, _ = m.CacheStats()
	assert.Equal(t, 5, stats.SpaceLimit)
	assert.Equal(t, 0, stats.Len)
}

func TestManager_UpdateChildren(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	a, b := root.child("a", dirKind), root.child("b", dirKind)
	w.setChildren(root, a)

	m := NewManager()
	err := m.UpdateChildren(root, []model.Handle{a, b})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = Open(ctx, m, root)
	require.NoError(t, err)
	require.NoError(t, m.UpdateChildren(root, []model.Handle{b, a}))
	body, _ := m.Peek(ctx, root)
	assert.Equal(t, b.ID(), body.Children()[0].ID())

	err = m.UpdateChildren(root, []model.Handle{a, a})
	assert.True(t, errors.IsInvariant(err))
}

func TestStaging(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	assert.False(t, m.HasStaging(ctx))

	ctx, st, created := m.GetOrCreateStaging(ctx)
	require.True(t, created)
	assert.True(t, m.HasStaging(ctx))

	_, same, created := m.GetOrCreateStaging(ctx)
	assert.False(t, created)
	assert.Same(t, st, same)

	w := newWorld()
	root := w.root("r")
	first, second := model.NewBaseBody(), model.NewBaseBody()
	st.Put(root, first)
	st.Put(root, second)
	assert.Equal(t, 1, st.Len())

	got, ok := m.Get(ctx, root)
	require.True(t, ok)
	assert.Same(t, second, got)

	other := NewManager()
	_, _, created = other.GetOrCreateStaging(ctx)
	assert.True(t, created, "staging is per manager")
}

func TestWorkingCopy_Lifecycle(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	file := root.child("f.txt", fileKind)
	w.setChildren(root, file)
	w.text[file.id] = "on disk\n"

	bus := NewBus()
	var events []delta.Event
	var mu sync.Mutex
	unsubscribe := bus.Subscribe(func(ev delta.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer unsubscribe()

	m := NewManager(WithNotifier(bus))
	buf := newMemBuffer("a=1\nb=1\n")
	info, err := BecomeWorkingCopy(ctx, m, file, buf, "editor", nil)
	require.NoError(t, err)
	assert.Equal(t, "editor", info.ClientContext)
	assert.Equal(t, int32(1), buf.refs.Load())
	assert.True(t, m.IsWorkingCopy(file))

	children, err := Children(ctx, m, file)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Name())

	require.Len(t, events, 1)
	assert.Equal(t, delta.PostChange, events[0].Type)
	assert.True(t, events[0].Delta.Flags().Has(delta.WorkingCopy))

	t.Run("reconcile reports the structural delta", func(t *testing.T) {
		buf.set("a=2\nc=1\n")
		d, err := Reconcile(ctx, m, file, false)
		require.NoError(t, err)

		assert.Equal(t, file.ID(), d.Element().ID())
		a, b, c := file.child("a", lineKind), file.child("b", lineKind), file.child("c", lineKind)
		require.NotNil(t, d.Find(a))
		assert.True(t, d.Find(a).Flags().Has(delta.Content))
		require.NotNil(t, d.Find(b))
		assert.Equal(t, delta.Removed, d.Find(b).Kind())
		require.NotNil(t, d.Find(c))
		assert.Equal(t, delta.Added, d.Find(c).Kind())

		assert.False(t, cached(m, b))
		require.Len(t, events, 2)
		assert.Equal(t, delta.PostReconcile, events[1].Type)
	})

	t.Run("unchanged buffer reconciles to nothing", func(t *testing.T) {
		d, err := Reconcile(ctx, m, file, false)
		require.NoError(t, err)
		assert.True(t, d.IsEmpty())
		assert.Len(t, events, 2)
	})

	t.Run("working copy refuses external close", func(t *testing.T) {
		assert.False(t, Close(m, file))
		assert.True(t, cached(m, file))
	})

	t.Run("closing the parent closes the working copy body", func(t *testing.T) {
		assert.True(t, Close(m, root))
		assert.False(t, cached(m, file))
		assert.True(t, m.IsWorkingCopy(file))

		_, err := Open(ctx, m, file)
		require.NoError(t, err)
	})

	ReleaseWorkingCopy(m, file)
	assert.False(t, m.IsWorkingCopy(file))
	assert.Equal(t, int32(0), buf.refs.Load())
	assert.False(t, cached(m, file))
	require.Len(t, events, 3)
	assert.Equal(t, delta.PostChange, events[2].Type)

	_, err = Reconcile(ctx, m, file, true)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestWorkingCopy_RefCount(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	file := root.child("f.txt", fileKind)
	w.setChildren(root, file)

	m := NewManager()
	buf := newMemBuffer("a=1\n")
	const n = 5
	for range n {
		_, err := BecomeWorkingCopy(ctx, m, file, buf, nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, n, m.RefCount(file))
	assert.Equal(t, int32(1), buf.refs.Load())

	info, err := AcquireExistingWorkingCopy(ctx, m, file)
	require.NoError(t, err)
	require.NotNil(t, info)
	ReleaseWorkingCopy(m, file)

	for range n {
		ReleaseWorkingCopy(m, file)
	}
	assert.Equal(t, 0, m.WorkingCopies())
	assert.Equal(t, int32(0), buf.refs.Load())
	assert.False(t, cached(m, file))

	info, err = AcquireExistingWorkingCopy(ctx, m, file)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestWorkingCopy_FailedInitUnregisters(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	file := root.child("f.txt", fileKind)
	w.setChildren(root, file)

	m := NewManager()
	buf := newMemBuffer("a=1\n")
	failing := ReconcileFunc(func(context.Context, ReconcileRequest) error {
		return errors.Internal("parser crashed", nil)
	})
	_, err := BecomeWorkingCopy(ctx, m, file, buf, nil, failing)
	require.Error(t, err)
	assert.False(t, m.IsWorkingCopy(file))
	assert.Equal(t, int32(0), buf.refs.Load())
}

func TestWorkingCopy_WaitersSeeInitialization(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	file := root.child("f.txt", fileKind)
	w.setChildren(root, file)

	m := NewManager()
	buf := newMemBuffer("a=1\n")
	started, release := make(chan struct{}), make(chan struct{})
	slow := ReconcileFunc(func(ctx context.Context, req ReconcileRequest) error {
		close(started)
		<-release
		return DefaultReconcileStrategy.Reconcile(ctx, req)
	})

	done := make(chan error, 1)
	go func() {
		_, err := BecomeWorkingCopy(ctx, m, file, buf, nil, slow)
		done <- err
	}()
	<-started

	t.Run("cancelled waiter", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := AcquireExistingWorkingCopy(cctx, m, file)
		require.Error(t, err)
		assert.True(t, errors.IsCancelled(err))
	})

	close(release)
	info, err := BecomeWorkingCopy(ctx, m, file, buf, nil, nil)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.NotNil(t, info.Strategy)
	assert.Equal(t, 2, m.RefCount(file))
	assert.True(t, cached(m, file))
}

func TestSourceElementAt(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	root := w.root("r")
	file := root.child("f.txt", fileKind)
	w.setChildren(root, file)
	w.text[file.id] = "a=1\nbb=2\n"

	m := NewManager()
	tests := []struct {
		name   string
		offset int
		want   string
	}{
		{"first line", 1, "a"},
		{"end of line is inclusive", 3, "a"},
		{"second line", 5, "bb"},
		{"past the lines", 9, "f.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SourceElementAt(ctx, m, file, tt.offset, nil)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name())
		})
	}

	t.Run("outside the element", func(t *testing.T) {
		got, err := SourceElementAt(ctx, m, file, 100, nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("stale snapshot", func(t *testing.T) {
		_, err := SourceElementAt(ctx, m, file, 1, model.SnapshotOf([]byte("other")))
		require.Error(t, err)
		assert.True(t, errors.IsStaleSnapshot(err))
	})
}

func TestBus(t *testing.T) {
	bus := NewBus()
	var got []string
	unA := bus.Subscribe(func(ev delta.Event) { got = append(got, "a:"+ev.Type.String()) })
	bus.Subscribe(func(ev delta.Event) { got = append(got, "b:"+ev.Type.String()) })
	assert.Equal(t, 2, bus.Len())

	bus.Fire(delta.Event{Type: delta.PostChange})
	unA()
	unA()
	bus.Fire(delta.Event{Type: delta.PostReconcile})

	assert.Equal(t, []string{"a:post_change", "b:post_change", "b:post_reconcile"}, got)
	assert.Equal(t, 1, bus.Len())
}
