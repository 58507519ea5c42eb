package delta

import (
	"fmt"
	"testing"

	"arbor/internal/errors"
	"arbor/internal/model/modeltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAlgebra(t *testing.T) {
	root := modeltest.Root("r")
	x := root.Child("x")

	tests := []struct {
		name      string
		apply     func(b *Builder)
		wantKind  Kind
		wantFlags Flags
		wantEmpty bool
	}{
		{
			name:     "added then added",
			apply:    func(b *Builder) { b.Added(x, 0).Added(x, 0) },
			wantKind: Added,
		},
		{
			name:     "added then changed",
			apply:    func(b *Builder) { b.Added(x, 0).Changed(x, Content) },
			wantKind: Added,
		},
		{
			name:      "added then removed",
			apply:     func(b *Builder) { b.Added(x, 0).Removed(x, 0) },
			wantEmpty: true,
		},
		{
			name:      "removed then added",
			apply:     func(b *Builder) { b.Removed(x, 0).Added(x, 0) },
			wantKind:  Changed,
			wantFlags: Content,
		},
		{
			name:     "removed then changed",
			apply:    func(b *Builder) { b.Removed(x, 0).Changed(x, Content) },
			wantKind: Removed,
		},
		{
			name:     "removed then removed",
			apply:    func(b *Builder) { b.Removed(x, 0).Removed(x, 0) },
			wantKind: Removed,
		},
		{
			name:     "changed then added",
			apply:    func(b *Builder) { b.Changed(x, Content).Added(x, 0) },
			wantKind: Added,
		},
		{
			name:     "changed then removed",
			apply:    func(b *Builder) { b.Changed(x, Content).Removed(x, 0) },
			wantKind: Removed,
		},
		{
			name:      "changed then changed",
			apply:     func(b *Builder) { b.Changed(x, Content).Changed(x, Reorder) },
			wantKind:  Changed,
			wantFlags: Content | Reorder,
		},
		{
			name:      "coarse content after fine-grained change",
			apply:     func(b *Builder) { b.Changed(x, Reorder|FineGrained).Changed(x, Content) },
			wantKind:  Changed,
			wantFlags: Reorder | FineGrained,
		},
		{
			name:      "coarse content after fine-grained content change",
			apply:     func(b *Builder) { b.Changed(x, Content|FineGrained).Changed(x, Content) },
			wantKind:  Changed,
			wantFlags: Content | FineGrained,
		},
		{
			name:      "fine-grained content after fine-grained change",
			apply:     func(b *Builder) { b.Changed(x, FineGrained).Changed(x, Content|FineGrained) },
			wantKind:  Changed,
			wantFlags: Content | FineGrained,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(root)
			tt.apply(b)
			d := b.Delta()

			if tt.wantEmpty {
				assert.True(t, d.IsEmpty(), d.String())
				assert.Equal(t, None, d.Kind())
				assert.Nil(t, d.Find(x))
				return
			}
			require.Equal(t, Changed, d.Kind())
			assert.True(t, d.Flags().Has(Children))
			got := d.Find(x)
			require.NotNil(t, got, d.String())
			assert.Equal(t, tt.wantKind, got.Kind())
			assert.Equal(t, tt.wantFlags, got.Flags())
		})
	}
}

func TestBuilder_AncestorChain(t *testing.T) {
	root := modeltest.Root("r")
	dir := root.Child("dir")
	file := dir.SourceChild("file")
	section := file.Child("section")

	b := NewBuilder(root)
	b.Changed(section, Content)
	d := b.Delta()

	require.Len(t, d.AffectedChildren(), 1)
	dirDelta := d.AffectedChildren()[0]
	assert.Equal(t, dir.ID(), dirDelta.Element().ID())
	assert.Equal(t, Changed, dirDelta.Kind())
	assert.Equal(t, Children, dirDelta.Flags())

	fileDelta := d.Find(file)
	require.NotNil(t, fileDelta)
	assert.Equal(t, Children|FineGrained, fileDelta.Flags())
	assert.Equal(t, Content, d.Find(section).Flags())

	t.Run("second descendant shares the chain", func(t *testing.T) {
		b.Added(file.Child("other"), 0)
		d := b.Delta()
		require.Len(t, d.AffectedChildren(), 1)
		assert.Len(t, d.Find(file).AffectedChildren(), 2)
	})

	t.Run("changes under an added parent are absorbed", func(t *testing.T) {
		b := NewBuilder(root)
		b.Added(dir, 0)
		b.Changed(section, Content)
		assert.Empty(t, b.Delta().Find(dir).AffectedChildren())
	})

	t.Run("foreign element panics", func(t *testing.T) {
		b := NewBuilder(root)
		assert.Panics(t, func() { b.Added(modeltest.Root("other").Child("x"), 0) })
	})
}

func TestBuilder_RootDelta(t *testing.T) {
	root := modeltest.Root("r")

	b := NewBuilder(root)
	b.Changed(root, Content)
	assert.Equal(t, Changed, b.Delta().Kind())
	assert.Equal(t, Content, b.Delta().Flags())

	b.Removed(root, 0)
	assert.Equal(t, Removed, b.Delta().Kind())

	b = NewBuilder(root)
	b.Added(root, 0).Removed(root, 0)
	assert.True(t, b.IsEmpty())
}

func TestBuilder_PrunesEmptiedChains(t *testing.T) {
	root := modeltest.Root("r")
	a := root.Child("a")
	deep := a.Child("b").Child("c")

	b := NewBuilder(root)
	b.Added(deep, 0)
	require.False(t, b.IsEmpty())
	b.Removed(deep, 0)

	d := b.Delta()
	assert.True(t, d.IsEmpty(), d.String())
	assert.Equal(t, None, d.Kind())
	assert.Equal(t, Flags(0), d.Flags())

	b.Changed(root.Child("z"), Content)
	d = b.Delta()
	assert.Len(t, d.AffectedChildren(), 1)
	assert.Nil(t, d.Find(a))
}

func TestBuilder_Moves(t *testing.T) {
	root := modeltest.Root("r")
	from, to := root.Child("from"), root.Child("to")

	d := NewBuilder(root).MovedFrom(from, to).MovedTo(to, from).Delta()

	removed := d.RemovedChildren()
	require.Len(t, removed, 1)
	assert.Equal(t, MovedTo, removed[0].Flags())
	assert.Equal(t, to.ID(), removed[0].MovedTo().ID())

	added := d.AddedChildren()
	require.Len(t, added, 1)
	assert.Equal(t, MovedFrom, added[0].Flags())
	assert.Equal(t, from.ID(), added[0].MovedFrom().ID())
}

func TestBuilder_Payloads(t *testing.T) {
	root := modeltest.Root("r")
	x := root.Child("x")

	t.Run("markers", func(t *testing.T) {
		b := NewBuilder(root).Changed(x, Content).MarkersChanged(x, "m1")
		got := b.Delta().Find(x)
		assert.Equal(t, Content|Markers, got.Flags())
		assert.Equal(t, []any{"m1"}, got.MarkerDeltas())

		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.True(t, errors.IsInvariant(err))
		}()
		b.MarkersChanged(x, "m2")
	})

	t.Run("external", func(t *testing.T) {
		b := NewBuilder(root).AddExternalDelta(x, "resource")
		got := b.Delta().Find(x)
		assert.Equal(t, Content, got.Flags())
		assert.Equal(t, []any{"resource"}, got.ExternalDeltas())
		assert.Panics(t, func() { b.AddExternalDelta(x, "again") })
	})
}

func TestChildIndex(t *testing.T) {
	root := modeltest.Root("r")
	b := NewBuilder(root)
	for i := 0; i < 10; i++ {
		b.Changed(root.Child(fmt.Sprintf("c%d", i)), Content)
	}
	for i := 0; i < 10; i += 2 {
		b.Changed(root.Child(fmt.Sprintf("c%d", i)), Reorder)
	}
	b.Added(root.Child("c3"), 0)

	d := b.Delta()
	require.Len(t, d.AffectedChildren(), 10)
	assert.Equal(t, Content|Reorder, d.Find(root.Child("c4")).Flags())
	assert.Equal(t, Content, d.Find(root.Child("c5")).Flags())
	assert.Equal(t, Added, d.Find(root.Child("c3")).Kind())
	assert.Len(t, d.AddedChildren(), 1)
	assert.Len(t, d.ChangedChildren(), 9)

	b.Added(root.Child("new"), 0).Removed(root.Child("new"), 0)
	assert.Len(t, b.Delta().AffectedChildren(), 10)
	assert.Nil(t, b.Delta().Find(root.Child("new")))
	assert.NotNil(t, b.Delta().Find(root.Child("c9")))
}

func TestDeltaString(t *testing.T) {
	root := modeltest.Root("r")
	a := root.Child("a")
	d := NewBuilder(root).
		Added(a, 0).
		Removed(root.Child("b"), 0).
		Changed(root.Child("c"), Content|Reorder).
		Delta()

	want := "r[*]: {CHILDREN}\n" +
		"\ta[+]: {}\n" +
		"\tb[-]: {}\n" +
		"\tc[*]: {CONTENT | REORDERED}"
	assert.Equal(t, want, d.String())
}

func TestTrimRemoved(t *testing.T) {
	root := modeltest.Root("r")
	gone := root.Child("gone")

	d := New(root)
	removed := New(gone)
	removed.kind = Removed
	removed.children = []*Delta{{element: gone.Child("x"), kind: Removed}}
	d.addAffectedChild(removed)

	b := &Builder{root: d}
	b.TrimRemoved()
	assert.Empty(t, b.Delta().Find(gone).AffectedChildren())
}

func TestFlagsAndKinds(t *testing.T) {
	assert.Equal(t, "CHILDREN | FINE GRAINED", (Children | FineGrained).String())
	assert.Equal(t, "", Flags(0).String())
	assert.True(t, (Content | Reorder).Has(Reorder))
	assert.False(t, Content.Has(Content|Reorder))
	assert.Equal(t, "removed", Removed.String())
	assert.Equal(t, "post_reconcile", PostReconcile.String())
}
