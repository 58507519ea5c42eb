package delta

import (
	"fmt"

	"arbor/internal/errors"
	"arbor/internal/model"
)

// Builder accumulates changes into a delta tree rooted at one element.
// Changes recorded for the same element are merged in the order they are
// reported: added then removed cancels out, removed then added becomes a
// content change, and so on.
type Builder struct {
	root *Delta
}

func NewBuilder(root model.Handle) *Builder {
	return &Builder{root: New(root)}
}

func (b *Builder) Added(h model.Handle, flags Flags) *Builder {
	d := New(h)
	d.kind = Added
	d.flags = flags
	b.Insert(d)
	return b
}

func (b *Builder) Removed(h model.Handle, flags Flags) *Builder {
	d := New(h)
	d.kind = Removed
	d.flags = flags
	b.Insert(d)
	return b
}

func (b *Builder) Changed(h model.Handle, flags Flags) *Builder {
	d := New(h)
	d.kind = Changed
	d.flags = flags
	b.Insert(d)
	return b
}

// MovedFrom records that old was removed because it moved to moved.
func (b *Builder) MovedFrom(old, moved model.Handle) *Builder {
	d := New(old)
	d.kind = Removed
	d.flags = MovedTo
	d.movedTo = moved
	b.Insert(d)
	return b
}

// MovedTo records that moved was added because old moved there.
func (b *Builder) MovedTo(moved, old model.Handle) *Builder {
	d := New(moved)
	d.kind = Added
	d.flags = MovedFrom
	d.movedFrom = old
	b.Insert(d)
	return b
}

func (b *Builder) MarkersChanged(h model.Handle, markerDeltas ...any) *Builder {
	d := New(h)
	d.kind = Changed
	d.flags = Markers
	d.markers = markerDeltas
	b.Insert(d)
	return b
}

// AddExternalDelta attaches an opaque delta reported by the storage under
// h. It counts as a coarse content change.
func (b *Builder) AddExternalDelta(h model.Handle, external any) *Builder {
	d := New(h)
	d.kind = Changed
	d.flags = Content
	d.external = []any{external}
	b.Insert(d)
	return b
}

// Insert merges d into the tree, synthesizing changed deltas for every
// ancestor between the root and d. It panics if d is not the root or one of
// its descendants.
func (b *Builder) Insert(d *Delta) {
	root := b.root.element
	if model.SameChain(d.element, root) {
		b.mergeRoot(d)
		return
	}

	var chain []model.Handle
	p := d.element.Parent()
	for ; p != nil && !model.SameChain(p, root); p = p.Parent() {
		chain = append(chain, p)
	}
	if p == nil {
		panic(errors.Invariant(fmt.Sprintf("%s is not a descendant of %s", d.element.ID(), root.ID())))
	}

	top := d
	for _, anc := range chain {
		parent := New(anc)
		parent.addAffectedChild(top)
		top = parent
	}
	b.root.addAffectedChild(top)
}

func (b *Builder) mergeRoot(d *Delta) {
	holder := &Delta{kind: Changed}
	if !b.root.IsEmpty() {
		holder.appendChild(b.root)
	}
	holder.addAffectedChild(d)
	if len(holder.children) == 0 {
		b.root = New(b.root.element)
		return
	}
	b.root = holder.children[0]
}

// Delta returns the root delta with emptied branches pruned.
func (b *Builder) Delta() *Delta {
	b.root.prune()
	return b.root
}

func (b *Builder) IsEmpty() bool {
	return b.Delta().IsEmpty()
}

// TrimRemoved drops the children of removed deltas so that a removed
// subtree is reported as one removal.
func (b *Builder) TrimRemoved() {
	b.root.trimRemoved()
}
