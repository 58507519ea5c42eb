// Package delta describes structural changes to a model tree. A Delta is
// rooted at one element and holds child deltas for affected descendants.
package delta

import (
	"fmt"
	"strings"

	"arbor/internal/errors"
	"arbor/internal/model"
)

// indexThreshold is the child count at which lookups switch from a linear
// scan to a map.
const indexThreshold = 3

type Delta struct {
	element   model.Handle
	kind      Kind
	flags     Flags
	movedFrom model.Handle
	movedTo   model.Handle
	children  []*Delta
	index     map[model.ID]int
	markers   []any
	external  []any
}

// New returns an empty delta for h.
func New(h model.Handle) *Delta {
	return &Delta{element: h}
}

func (d *Delta) Element() model.Handle   { return d.element }
func (d *Delta) Kind() Kind              { return d.kind }
func (d *Delta) Flags() Flags            { return d.flags }
func (d *Delta) MovedFrom() model.Handle { return d.movedFrom }
func (d *Delta) MovedTo() model.Handle   { return d.movedTo }
func (d *Delta) MarkerDeltas() []any     { return d.markers }
func (d *Delta) ExternalDeltas() []any   { return d.external }

// IsEmpty reports whether the delta describes no change at all.
func (d *Delta) IsEmpty() bool {
	return d.kind == None && d.flags == 0 && len(d.children) == 0 &&
		len(d.markers) == 0 && len(d.external) == 0
}

// AffectedChildren returns the child deltas in insertion order.
func (d *Delta) AffectedChildren() []*Delta {
	out := make([]*Delta, len(d.children))
	copy(out, d.children)
	return out
}

func (d *Delta) AddedChildren() []*Delta   { return d.childrenOfKind(Added) }
func (d *Delta) RemovedChildren() []*Delta { return d.childrenOfKind(Removed) }
func (d *Delta) ChangedChildren() []*Delta { return d.childrenOfKind(Changed) }

func (d *Delta) childrenOfKind(k Kind) []*Delta {
	var out []*Delta
	for _, c := range d.children {
		if c.kind == k {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the delta for h in this tree, or nil.
func (d *Delta) Find(h model.Handle) *Delta {
	if h == nil {
		return nil
	}
	if model.SameChain(d.element, h) {
		return d
	}
	if !model.IsAncestor(d.element, h) {
		return nil
	}
	for _, c := range d.children {
		if found := c.Find(h); found != nil {
			return found
		}
	}
	return nil
}

func (d *Delta) String() string {
	var b strings.Builder
	d.write(&b, 0)
	return b.String()
}

func (d *Delta) write(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteByte('\t')
	}
	name := "<nil>"
	if d.element != nil {
		name = d.element.Name()
	}
	fmt.Fprintf(b, "%s[%s]: {%s}", name, d.kind.marker(), d.flags)
	if d.movedFrom != nil {
		fmt.Fprintf(b, " from %s", d.movedFrom.Name())
	}
	if d.movedTo != nil {
		fmt.Fprintf(b, " to %s", d.movedTo.Name())
	}
	for _, c := range d.children {
		b.WriteByte('\n')
		c.write(b, depth+1)
	}
}

func (d *Delta) childIndex(h model.Handle) int {
	if d.index == nil && len(d.children) >= indexThreshold {
		d.index = make(map[model.ID]int, len(d.children))
		for i, c := range d.children {
			d.index[c.element.ID()] = i
		}
	}
	if d.index != nil {
		i, ok := d.index[h.ID()]
		if ok && model.SameChain(d.children[i].element, h) {
			return i
		}
		return -1
	}
	for i, c := range d.children {
		if model.SameChain(c.element, h) {
			return i
		}
	}
	return -1
}

func (d *Delta) appendChild(c *Delta) {
	d.children = append(d.children, c)
	if d.index != nil {
		d.index[c.element.ID()] = len(d.children) - 1
	}
}

func (d *Delta) removeChildAt(i int) {
	d.children = append(d.children[:i], d.children[i+1:]...)
	d.index = nil
}

// addAffectedChild merges child into this delta's children, making this
// delta a changed parent.
func (d *Delta) addAffectedChild(child *Delta) {
	if child.kind == None {
		return
	}
	switch d.kind {
	case Added, Removed:
		// the subtree is reported as a whole
		return
	case Changed:
		d.flags |= Children
	default:
		d.kind = Changed
		d.flags |= Children
	}
	if model.IsSource(d.element) {
		d.flags |= FineGrained
	}

	i := d.childIndex(child.element)
	if i < 0 {
		d.appendChild(child)
		return
	}

	existing := d.children[i]
	switch existing.kind {
	case Added:
		switch child.kind {
		case Added, Changed:
			return
		case Removed:
			// never persisted
			d.removeChildAt(i)
			return
		}
	case Removed:
		switch child.kind {
		case Added:
			child.kind = Changed
			child.flags |= Content
			d.children[i] = child
			return
		case Changed, Removed:
			return
		}
	case Changed:
		switch child.kind {
		case Added, Removed:
			d.children[i] = child
			return
		case Changed:
			existing.mergeChanged(child)
			return
		}
	}
	child.flags |= existing.flags
	d.children[i] = child
}

func (d *Delta) mergeChanged(child *Delta) {
	for _, cc := range child.children {
		d.addAffectedChild(cc)
	}

	// a coarse content change adds nothing to a fine-grained one
	flags := child.flags
	if d.flags.Has(FineGrained) && !flags.Has(FineGrained) {
		flags &^= Content
	}
	d.flags |= flags

	if len(child.markers) > 0 {
		if len(d.markers) > 0 {
			panic(errors.Invariant("merge of marker deltas is not supported"))
		}
		d.markers = child.markers
	}
	if len(child.external) > 0 {
		if len(d.external) > 0 {
			panic(errors.Invariant("merge of external deltas is not supported"))
		}
		d.external = child.external
	}
}

// prune drops child deltas that no longer describe a change and reports
// whether d itself is empty afterwards.
func (d *Delta) prune() bool {
	kept := d.children[:0]
	for _, c := range d.children {
		if !c.prune() {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(d.children); i++ {
		d.children[i] = nil
	}
	if len(kept) != len(d.children) {
		d.index = nil
	}
	d.children = kept

	if d.kind == Changed && len(d.children) == 0 && d.flags&^(Children|FineGrained) == 0 &&
		len(d.markers) == 0 && len(d.external) == 0 {
		d.kind = None
		d.flags = 0
	}
	return d.IsEmpty()
}

// trimRemoved drops the children of removed deltas in the tree.
func (d *Delta) trimRemoved() {
	if d.kind == Removed {
		d.children = nil
		d.index = nil
		return
	}
	for _, c := range d.children {
		c.trimRemoved()
	}
}
