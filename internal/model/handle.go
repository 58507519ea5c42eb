// Package model holds the value types shared by the element cache and the
// delta engine: handles, bodies and snapshots.
package model

import "strings"

// ID is the structural identity of a handle. Two handles are the same node
// iff their IDs are equal.
type ID string

// Handle is an immutable, stateless identity for one position in a model
// tree. Handles exist whether or not the node is currently cached.
type Handle interface {
	ID() ID
	Name() string
	// Parent returns nil for a root.
	Parent() Handle
}

// SourceNode is implemented by handles of nodes backed by text. Deltas on
// source nodes are fine-grained.
type SourceNode interface {
	IsSource() bool
}

// IsSource reports whether h is a source node.
func IsSource(h Handle) bool {
	s, ok := h.(SourceNode)
	return ok && s.IsSource()
}

// MakeID derives a child ID from the parent ID, a node kind and a name.
func MakeID(parent Handle, kind, name string) ID {
	var b strings.Builder
	if parent != nil {
		b.WriteString(string(parent.ID()))
	}
	b.WriteByte('/')
	b.WriteString(kind)
	b.WriteByte(':')
	b.WriteString(escape(name))
	return ID(b.String())
}

func escape(name string) string {
	if !strings.ContainsAny(name, `/\`) {
		return name
	}
	r := strings.NewReplacer(`\`, `\\`, `/`, `\/`)
	return r.Replace(name)
}

// Equal reports whether a and b denote the same node.
func Equal(a, b Handle) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

// SameChain reports whether a and b are equal and so are all their
// ancestors, compared pairwise up to the root.
func SameChain(a, b Handle) bool {
	for a != nil && b != nil {
		if a.ID() != b.ID() || a.Name() != b.Name() {
			return false
		}
		a, b = a.Parent(), b.Parent()
	}
	return a == nil && b == nil
}

// IsAncestor reports whether anc is a strict ancestor of h.
func IsAncestor(anc, h Handle) bool {
	if anc == nil || h == nil {
		return false
	}
	for p := h.Parent(); p != nil; p = p.Parent() {
		if p.ID() == anc.ID() {
			return true
		}
	}
	return false
}

// Path returns the names from the root to h, root first.
func Path(h Handle) []string {
	var names []string
	for ; h != nil; h = h.Parent() {
		names = append(names, h.Name())
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}
