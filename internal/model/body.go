package model

import (
	"fmt"

	"arbor/internal/errors"
)

// Body is the cached payload of one handle.
type Body interface {
	// Children returns a copy of the child handles in order.
	Children() []Handle
	HasChild(h Handle) bool
	AddChild(h Handle) error
	RemoveChild(h Handle) bool
	SetChildren(children []Handle) error
	// ContentChanged reports whether this body differs in content from old,
	// a body previously cached for the same handle. Children are not part
	// of the content.
	ContentChanged(old Body) bool
}

// BaseBody is a body with only a children list.
type BaseBody struct {
	children []Handle
	index    map[ID]struct{}
}

func NewBaseBody() *BaseBody {
	return &BaseBody{}
}

func (b *BaseBody) Children() []Handle {
	out := make([]Handle, len(b.children))
	copy(out, b.children)
	return out
}

func (b *BaseBody) HasChild(h Handle) bool {
	_, ok := b.index[h.ID()]
	return ok
}

func (b *BaseBody) AddChild(h Handle) error {
	if b.index == nil {
		b.index = make(map[ID]struct{})
	}
	if _, ok := b.index[h.ID()]; ok {
		return errors.Invariant(fmt.Sprintf("duplicate child %s", h.ID()))
	}
	b.index[h.ID()] = struct{}{}
	b.children = append(b.children, h)
	return nil
}

func (b *BaseBody) RemoveChild(h Handle) bool {
	if _, ok := b.index[h.ID()]; !ok {
		return false
	}
	delete(b.index, h.ID())
	for i, c := range b.children {
		if c.ID() == h.ID() {
			b.children = append(b.children[:i], b.children[i+1:]...)
			break
		}
	}
	return true
}

// SetChildren replaces the children list. The body is left untouched when
// children contains duplicates.
func (b *BaseBody) SetChildren(children []Handle) error {
	index := make(map[ID]struct{}, len(children))
	for _, c := range children {
		if _, ok := index[c.ID()]; ok {
			return errors.Invariant(fmt.Sprintf("duplicate child %s", c.ID()))
		}
		index[c.ID()] = struct{}{}
	}
	b.children = append([]Handle(nil), children...)
	b.index = index
	return nil
}

func (b *BaseBody) ContentChanged(old Body) bool {
	return false
}

// TextRange is a half-open byte range [Offset, Offset+Length).
type TextRange struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

func (r TextRange) End() int { return r.Offset + r.Length }

// Contains reports whether offset lies in the range. The end offset is
// included so that a caret placed right after an element still hits it.
func (r TextRange) Contains(offset int) bool {
	return offset >= r.Offset && offset <= r.End()
}

// SourceBody is the body of a node backed by text.
type SourceBody struct {
	BaseBody
	FullRange        TextRange
	IdentifyingRange TextRange
	Snapshot         Snapshot
	Properties       Properties
}

func NewSourceBody() *SourceBody {
	return &SourceBody{Properties: Properties{}}
}

// ContentChanged compares every property of the two bodies.
func (b *SourceBody) ContentChanged(old Body) bool {
	o, ok := old.(*SourceBody)
	if !ok {
		return true
	}
	return b.Properties.Differs(o.Properties)
}

// Set records a named property.
func (b *SourceBody) Set(name string, value any) {
	if b.Properties == nil {
		b.Properties = Properties{}
	}
	b.Properties[name] = value
}
