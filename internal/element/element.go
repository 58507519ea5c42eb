// Package element implements the handle/body cache protocol: elements are
// opened lazily into a staging area and published to the manager's cache as
// one unit, and closed again on request or under cache pressure.
package element

import (
	"context"

	"arbor/internal/model"
)

// Element is a handle that knows how to build its own body.
type Element interface {
	model.Handle
	// SelfOpening reports whether the element builds its own body. Other
	// elements are built by their nearest self-opening ancestor.
	SelfOpening() bool
	// ValidateExistence returns an errors.NotFound error if the element
	// does not exist.
	ValidateExistence(ctx context.Context) error
	// BuildStructure stages the element's body and the bodies of its
	// descendants that are not self-opening.
	BuildStructure(ctx context.Context, st *Staging) error
}

// Closer is implemented by elements that may refuse to be closed.
type Closer interface {
	CanClose(hint CloseHint) bool
}

// RemovalHook is implemented by elements that release resources when their
// body leaves the cache. It is called with the manager lock held.
type RemovalHook interface {
	ElementRemoved(body model.Body)
}

// CloseHint says why an element is being closed.
type CloseHint int

const (
	// External is an explicit close request.
	External CloseHint = iota
	// ParentClosing closes children of a closing element. It always
	// proceeds for working copies.
	ParentClosing
	// CacheOverflow is an eviction by the cache.
	CacheOverflow
)

func (h CloseHint) String() string {
	switch h {
	case ParentClosing:
		return "parent_closing"
	case CacheOverflow:
		return "cache_overflow"
	default:
		return "external"
	}
}

// selfOpeningAncestor returns the nearest ancestor of h that opens itself.
func selfOpeningAncestor(h model.Handle) Element {
	for p := h.Parent(); p != nil; p = p.Parent() {
		if e, ok := p.(Element); ok && e.SelfOpening() {
			return e
		}
	}
	return nil
}
