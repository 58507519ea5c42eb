package element

import (
	"context"
	"fmt"

	"arbor/internal/diff"
	"arbor/internal/errors"
	"arbor/internal/model"
)

type managerTree struct {
	m *Manager
}

// TreeOf exposes the elements of m to the differencer. Bodies are opened on
// demand; handles that are not elements are only looked up.
func TreeOf(m *Manager) diff.Tree {
	return managerTree{m: m}
}

func (t managerTree) Body(ctx context.Context, h model.Handle) (model.Body, error) {
	if e, ok := h.(Element); ok {
		return Open(ctx, t.m, e)
	}
	if b, ok := t.m.Get(ctx, h); ok {
		return b, nil
	}
	return nil, errors.NotFound(fmt.Sprintf("%s is not open", h.ID()))
}

// SourceElementAt returns the deepest source element under e whose full
// range contains offset. It returns nil if e does not contain offset. A
// non-nil snapshot must match the one e was built from.
func SourceElementAt(ctx context.Context, m *Manager, e Element, offset int, snapshot model.Snapshot) (Element, error) {
	body, err := Open(ctx, m, e)
	if err != nil {
		return nil, err
	}
	src, ok := body.(*model.SourceBody)
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("%s is not a source element", e.ID()), nil)
	}
	if snapshot != nil && src.Snapshot != nil && !snapshot.Equal(src.Snapshot) {
		return nil, errors.StaleSnapshot(fmt.Sprintf("%s was built from a different snapshot", e.ID()))
	}
	if !src.FullRange.Contains(offset) {
		return nil, nil
	}
	return deepestAt(ctx, m, e, src, offset)
}

func deepestAt(ctx context.Context, m *Manager, e Element, body *model.SourceBody, offset int) (Element, error) {
	for _, c := range body.Children() {
		ce, ok := c.(Element)
		if !ok {
			continue
		}
		cb, err := Open(ctx, m, ce)
		if err != nil {
			return nil, err
		}
		csrc, ok := cb.(*model.SourceBody)
		if !ok || !csrc.FullRange.Contains(offset) {
			continue
		}
		return deepestAt(ctx, m, ce, csrc, offset)
	}
	return e, nil
}
