package element

import (
	"context"
	"fmt"

	"arbor/internal/errors"
	"arbor/internal/model"
)

type openOptions struct {
	force bool
}

type OpenOption func(*openOptions)

// WithForceReopen rebuilds the element even if it is cached and replaces
// the cached body.
func WithForceReopen() OpenOption {
	return func(o *openOptions) {
		o.force = true
	}
}

// Open returns the body of e, building and publishing it if it is not
// cached. Everything built by one outermost Open call is published at once,
// or not at all if building fails or ctx is cancelled.
func Open(ctx context.Context, m *Manager, e Element, opts ...OpenOption) (model.Body, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.force {
		if body, ok := m.Get(ctx, e); ok {
			return body, nil
		}
	}

	if !e.SelfOpening() {
		anc := selfOpeningAncestor(e)
		if anc == nil {
			return nil, errors.Invariant(fmt.Sprintf("%s has no self-opening ancestor", e.ID()))
		}
		if _, err := Open(ctx, m, anc, opts...); err != nil {
			return nil, err
		}
		if body, ok := m.Get(ctx, e); ok {
			return body, nil
		}
		return nil, errors.NotFound(fmt.Sprintf("%s does not exist", e.ID()))
	}

	return openWhenClosed(ctx, m, e, o.force)
}

func openWhenClosed(ctx context.Context, m *Manager, e Element, force bool) (model.Body, error) {
	ctx, st, outermost := m.GetOrCreateStaging(ctx)

	if anc := selfOpeningAncestor(e); anc != nil {
		if _, ok := m.Get(ctx, anc); !ok {
			if _, err := openWhenClosed(ctx, m, anc, false); err != nil {
				return nil, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	if err := e.ValidateExistence(ctx); err != nil {
		return nil, err
	}
	if err := e.BuildStructure(ctx, st); err != nil {
		return nil, fmt.Errorf("building %s: %w", e.ID(), err)
	}

	body, ok := st.Get(e)
	if !ok {
		return nil, errors.Invariant(fmt.Sprintf("%s did not stage its own body", e.ID()))
	}
	if !outermost {
		return body, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	if force {
		m.Put(e, st)
		return body, nil
	}
	if existing, loaded := m.PutIfAbsent(e, st); loaded {
		return existing, nil
	}
	return body, nil
}

// Close closes e with an external hint.
func Close(m *Manager, e model.Handle) bool {
	return m.Close(e, External)
}

// Children opens e and returns its children.
func Children(ctx context.Context, m *Manager, e Element) ([]model.Handle, error) {
	body, err := Open(ctx, m, e)
	if err != nil {
		return nil, err
	}
	return body.Children(), nil
}

// Exists reports whether e can be opened.
func Exists(ctx context.Context, m *Manager, e Element) (bool, error) {
	_, err := Open(ctx, m, e)
	if err == nil {
		return true, nil
	}
	if errors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
