package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"arbor/internal/buffer"
	"arbor/internal/delta"
	"arbor/internal/element"
	"arbor/internal/errors"
	"arbor/internal/fsmodel"
	"arbor/internal/model"
	"arbor/shared/types"

	"go.uber.org/zap"
)

// OpenWorkingCopy makes the file at p a working copy, or retains it if it
// already is one. The buffer starts with contents, or with the file on disk
// when contents is nil. Supplying contents for an existing working copy
// replaces its buffer text and reconciles; the delta is returned.
func (w *Workspace) OpenWorkingCopy(ctx context.Context, p string, contents *string) (types.WorkingCopy, *delta.Delta, error) {
	f, err := w.model.File(p)
	if err != nil {
		return types.WorkingCopy{}, nil, err
	}
	p = f.Path()

	var text string
	if contents != nil {
		text = *contents
	} else if !w.manager.IsWorkingCopy(f) {
		data, err := w.model.FS().ReadFile(ctx, p)
		if err != nil {
			return types.WorkingCopy{}, nil, err
		}
		text = string(data)
	}

	buf := buffer.New(text)
	info, err := element.BecomeWorkingCopy(ctx, w.manager, f, buf, p, nil)
	if err != nil {
		return types.WorkingCopy{}, nil, err
	}
	w.mu.Lock()
	w.open[p] = f
	w.mu.Unlock()

	var d *delta.Delta
	if info.Buffer != model.Buffer(buf) && contents != nil {
		existing, ok := info.Buffer.(*buffer.Buffer)
		if !ok {
			return types.WorkingCopy{}, nil, errors.Internal(fmt.Sprintf("unexpected buffer type %T", info.Buffer), nil)
		}
		existing.Set(*contents)
		if d, err = element.Reconcile(ctx, w.manager, f, false); err != nil {
			return types.WorkingCopy{}, nil, err
		}
	}
	w.logger.Debug("working copy opened", zap.String("path", p), zap.Int("refs", w.manager.RefCount(f)))
	return w.describe(p, f), d, nil
}

// UpdateWorkingCopy replaces the buffer text of the working copy at p and
// reconciles it.
func (w *Workspace) UpdateWorkingCopy(ctx context.Context, p string, contents string) (*delta.Delta, error) {
	f, buf, err := w.workingCopy(p)
	if err != nil {
		return nil, err
	}
	buf.Set(contents)
	return element.Reconcile(ctx, w.manager, f, false)
}

// SaveWorkingCopy writes the buffer of the working copy at p to disk.
func (w *Workspace) SaveWorkingCopy(p string) error {
	f, buf, err := w.workingCopy(p)
	if err != nil {
		return err
	}
	return buf.Save(filepath.Join(w.root, filepath.FromSlash(f.Path())))
}

// CloseWorkingCopy releases one reference to the working copy at p.
func (w *Workspace) CloseWorkingCopy(p string) error {
	f, _, err := w.workingCopy(p)
	if err != nil {
		return err
	}
	element.ReleaseWorkingCopy(w.manager, f)
	if !w.manager.IsWorkingCopy(f) {
		w.mu.Lock()
		delete(w.open, f.Path())
		w.mu.Unlock()
	}
	return nil
}

// WorkingCopies lists the working copies opened through the workspace.
func (w *Workspace) WorkingCopies() []types.WorkingCopy {
	w.mu.Lock()
	files := make(map[string]*fsmodel.File, len(w.open))
	for p, f := range w.open {
		files[p] = f
	}
	w.mu.Unlock()

	out := make([]types.WorkingCopy, 0, len(files))
	for p, f := range files {
		if w.manager.IsWorkingCopy(f) {
			out = append(out, w.describe(p, f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ElementAt returns the innermost element of the file at p covering offset,
// or nil if offset lies outside the file. For a working copy the result is
// checked against the current buffer.
func (w *Workspace) ElementAt(ctx context.Context, p string, offset int) (*types.Node, error) {
	f, err := w.model.File(p)
	if err != nil {
		return nil, err
	}
	var snap model.Snapshot
	if info := w.manager.PeekWorkingCopy(f); info != nil {
		snap = info.Buffer.Snapshot()
	}
	e, err := element.SourceElementAt(ctx, w.manager, f, offset, snap)
	if err != nil || e == nil {
		return nil, err
	}
	return w.node(ctx, e, 0)
}

func (w *Workspace) workingCopy(p string) (*fsmodel.File, *buffer.Buffer, error) {
	f, err := w.model.File(p)
	if err != nil {
		return nil, nil, err
	}
	info := w.manager.PeekWorkingCopy(f)
	if info == nil {
		return nil, nil, errors.ValidationError(fmt.Sprintf("%s is not a working copy", f.Path()), nil)
	}
	buf, ok := info.Buffer.(*buffer.Buffer)
	if !ok {
		return nil, nil, errors.Internal(fmt.Sprintf("unexpected buffer type %T", info.Buffer), nil)
	}
	return f, buf, nil
}

func (w *Workspace) describe(p string, f *fsmodel.File) types.WorkingCopy {
	wc := types.WorkingCopy{Path: p, RefCount: w.manager.RefCount(f)}
	if info := w.manager.PeekWorkingCopy(f); info != nil {
		if s, ok := info.Buffer.Snapshot().(fmt.Stringer); ok {
			wc.Snapshot = s.String()
		}
		if b, ok := info.Buffer.(*buffer.Buffer); ok {
			wc.Dirty = b.Dirty()
		}
	}
	return wc
}
