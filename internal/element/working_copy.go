package element

import (
	"context"
	"fmt"
	"sync"

	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/errors"
	"arbor/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ReconcileRequest describes one reconcile of a working copy.
type ReconcileRequest struct {
	Manager  *Manager
	Element  Element
	Contents string
	Snapshot model.Snapshot
	Force    bool
	// Info is the record being reconciled; its client context is
	// Info.ClientContext.
	Info *WorkingCopyInfo
}

// ReconcileStrategy rebuilds a working copy's structure from its buffer.
type ReconcileStrategy interface {
	Reconcile(ctx context.Context, req ReconcileRequest) error
}

type ReconcileFunc func(ctx context.Context, req ReconcileRequest) error

func (f ReconcileFunc) Reconcile(ctx context.Context, req ReconcileRequest) error {
	return f(ctx, req)
}

// DefaultReconcileStrategy force-reopens the element with the buffer
// contents available through ReconcileContents.
var DefaultReconcileStrategy ReconcileStrategy = ReconcileFunc(func(ctx context.Context, req ReconcileRequest) error {
	ctx = WithReconcileContents(ctx, req.Element, req.Contents, req.Snapshot)
	_, err := Open(ctx, req.Manager, req.Element, WithForceReopen())
	return err
})

type reconcileContentsKey struct{}

type reconcileContents struct {
	id       model.ID
	contents string
	snapshot model.Snapshot
}

// WithReconcileContents makes contents the source text of e for structure
// building within ctx.
func WithReconcileContents(ctx context.Context, e model.Handle, contents string, snapshot model.Snapshot) context.Context {
	return context.WithValue(ctx, reconcileContentsKey{}, &reconcileContents{
		id:       e.ID(),
		contents: contents,
		snapshot: snapshot,
	})
}

// ReconcileContents returns the contents being reconciled for e, if any.
func ReconcileContents(ctx context.Context, e model.Handle) (string, model.Snapshot, bool) {
	rc, ok := ctx.Value(reconcileContentsKey{}).(*reconcileContents)
	if !ok || rc.id != e.ID() {
		return "", nil, false
	}
	return rc.contents, rc.snapshot, true
}

// WorkingCopyInfo is the registry record of a working copy. It owns one
// reference to its buffer while registered.
type WorkingCopyInfo struct {
	Buffer        model.Buffer
	ClientContext any
	Strategy      ReconcileStrategy

	// guarded by Manager.mu
	refCount int
	snapshot model.Snapshot
	disposed bool

	ready   chan struct{}
	initErr error

	reconcileMu sync.Mutex
	group       singleflight.Group
}

func NewWorkingCopyInfo(buf model.Buffer, clientContext any, strategy ReconcileStrategy) *WorkingCopyInfo {
	if strategy == nil {
		strategy = DefaultReconcileStrategy
	}
	return &WorkingCopyInfo{
		Buffer:        buf,
		ClientContext: clientContext,
		Strategy:      strategy,
		ready:         make(chan struct{}),
	}
}

func (w *WorkingCopyInfo) complete(err error) {
	w.initErr = err
	close(w.ready)
}

type initKey struct {
	w *WorkingCopyInfo
}

// wait blocks until the record is initialized. A wait from inside the
// record's own initialization returns at once.
func (w *WorkingCopyInfo) wait(ctx context.Context) error {
	if ctx.Value(initKey{w}) != nil {
		return nil
	}
	select {
	case <-w.ready:
		return w.initErr
	case <-ctx.Done():
		return errors.Cancelled(ctx.Err())
	}
}

// RegisterIfAbsent installs info as the working copy record of h with a
// reference count of one, taking a reference to its buffer. If h already
// has a record, its count is incremented and it is returned instead.
func (m *Manager) RegisterIfAbsent(h model.Handle, info *WorkingCopyInfo) (*WorkingCopyInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.workingCopies[h.ID()]; ok {
		existing.refCount++
		return existing, false
	}
	info.refCount = 1
	info.Buffer.AddRef()
	m.workingCopies[h.ID()] = info
	return info, true
}

// LookupAndRetain returns the record of h with its count incremented, or
// nil.
func (m *Manager) LookupAndRetain(h model.Handle) *WorkingCopyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.workingCopies[h.ID()]
	if !ok {
		return nil
	}
	info.refCount++
	return info
}

// PeekWorkingCopy returns the record of h, or nil.
func (m *Manager) PeekWorkingCopy(h model.Handle) *WorkingCopyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workingCopies[h.ID()]
}

func (m *Manager) IsWorkingCopy(h model.Handle) bool {
	return m.PeekWorkingCopy(h) != nil
}

// WorkingCopies returns the number of registered working copies.
func (m *Manager) WorkingCopies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workingCopies)
}

// Release decrements the count of h's record. The last release unregisters
// the record, releases its buffer and closes h.
func (m *Manager) Release(h model.Handle) (*WorkingCopyInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.workingCopies[h.ID()]
	if !ok {
		return nil, false
	}
	info.refCount--
	if info.refCount > 0 {
		return info, false
	}

	delete(m.workingCopies, h.ID())
	info.disposed = true
	info.Buffer.Release()
	m.closeLocked(h, External)
	return info, true
}

// RefCount returns the current reference count of h's record.
func (m *Manager) RefCount(h model.Handle) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.workingCopies[h.ID()]; ok {
		return info.refCount
	}
	return 0
}

// BecomeWorkingCopy puts e in working copy mode backed by buf, or retains
// the existing working copy. The first caller reconciles the element with
// the buffer; concurrent callers wait for that to finish. Each successful
// call must be paired with ReleaseWorkingCopy.
func BecomeWorkingCopy(ctx context.Context, m *Manager, e Element, buf model.Buffer, clientContext any, strategy ReconcileStrategy) (*WorkingCopyInfo, error) {
	info, created := m.RegisterIfAbsent(e, NewWorkingCopyInfo(buf, clientContext, strategy))
	if !created {
		if err := info.wait(ctx); err != nil {
			m.Release(e)
			return nil, err
		}
		return info, nil
	}

	err := initWorkingCopy(context.WithValue(ctx, initKey{info}, true), m, e, info)
	info.complete(err)
	if err != nil {
		m.Release(e)
		return nil, err
	}

	m.logger.Info("working copy created", zap.String("element", string(e.ID())))
	m.fire(delta.PostChange, delta.NewBuilder(e).Changed(e, delta.WorkingCopy).Delta())
	return info, nil
}

func initWorkingCopy(ctx context.Context, m *Manager, e Element, info *WorkingCopyInfo) error {
	snap := info.Buffer.Snapshot()
	err := info.Strategy.Reconcile(ctx, ReconcileRequest{
		Manager:  m,
		Element:  e,
		Contents: info.Buffer.Contents(),
		Snapshot: snap,
		Force:    true,
		Info:     info,
	})
	if err != nil {
		return fmt.Errorf("initializing working copy %s: %w", e.ID(), err)
	}
	m.mu.Lock()
	info.snapshot = snap
	m.mu.Unlock()
	return nil
}

// AcquireExistingWorkingCopy retains the working copy of e if there is one.
// It returns nil if e is not a working copy.
func AcquireExistingWorkingCopy(ctx context.Context, m *Manager, e Element) (*WorkingCopyInfo, error) {
	info := m.LookupAndRetain(e)
	if info == nil {
		return nil, nil
	}
	if err := info.wait(ctx); err != nil {
		m.Release(e)
		return nil, err
	}
	return info, nil
}

// ReleaseWorkingCopy releases one reference to the working copy of e.
func ReleaseWorkingCopy(m *Manager, e Element) {
	_, disposed := m.Release(e)
	if !disposed {
		return
	}
	m.logger.Info("working copy released", zap.String("element", string(e.ID())))
	m.fire(delta.PostChange, delta.NewBuilder(e).Changed(e, delta.WorkingCopy).Delta())
}

// Reconcile brings the structure of working copy e in line with its buffer
// and returns the resulting delta, which is also fired as PostReconcile.
// Without force nothing happens if the buffer has not changed since the
// last reconcile. Reconciles of one working copy never overlap; identical
// concurrent requests share a result.
func Reconcile(ctx context.Context, m *Manager, e Element, force bool) (*delta.Delta, error) {
	info := m.PeekWorkingCopy(e)
	if info == nil {
		return nil, errors.ValidationError(fmt.Sprintf("%s is not a working copy", e.ID()), nil)
	}
	if err := info.wait(ctx); err != nil {
		return nil, err
	}

	key := "changed"
	if force {
		key = "force"
	}
	v, err, _ := info.group.Do(key, func() (any, error) {
		return reconcile(ctx, m, e, info, force)
	})
	if err != nil {
		return nil, err
	}
	d, _ := v.(*delta.Delta)
	return d, nil
}

func reconcile(ctx context.Context, m *Manager, e Element, info *WorkingCopyInfo, force bool) (*delta.Delta, error) {
	info.reconcileMu.Lock()
	defer info.reconcileMu.Unlock()

	snap := info.Buffer.Snapshot()
	m.mu.Lock()
	last, disposed := info.snapshot, info.disposed
	m.mu.Unlock()
	if disposed {
		return nil, errors.ValidationError(fmt.Sprintf("%s is no longer a working copy", e.ID()), nil)
	}
	if !force && last != nil && last.Equal(snap) {
		return delta.New(e), nil
	}

	r := diff.NewRecorder(diff.WithLogger(m.logger))
	if err := r.BeginRecording(ctx, TreeOf(m), e); err != nil {
		return nil, err
	}
	err := info.Strategy.Reconcile(ctx, ReconcileRequest{
		Manager:  m,
		Element:  e,
		Contents: info.Buffer.Contents(),
		Snapshot: snap,
		Force:    force,
		Info:     info,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling %s: %w", e.ID(), err)
	}
	d, err := r.EndRecording(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	info.snapshot = snap
	m.mu.Unlock()

	if !d.IsEmpty() {
		m.fire(delta.PostReconcile, d)
	}
	m.logger.Debug("working copy reconciled",
		zap.String("element", string(e.ID())),
		zap.Bool("changed", !d.IsEmpty()))
	return d, nil
}
