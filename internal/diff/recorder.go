// Package diff computes differences between versions of a model tree: the
// structural Recorder/Differencer producing deltas, and a line engine for
// the contents of changed files.
package diff

import (
	"context"
	"math"

	"arbor/internal/delta"
	"arbor/internal/errors"
	"arbor/internal/model"

	"go.uber.org/zap"
)

// Tree gives access to the current bodies of a model. Body returns an error
// satisfying errors.IsNotFound when the element does not exist.
type Tree interface {
	Body(ctx context.Context, h model.Handle) (model.Body, error)
}

type Option func(*Recorder)

// WithMaxDepth limits how deep below the root elements are compared. Elements
// at the limit are reported as changed without being compared. Zero or less
// means unlimited.
func WithMaxDepth(depth int) Option {
	return func(r *Recorder) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// position is an element's place among its siblings.
type position struct {
	prev model.Handle
	next model.Handle
}

type record struct {
	handle model.Handle
	body   model.Body
}

// Recorder snapshots a subtree and later reports how it changed. It can be
// reused for several recording sessions but is not safe for concurrent use.
type Recorder struct {
	maxDepth int
	logger   *zap.Logger

	tree      Tree
	root      model.Handle
	recording bool

	// snapshot phase
	old    map[model.ID]*record
	order  []model.ID
	oldPos map[model.ID]*position

	// diff phase
	newBodies map[model.ID]model.Body
	newPos    map[model.ID]*position
	added     map[model.ID]struct{}
	removed   map[model.ID]struct{}
	builder   *delta.Builder
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		maxDepth: math.MaxInt,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) IsRecording() bool {
	return r.recording
}

// BeginRecording snapshots root and its descendants from tree.
func (r *Recorder) BeginRecording(ctx context.Context, tree Tree, root model.Handle) error {
	r.tree = tree
	r.root = root
	r.old = make(map[model.ID]*record)
	r.order = nil
	r.oldPos = map[model.ID]*position{root.ID(): {}}

	if err := r.initialize(ctx, root, 0); err != nil {
		r.reset()
		return err
	}
	r.recording = true
	return nil
}

// EndRecording compares the tree recorded from against the snapshot.
func (r *Recorder) EndRecording(ctx context.Context) (*delta.Delta, error) {
	return r.EndRecordingOn(ctx, r.tree)
}

// EndRecordingOn compares tree against the snapshot. Elements are matched by
// identity, so tree may be a different model of the same content, such as a
// stored checkpoint.
func (r *Recorder) EndRecordingOn(ctx context.Context, tree Tree) (*delta.Delta, error) {
	if !r.recording {
		return nil, errors.Invariant("recorder is not recording")
	}
	defer r.reset()

	r.newBodies = make(map[model.ID]model.Body)
	r.newPos = map[model.ID]*position{r.root.ID(): {}}
	r.added = make(map[model.ID]struct{})
	r.removed = make(map[model.ID]struct{})
	r.builder = delta.NewBuilder(r.root)

	if err := r.recordNewPositions(ctx, tree, r.root, 0); err != nil {
		return nil, err
	}
	if err := r.findAdditions(ctx, r.root, 0); err != nil {
		return nil, err
	}
	r.findDeletions()
	r.findChangesInPositioning(r.root, 0)
	r.builder.TrimRemoved()

	d := r.builder.Delta()
	r.logger.Debug("delta built",
		zap.String("root", string(r.root.ID())),
		zap.Int("added", len(r.added)),
		zap.Int("removed", len(r.removed)),
		zap.Bool("empty", d.IsEmpty()))
	return d, nil
}

func (r *Recorder) reset() {
	r.recording = false
	r.old = nil
	r.order = nil
	r.oldPos = nil
	r.newBodies = nil
	r.newPos = nil
	r.added = nil
	r.removed = nil
	r.builder = nil
}

// initialize records bodies down to and including the max depth; only
// descent stops there, so removals at the limit are still reported.
func (r *Recorder) initialize(ctx context.Context, h model.Handle, depth int) error {
	if err := ctx.Err(); err != nil {
		return errors.Cancelled(err)
	}
	body, err := r.tree.Body(ctx, h)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}

	r.old[h.ID()] = &record{handle: h, body: body}
	r.order = append(r.order, h.ID())
	if depth >= r.maxDepth {
		return nil
	}
	children := body.Children()
	insertPositions(r.oldPos, children)
	for _, c := range children {
		if err := r.initialize(ctx, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) recordNewPositions(ctx context.Context, tree Tree, h model.Handle, depth int) error {
	if depth >= r.maxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled(err)
	}
	body, err := tree.Body(ctx, h)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	r.newBodies[h.ID()] = body

	children := body.Children()
	insertPositions(r.newPos, children)
	for _, c := range children {
		if err := r.recordNewPositions(ctx, tree, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) findAdditions(ctx context.Context, h model.Handle, depth int) error {
	if err := ctx.Err(); err != nil {
		return errors.Cancelled(err)
	}
	id := h.ID()
	if depth >= r.maxDepth {
		delete(r.old, id)
		r.builder.Changed(h, delta.Content)
		return nil
	}

	newBody, exists := r.newBodies[id]
	if !exists {
		// listed by its parent but gone; an old record, if any, is reported
		// as a removal
		splice(r.newPos, id)
		return nil
	}

	old, had := r.old[id]
	if !had {
		r.builder.Added(h, 0)
		r.added[id] = struct{}{}
		splice(r.newPos, id)
		return nil
	}
	delete(r.old, id)

	if newBody.ContentChanged(old.body) {
		r.builder.Changed(h, delta.Content)
	}
	for _, c := range newBody.Children() {
		if err := r.findAdditions(ctx, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) findDeletions() {
	for _, id := range r.order {
		rec, ok := r.old[id]
		if !ok {
			continue
		}
		r.builder.Removed(rec.handle, 0)
		r.removed[id] = struct{}{}
		splice(r.oldPos, id)
	}
}

func (r *Recorder) findChangesInPositioning(h model.Handle, depth int) {
	if depth >= r.maxDepth {
		return
	}
	id := h.ID()
	if _, ok := r.added[id]; ok {
		return
	}
	if _, ok := r.removed[id]; ok {
		return
	}
	if !r.positionedCorrectly(id) {
		r.builder.Changed(h, delta.Reorder)
	}
	body, ok := r.newBodies[id]
	if !ok {
		return
	}
	for _, c := range body.Children() {
		r.findChangesInPositioning(c, depth+1)
	}
}

// positionedCorrectly compares the previous sibling before and after, with
// added and removed siblings spliced out of both lists.
func (r *Recorder) positionedCorrectly(id model.ID) bool {
	oldPos, ok := r.oldPos[id]
	if !ok {
		return false
	}
	newPos, ok := r.newPos[id]
	if !ok {
		return false
	}
	if oldPos.prev == nil {
		return newPos.prev == nil
	}
	return model.SameChain(oldPos.prev, newPos.prev)
}

func insertPositions(positions map[model.ID]*position, children []model.Handle) {
	for i, c := range children {
		p := &position{}
		if i > 0 {
			p.prev = children[i-1]
		}
		if i < len(children)-1 {
			p.next = children[i+1]
		}
		positions[c.ID()] = p
	}
}

// splice unlinks id from its sibling list so that its neighbours see each
// other as adjacent.
func splice(positions map[model.ID]*position, id model.ID) {
	cur, ok := positions[id]
	if !ok {
		return
	}
	if cur.prev != nil {
		if prev, ok := positions[cur.prev.ID()]; ok {
			prev.next = cur.next
		}
	}
	if cur.next != nil {
		if next, ok := positions[cur.next.ID()]; ok {
			next.prev = cur.prev
		}
	}
}

// Differencer is a one-shot Recorder: the snapshot is taken on construction
// and BuildDelta compares against it once.
type Differencer struct {
	recorder *Recorder
}

func NewDifferencer(ctx context.Context, tree Tree, root model.Handle, opts ...Option) (*Differencer, error) {
	r := NewRecorder(opts...)
	if err := r.BeginRecording(ctx, tree, root); err != nil {
		return nil, err
	}
	return &Differencer{recorder: r}, nil
}

func (d *Differencer) BuildDelta(ctx context.Context) (*delta.Delta, error) {
	return d.recorder.EndRecording(ctx)
}

// BuildDeltaOn compares tree against the snapshot.
func (d *Differencer) BuildDeltaOn(ctx context.Context, tree Tree) (*delta.Delta, error) {
	return d.recorder.EndRecordingOn(ctx, tree)
}
