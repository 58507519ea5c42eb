// Package workspace ties a directory on disk to its element model, the
// checkpoint store and the working copy registry.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"arbor/internal/cache"
	"arbor/internal/checkpoint"
	"arbor/internal/config"
	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/element"
	"arbor/internal/errors"
	"arbor/internal/fsmodel"
	"arbor/internal/model"
	"arbor/internal/safe"
	"arbor/internal/storage"
	"arbor/internal/watch"
	"arbor/shared/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// DirName is the metadata directory marking a workspace root.
const DirName = ".arbor"

// FindRoot walks up from startDir to the first directory holding DirName.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NotFound(fmt.Sprintf("no %s directory in %s or its parents", DirName, startDir))
}

type Workspace struct {
	root        string
	cfg         *config.Config
	logger      *zap.Logger
	ignore      []string
	db          *badger.DB
	safe        *safe.Safe
	checkpoints *checkpoint.Store
	bus         *element.Bus
	manager     *element.Manager
	model       *fsmodel.Model
	engine      *diff.Engine

	mu sync.Mutex
	// files that were made working copies through this workspace
	open map[string]*fsmodel.File
}

// Init creates the metadata directory under root and opens the workspace.
func Init(root string, cfg *config.Config, logger *zap.Logger) (*Workspace, error) {
	if err := os.MkdirAll(filepath.Join(root, DirName), 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", DirName, err)
	}
	return Open(root, cfg, logger)
}

// Open opens an existing workspace. The database and content safe live under
// cfg.Database.Path, relative to root unless absolute.
func Open(root string, cfg *config.Config, logger *zap.Logger) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(root, DirName)); err != nil {
		return nil, errors.NotFound(fmt.Sprintf("%s is not a workspace", root))
	}

	meta := cfg.Database.Path
	if !filepath.IsAbs(meta) {
		meta = filepath.Join(root, meta)
	}
	db, err := storage.Open(filepath.Join(meta, "db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s, err := safe.New(db, safe.Options{Root: filepath.Join(meta, "content")})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening content safe: %w", err)
	}

	w := &Workspace{
		root:   root,
		cfg:    cfg,
		logger: logger,
		ignore: ignoreList(cfg.Model.Ignore),
		db:     db,
		safe:   s,
		bus:    element.NewBus(),
		engine: diff.NewEngine(3),
		open:   make(map[string]*fsmodel.File),
	}
	w.checkpoints = checkpoint.NewStore(db, s, logger.Named("checkpoint"))
	w.manager = element.NewManager(
		element.WithCache(cache.NewNodeCache("elements", cfg.Cache.SpaceLimit, cfg.Cache.LoadFactor)),
		element.WithLogger(logger.Named("elements")),
		element.WithNotifier(w.bus),
	)
	w.model = fsmodel.New(fsmodel.NewOSFileSystem(root), w.manager,
		fsmodel.WithIgnore(w.ignore),
		fsmodel.WithLogger(logger.Named("model")),
	)

	logger.Info("workspace opened", zap.String("root", root), zap.String("meta", meta))
	return w, nil
}

// ignoreList always contains DirName.
func ignoreList(patterns []string) []string {
	out := append([]string(nil), patterns...)
	for _, p := range out {
		if p == DirName {
			return out
		}
	}
	return append(out, DirName)
}

func (w *Workspace) Root() string                   { return w.root }
func (w *Workspace) Model() *fsmodel.Model          { return w.model }
func (w *Workspace) Manager() *element.Manager      { return w.manager }
func (w *Workspace) Events() *element.Bus           { return w.bus }
func (w *Workspace) Checkpoints() *checkpoint.Store { return w.checkpoints }

// Close releases the working copies opened through the workspace and closes
// the stores.
func (w *Workspace) Close() error {
	w.mu.Lock()
	files := make([]*fsmodel.File, 0, len(w.open))
	for _, f := range w.open {
		files = append(files, f)
	}
	w.open = make(map[string]*fsmodel.File)
	w.mu.Unlock()

	for _, f := range files {
		for w.manager.IsWorkingCopy(f) {
			element.ReleaseWorkingCopy(w.manager, f)
		}
	}
	w.safe.Close()
	return w.db.Close()
}

// Watcher returns a watcher keeping the model in step with the disk. Its
// deltas are fired on Events.
func (w *Workspace) Watcher() *watch.Watcher {
	return watch.New(w.model, w.root, w.bus,
		watch.WithDebounce(w.cfg.Watch.Debounce),
		watch.WithIgnore(w.ignore),
		watch.WithMaxDepth(w.cfg.Model.MaxDepth),
		watch.WithLogger(w.logger.Named("watch")),
	)
}

// Tree returns the model below path p down to depth levels; a negative
// depth means no limit.
func (w *Workspace) Tree(ctx context.Context, p string, depth int) (*types.Node, error) {
	e, err := w.model.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return w.node(ctx, e, depth)
}

func (w *Workspace) node(ctx context.Context, e element.Element, depth int) (*types.Node, error) {
	body, err := element.Open(ctx, w.manager, e)
	if err != nil {
		return nil, err
	}
	n := &types.Node{ID: string(e.ID()), Name: e.Name()}
	switch v := e.(type) {
	case *fsmodel.Dir:
		n.Kind, n.Path = fsmodel.KindDir, v.Path()
	case *fsmodel.File:
		n.Kind, n.Path = fsmodel.KindFile, v.Path()
	case *fsmodel.Section:
		n.Kind, n.Path = fsmodel.KindSection, v.File().Path()
	}
	if sb, ok := body.(*model.SourceBody); ok {
		r := sb.FullRange
		n.Range = &r
		n.Properties = sb.Properties
	}

	children := body.Children()
	if depth == 0 {
		n.Truncated = len(children) > 0
		return n, nil
	}
	for _, c := range children {
		ce, ok := c.(element.Element)
		if !ok {
			continue
		}
		cn, err := w.node(ctx, ce, depth-1)
		if errors.IsNotFound(err) {
			// removed since the parent was built
			continue
		}
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

// Checkpoint records the current disk contents.
func (w *Workspace) Checkpoint(ctx context.Context, message string) (*checkpoint.Checkpoint, error) {
	cp, err := w.checkpoints.Create(ctx, w.model.FS(), message, w.ignore)
	if err != nil {
		return nil, err
	}
	w.logger.Info("checkpoint created", zap.String("id", cp.ID), zap.Int("files", len(cp.Files)))
	return cp, nil
}

// checkpointModel models the tree as of cp with its own element manager.
func (w *Workspace) checkpointModel(cp *checkpoint.Checkpoint) *fsmodel.Model {
	m := element.NewManager(
		element.WithCache(cache.NewNodeCache("checkpoint", w.cfg.Cache.SpaceLimit, w.cfg.Cache.LoadFactor)),
		element.WithLogger(w.logger.Named("checkpoint-elements")),
	)
	return fsmodel.New(w.checkpoints.FS(cp), m, fsmodel.WithIgnore(w.ignore))
}

// Status compares the head checkpoint with the live model, working copies
// included.
func (w *Workspace) Status(ctx context.Context) (*types.Status, *delta.Delta, error) {
	head, err := w.checkpoints.Head()
	if err != nil {
		return nil, nil, err
	}
	saved := w.checkpointModel(head)
	differ, err := diff.NewDifferencer(ctx, saved, saved.Root(),
		diff.WithMaxDepth(w.cfg.Model.MaxDepth),
		diff.WithLogger(w.logger.Named("diff")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("reading checkpoint %s: %w", head.ID, err)
	}
	d, err := differ.BuildDeltaOn(ctx, w.model)
	if err != nil {
		return nil, nil, err
	}
	return &types.Status{
		Checkpoint: head.ID,
		CreatedAt:  head.CreatedAt,
		Changes:    Changes(d),
		Delta:      types.FromDelta(d),
	}, d, nil
}

// Changes lists the files and directories a delta touches. Added and
// removed directories are reported without their contents.
func Changes(d *delta.Delta) []types.Change {
	var out []types.Change
	var walk func(d *delta.Delta)
	walk = func(d *delta.Delta) {
		switch e := d.Element().(type) {
		case *fsmodel.Dir:
			if d.Kind() != delta.Changed {
				out = append(out, types.Change{Path: e.Path(), Kind: d.Kind().String(), Dir: true})
				return
			}
		case *fsmodel.File:
			out = append(out, types.Change{Path: e.Path(), Kind: d.Kind().String(), Flags: d.Flags().Names()})
			return
		default:
			return
		}
		for _, c := range d.AffectedChildren() {
			walk(c)
		}
	}
	if d != nil {
		walk(d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Diff returns the line diff of the file at p between the head checkpoint
// and its current contents. A missing side counts as empty.
func (w *Workspace) Diff(ctx context.Context, p string) (*diff.LineDiff, error) {
	p, err := fsmodel.CleanPath(p)
	if err != nil {
		return nil, err
	}
	var old []byte
	oldFound := false
	if head, err := w.checkpoints.Head(); err == nil {
		old, err = w.checkpoints.FS(head).ReadFile(ctx, p)
		switch {
		case err == nil:
			oldFound = true
		case !errors.IsNotFound(err):
			return nil, err
		}
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	current, found, err := w.currentContents(ctx, p)
	if err != nil {
		return nil, err
	}
	if !found && !oldFound {
		return nil, errors.NotFound(fmt.Sprintf("%s does not exist", p))
	}
	return w.engine.Diff(old, []byte(current)), nil
}

// DiffAll returns the diffs of every changed file in Status order.
func (w *Workspace) DiffAll(ctx context.Context) ([]types.FileDiff, error) {
	st, _, err := w.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.FileDiff
	for _, c := range st.Changes {
		if c.Dir {
			continue
		}
		ld, err := w.Diff(ctx, c.Path)
		if err != nil {
			return nil, err
		}
		if !ld.IsEmpty() {
			out = append(out, types.FromLineDiff(c.Path, ld))
		}
	}
	return out, nil
}

func (w *Workspace) currentContents(ctx context.Context, p string) (string, bool, error) {
	f, err := w.model.File(p)
	if err != nil {
		return "", false, err
	}
	if err := f.ValidateExistence(ctx); err != nil {
		if errors.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	text, _, err := f.Contents(ctx)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// CacheStats describes the element cache.
func (w *Workspace) CacheStats() types.CacheStats {
	out := types.CacheStats{WorkingCopy: w.manager.WorkingCopies()}
	if st, ok := w.manager.CacheStats(); ok {
		out.Name = st.Name
		out.Len = st.Len
		out.SpaceLimit = st.SpaceLimit
		out.CurrentSpace = st.CurrentSpace
		out.Overflow = st.Overflow
		out.Hits = st.Hits
		out.Misses = st.Misses
		out.Evictions = st.Evictions
		if total := st.Hits + st.Misses; total > 0 {
			out.HitRate = float64(st.Hits) / float64(total)
		}
	}
	return out
}
