// Package fsmodel is a handle/body model of a directory tree: directories,
// text files and the paragraphs ("sections") of each file. Bodies are
// built lazily through an element.Manager.
package fsmodel

import (
	"context"
	"fmt"
	"path"
	"strings"

	"arbor/internal/element"
	"arbor/internal/errors"
	"arbor/internal/model"

	"go.uber.org/zap"
)

const DefaultRootName = "root"

type Model struct {
	fs      FileSystem
	manager *element.Manager
	ignore  []string
	logger  *zap.Logger
	root    *Dir
}

type Option func(*Model)

// WithIgnore skips entries whose name matches one of patterns (path.Match
// syntax).
func WithIgnore(patterns []string) Option {
	return func(md *Model) {
		md.ignore = append(md.ignore, patterns...)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(md *Model) {
		md.logger = logger
	}
}

// New builds a model of fsys whose bodies live in m. Models meant to be
// compared must share the root name.
func New(fsys FileSystem, m *element.Manager, opts ...Option) *Model {
	md := &Model{
		fs:      fsys,
		manager: m,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(md)
	}
	md.root = newDir(md, nil, DefaultRootName)
	return md
}

func (md *Model) Root() *Dir                { return md.root }
func (md *Model) Manager() *element.Manager { return md.manager }
func (md *Model) FS() FileSystem            { return md.fs }

func (md *Model) ignored(name string) bool {
	for _, pattern := range md.ignore {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Resolve returns the directory or file at p, consulting the file system to
// tell them apart.
func (md *Model) Resolve(ctx context.Context, p string) (element.Element, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return md.root, nil
	}

	d := md.root
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if md.ignored(part) {
			return nil, errors.NotFound(fmt.Sprintf("%s is ignored", p))
		}
		e, err := md.fs.Stat(ctx, strings.Join(parts[:i+1], "/"))
		if err != nil {
			if errors.IsNotFound(err) && i == len(parts)-1 {
				// a working copy may exist without a file on disk
				if f := d.File(part); md.manager.IsWorkingCopy(f) {
					return f, nil
				}
			}
			return nil, err
		}
		if i == len(parts)-1 {
			if e.Dir {
				return d.Dir(part), nil
			}
			return d.File(part), nil
		}
		if !e.Dir {
			return nil, errors.NotFound(fmt.Sprintf("%s is not a directory", strings.Join(parts[:i+1], "/")))
		}
		d = d.Dir(part)
	}
	return d, nil
}

// File returns the handle of the file at p without checking that it
// exists.
func (md *Model) File(p string) (*File, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, errors.ValidationError("the root is not a file", nil)
	}
	dir, name := path.Split(p)
	return md.dirAt(strings.TrimSuffix(dir, "/")).File(name), nil
}

func (md *Model) dirAt(p string) *Dir {
	d := md.root
	if p == "" {
		return d
	}
	for _, part := range strings.Split(p, "/") {
		d = d.Dir(part)
	}
	return d
}

// Adopt returns the handle of this model denoting the same node as h, which
// may come from another model of the same tree.
func (md *Model) Adopt(h model.Handle) (element.Element, error) {
	if h == nil {
		return nil, errors.ValidationError("no handle to adopt", nil)
	}
	switch n := h.(type) {
	case *Dir:
		if n.model == md {
			return n, nil
		}
		return md.dirAt(n.path), nil
	case *File:
		if n.model == md {
			return n, nil
		}
		return md.dirAt(n.parent.path).File(n.name), nil
	case *Section:
		if n.file.model == md {
			return n, nil
		}
		return md.dirAt(n.file.parent.path).File(n.file.name).Section(n.name), nil
	}
	return nil, errors.ValidationError(fmt.Sprintf("%s does not belong to a file system model", h.ID()), nil)
}

// Body opens the node denoted by h in this model. It lets a Model serve as
// the tree a differencer compares against.
func (md *Model) Body(ctx context.Context, h model.Handle) (model.Body, error) {
	e, err := md.Adopt(h)
	if err != nil {
		return nil, err
	}
	return element.Open(ctx, md.manager, e)
}

// Invalidate closes the node at p so that it is rebuilt from the file
// system on next access.
func (md *Model) Invalidate(p string) {
	p, err := CleanPath(p)
	if err != nil {
		return
	}
	if p == "" {
		element.Close(md.manager, md.root)
		return
	}
	dir, name := path.Split(p)
	parent := md.dirAt(strings.TrimSuffix(dir, "/"))
	element.Close(md.manager, parent.File(name))
	element.Close(md.manager, parent.Dir(name))
	md.logger.Debug("invalidated", zap.String("path", p))
}

// InvalidateListing closes the node at p and the directory containing it,
// for entries that were created, removed or renamed.
func (md *Model) InvalidateListing(p string) {
	md.Invalidate(p)
	p, err := CleanPath(p)
	if err != nil || p == "" {
		return
	}
	dir, _ := path.Split(p)
	md.Invalidate(strings.TrimSuffix(dir, "/"))
}
