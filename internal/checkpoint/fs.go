package checkpoint

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"arbor/internal/errors"
	"arbor/internal/fsmodel"
	"arbor/internal/safe"
)

type checkpointFS struct {
	cp      *Checkpoint
	safe    *safe.Safe
	entries map[string]fsmodel.Entry
	listing map[string][]fsmodel.Entry
}

func newCheckpointFS(cp *Checkpoint, s *safe.Safe) *checkpointFS {
	c := &checkpointFS{
		cp:      cp,
		safe:    s,
		entries: map[string]fsmodel.Entry{"": {Dir: true, Mode: fs.ModeDir | 0755}},
		listing: map[string][]fsmodel.Entry{"": nil},
	}
	add := func(p string, e fsmodel.Entry) {
		c.entries[p] = e
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		c.listing[dir] = append(c.listing[dir], e)
	}
	for _, d := range cp.Dirs {
		add(d, fsmodel.Entry{Name: path.Base(d), Dir: true, Mode: 0755})
		if _, ok := c.listing[d]; !ok {
			c.listing[d] = nil
		}
	}
	for p, f := range cp.Files {
		add(p, fsmodel.Entry{Name: path.Base(p), Mode: f.Mode, Size: f.Size})
	}
	for _, list := range c.listing {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return c
}

func (c *checkpointFS) Stat(ctx context.Context, p string) (fsmodel.Entry, error) {
	if err := ctx.Err(); err != nil {
		return fsmodel.Entry{}, errors.Cancelled(err)
	}
	e, ok := c.entries[p]
	if !ok {
		return fsmodel.Entry{}, c.notFound(p)
	}
	return e, nil
}

func (c *checkpointFS) ReadDir(ctx context.Context, p string) ([]fsmodel.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	list, ok := c.listing[p]
	if !ok {
		return nil, c.notFound(p)
	}
	return append([]fsmodel.Entry(nil), list...), nil
}

func (c *checkpointFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	f, ok := c.cp.Files[p]
	if !ok {
		return nil, c.notFound(p)
	}
	return c.safe.Get(f.Hash)
}

func (c *checkpointFS) notFound(p string) error {
	return errors.NotFound(fmt.Sprintf("%s is not in checkpoint %s", p, c.cp.ID))
}
