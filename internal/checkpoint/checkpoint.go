// Package checkpoint records snapshots of a directory tree: a manifest in
// badger plus the file contents in the safe. A checkpoint can be read back
// as a file system, so the tree as checkpointed can be modelled and
// compared with the live tree.
package checkpoint

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"arbor/internal/errors"
	"arbor/internal/fsmodel"
	"arbor/internal/safe"
	"arbor/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const headKey = "head"

type FileEntry struct {
	Hash string      `json:"hash"`
	Mode fs.FileMode `json:"mode"`
	Size int64       `json:"size"`
}

type Checkpoint struct {
	ID        string               `json:"id"`
	Message   string               `json:"message"`
	CreatedAt time.Time            `json:"created_at"`
	Dirs      []string             `json:"dirs"`
	Files     map[string]FileEntry `json:"files"`
}

type Store struct {
	checkpoints *storage.BadgerStore[Checkpoint]
	refs        *storage.BadgerStore[string]
	safe        *safe.Safe
	logger      *zap.Logger
}

func NewStore(db *badger.DB, s *safe.Safe, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		checkpoints: storage.NewBadgerStore[Checkpoint](db, "checkpoint"),
		refs:        storage.NewBadgerStore[string](db, "ref"),
		safe:        s,
		logger:      logger,
	}
}

// Create walks fsys, stores every file not matching ignore and makes the
// new checkpoint the head.
func (s *Store) Create(ctx context.Context, fsys fsmodel.FileSystem, message string, ignore []string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]FileEntry),
	}

	var stored []string
	release := func() {
		for _, h := range stored {
			if err := s.safe.Release(h); err != nil {
				s.logger.Warn("releasing content", zap.String("hash", h), zap.Error(err))
			}
		}
	}

	err := walk(ctx, fsys, "", ignore, func(p string, e fsmodel.Entry) error {
		if e.Dir {
			cp.Dirs = append(cp.Dirs, p)
			return nil
		}
		data, err := fsys.ReadFile(ctx, p)
		if err != nil {
			return err
		}
		hash, err := s.safe.Store(p, data)
		if err != nil {
			return fmt.Errorf("storing %s: %w", p, err)
		}
		stored = append(stored, hash)
		cp.Files[p] = FileEntry{Hash: hash, Mode: e.Mode, Size: int64(len(data))}
		return nil
	})
	if err != nil {
		release()
		return nil, err
	}

	if err := s.checkpoints.Create(cp.ID, *cp); err != nil {
		release()
		return nil, fmt.Errorf("saving checkpoint: %w", err)
	}
	if err := s.refs.Put(headKey, cp.ID); err != nil {
		return nil, fmt.Errorf("updating head: %w", err)
	}

	s.logger.Info("checkpoint created",
		zap.String("id", cp.ID),
		zap.Int("files", len(cp.Files)),
		zap.Int("dirs", len(cp.Dirs)))
	return cp, nil
}

func walk(ctx context.Context, fsys fsmodel.FileSystem, dir string, ignore []string, fn func(p string, e fsmodel.Entry) error) error {
	entries, err := fsys.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if ignored(e.Name, ignore) {
			continue
		}
		p := path.Join(dir, e.Name)
		if err := fn(p, e); err != nil {
			return err
		}
		if e.Dir {
			if err := walk(ctx, fsys, p, ignore, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func ignored(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (s *Store) Get(id string) (*Checkpoint, error) {
	cp, err := s.checkpoints.Get(id)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Head returns the most recent checkpoint.
func (s *Store) Head() (*Checkpoint, error) {
	id, err := s.refs.Get(headKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFound("no checkpoint yet")
		}
		return nil, err
	}
	return s.Get(id)
}

// List returns all checkpoints, oldest first.
func (s *Store) List() ([]*Checkpoint, error) {
	all, err := s.checkpoints.List()
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, len(all))
	for i := range all {
		out[i] = &all[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a checkpoint and releases its contents. The head moves to
// the newest remaining checkpoint.
func (s *Store) Delete(id string) error {
	cp, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.checkpoints.Delete(id); err != nil {
		return err
	}
	for p, f := range cp.Files {
		if err := s.safe.Release(f.Hash); err != nil {
			s.logger.Warn("releasing content", zap.String("path", p), zap.Error(err))
		}
	}

	head, err := s.refs.Get(headKey)
	if err != nil || head != id {
		return nil
	}
	rest, err := s.List()
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return s.refs.Delete(headKey)
	}
	return s.refs.Put(headKey, rest[len(rest)-1].ID)
}

// FS exposes cp as a read-only file system.
func (s *Store) FS(cp *Checkpoint) fsmodel.FileSystem {
	return newCheckpointFS(cp, s.safe)
}
