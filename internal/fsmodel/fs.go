package fsmodel

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"arbor/internal/errors"
)

// Entry describes one directory entry.
type Entry struct {
	Name string      `json:"name"`
	Dir  bool        `json:"dir"`
	Mode fs.FileMode `json:"mode"`
	Size int64       `json:"size"`
}

// FileSystem is the storage a Model reads from. Paths are slash separated
// and relative to the root; the root itself is "". Missing paths yield
// errors satisfying errors.IsNotFound.
type FileSystem interface {
	Stat(ctx context.Context, p string) (Entry, error)
	// ReadDir returns the entries of a directory sorted by name.
	ReadDir(ctx context.Context, p string) ([]Entry, error)
	ReadFile(ctx context.Context, p string) ([]byte, error)
}

// OSFileSystem reads a directory tree on disk.
type OSFileSystem struct {
	Root string
}

func NewOSFileSystem(root string) *OSFileSystem {
	return &OSFileSystem{Root: root}
}

func (o *OSFileSystem) abs(p string) string {
	return filepath.Join(o.Root, filepath.FromSlash(p))
}

func (o *OSFileSystem) Stat(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, errors.Cancelled(err)
	}
	info, err := os.Stat(o.abs(p))
	if err != nil {
		return Entry{}, osError(p, err)
	}
	return Entry{Name: path.Base(p), Dir: info.IsDir(), Mode: info.Mode().Perm(), Size: info.Size()}, nil
}

func (o *OSFileSystem) ReadDir(ctx context.Context, p string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	dirEntries, err := os.ReadDir(o.abs(p))
	if err != nil {
		return nil, osError(p, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// removed between listing and stat
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path.Join(p, de.Name()), err)
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{
			Name: de.Name(),
			Dir:  info.IsDir(),
			Mode: info.Mode().Perm(),
			Size: info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (o *OSFileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	data, err := os.ReadFile(o.abs(p))
	if err != nil {
		return nil, osError(p, err)
	}
	return data, nil
}

func osError(p string, err error) error {
	if os.IsNotExist(err) {
		return errors.NotFound(fmt.Sprintf("%s does not exist", displayPath(p)))
	}
	return fmt.Errorf("accessing %s: %w", displayPath(p), err)
}

// CleanPath normalizes p to the slash separated form used by models. Paths
// leaving the root are rejected.
func CleanPath(p string) (string, error) {
	p = strings.TrimLeft(filepath.ToSlash(strings.TrimSpace(p)), "/")
	p = path.Clean(p)
	if p == "." {
		return "", nil
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", errors.ValidationError(fmt.Sprintf("path %q leaves the root", p), nil)
	}
	return p, nil
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
