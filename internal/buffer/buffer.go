// Package buffer provides the reference-counted text buffers working copies
// edit.
package buffer

import (
	"fmt"
	"os"
	"sync"

	"arbor/internal/model"
)

// Buffer is an in-memory text buffer. It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	text     string
	snapshot model.ContentSnapshot
	refs     int
	dirty    bool
	onFree   func()
}

// New returns a buffer holding text with no references.
func New(text string) *Buffer {
	return &Buffer{text: text, snapshot: model.SnapshotOf([]byte(text))}
}

// Load reads the file at path into a new buffer.
func Load(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading buffer from %s: %w", path, err)
	}
	return New(string(data)), nil
}

func (b *Buffer) Contents() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

func (b *Buffer) Snapshot() model.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// Set replaces the contents and reports whether they changed.
func (b *Buffer) Set(text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if text == b.text {
		return false
	}
	b.text = text
	b.snapshot = model.SnapshotOf([]byte(text))
	b.dirty = true
	return true
}

// Dirty reports whether the buffer changed since it was loaded or saved.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Save writes the contents to path.
func (b *Buffer) Save(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.WriteFile(path, []byte(b.text), 0644); err != nil {
		return fmt.Errorf("saving buffer to %s: %w", path, err)
	}
	b.dirty = false
	return nil
}

func (b *Buffer) AddRef() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs++
}

// Release drops a reference. The callback set with OnFree runs when the
// last reference goes away.
func (b *Buffer) Release() {
	b.mu.Lock()
	if b.refs == 0 {
		b.mu.Unlock()
		panic("buffer: release without reference")
	}
	b.refs--
	free := b.refs == 0 && b.onFree != nil
	fn := b.onFree
	b.mu.Unlock()

	if free {
		fn()
	}
}

func (b *Buffer) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

func (b *Buffer) OnFree(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFree = fn
}

var _ model.Buffer = (*Buffer)(nil)
