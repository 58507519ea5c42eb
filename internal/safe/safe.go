// Package safe is a deduplicating, reference counted content store: file
// contents live on disk under their hash and their metadata in badger.
package safe

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arbor/internal/errors"
	"arbor/internal/storage"
	"arbor/shared/utils"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ContentMeta describes one stored blob.
type ContentMeta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	StoredSize int64     `json:"stored_size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

type Options struct {
	Root        string
	CacheSize   int
	Compression CompressionOptions
}

type Safe struct {
	root  string
	meta  *storage.BadgerStore[ContentMeta]
	cache *lru.Cache[string, []byte]
	codec *codec
	// serializes reference count changes with the file writes and removals
	// they imply
	mu sync.Mutex
}

func New(db *badger.DB, opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, errors.ValidationError("safe root directory is required", nil)
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Compression.Level == 0 {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	c, err := newCodec(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Safe{
		root:  opts.Root,
		meta:  storage.NewBadgerStore[ContentMeta](db, "content"),
		cache: cache,
		codec: c,
	}, nil
}

// Store saves content and returns its hash. Storing content that is already
// present adds a reference to it. name only selects the compression policy.
func (s *Safe) Store(name string, content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	hash := utils.HashContent(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.meta.Update(hash, func(m *ContentMeta) (bool, error) {
		m.RefCount++
		return false, nil
	})
	if err == nil {
		return hash, nil
	}
	if !errors.IsNotFound(err) {
		return "", fmt.Errorf("adding reference to %s: %w", utils.ShortHash(hash, 12), err)
	}

	data, compressed := s.codec.compress(name, content)
	p := s.contentPath(hash)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating content directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("writing content file: %w", err)
	}

	now := time.Now()
	meta := ContentMeta{
		Hash:       hash,
		Size:       int64(len(content)),
		StoredSize: int64(len(data)),
		RefCount:   1,
		Compressed: compressed,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if err := s.meta.Put(hash, meta); err != nil {
		os.Remove(p)
		return "", fmt.Errorf("storing metadata: %w", err)
	}
	s.cache.Add(hash, content)
	return hash, nil
}

// Get returns the content stored under hash.
func (s *Safe) Get(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid content hash %q", hash), nil)
	}
	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.meta.Get(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.contentPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("content %s is missing", utils.ShortHash(hash, 12)))
		}
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if meta.Compressed {
		if data, err = s.codec.decompress(data); err != nil {
			return nil, err
		}
	}
	if utils.HashContent(data) != hash {
		return nil, errors.Internal(fmt.Sprintf("content %s is corrupt", utils.ShortHash(hash, 12)), nil)
	}

	s.cache.Add(hash, data)
	meta.AccessedAt = time.Now()
	if err := s.meta.Put(hash, meta); err != nil {
		return nil, fmt.Errorf("updating metadata: %w", err)
	}
	return data, nil
}

// Release drops a reference to hash, deleting the content with the last
// one.
func (s *Safe) Release(hash string) error {
	if !isValidHash(hash) {
		return errors.ValidationError(fmt.Sprintf("invalid content hash %q", hash), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var gone bool
	err := s.meta.Update(hash, func(m *ContentMeta) (bool, error) {
		m.RefCount--
		gone = m.RefCount == 0
		return gone, nil
	})
	if err != nil {
		return err
	}
	if !gone {
		return nil
	}
	s.cache.Remove(hash)
	if err := os.Remove(s.contentPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing content file: %w", err)
	}
	return nil
}

func (s *Safe) Exists(hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, errors.ValidationError(fmt.Sprintf("invalid content hash %q", hash), nil)
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	return s.meta.Exists(hash)
}

func (s *Safe) Meta(hash string) (ContentMeta, error) {
	return s.meta.Get(hash)
}

// Verify reads the content back and checks it against its hash.
func (s *Safe) Verify(hash string) error {
	s.cache.Remove(hash)
	_, err := s.Get(hash)
	return err
}

func (s *Safe) Close() {
	s.codec.close()
}

func (s *Safe) contentPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
