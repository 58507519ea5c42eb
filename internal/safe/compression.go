package safe

import (
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressionOptions configures compression of stored content.
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// zstd level, 1 (fastest) to 4 (best)
	Level int
	// Extensions of already compressed formats
	SkipExtensions []string
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024,
		Level:   2,
		SkipExtensions: []string{
			".zip", ".gz", ".zst", ".xz", ".bz2",
			".png", ".jpg", ".jpeg", ".gif", ".webp",
			".mp3", ".mp4", ".pdf",
		},
	}
}

// codec compresses content with one shared encoder and decoder; both are
// safe for concurrent EncodeAll and DecodeAll calls.
type codec struct {
	opts CompressionOptions
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newCodec(opts CompressionOptions) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	return &codec{opts: opts, enc: enc, dec: dec}, nil
}

func (c *codec) shouldCompress(name string, size int) bool {
	if size < c.opts.MinSize {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	for _, skip := range c.opts.SkipExtensions {
		if ext == skip {
			return false
		}
	}
	return true
}

// compress returns the bytes to store and whether they are compressed.
// Content that does not shrink is stored as is.
func (c *codec) compress(name string, content []byte) ([]byte, bool) {
	if !c.shouldCompress(name, len(content)) {
		return content, false
	}
	out := c.enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	if len(out) >= len(content) {
		return content, false
	}
	return out, true
}

func (c *codec) decompress(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
