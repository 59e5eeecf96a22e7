// Package fetcher provides core.Fetcher implementations producing raw
// byte streams.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// File opens a local file.
type File struct {
	path string

	mu        sync.Mutex
	file      *os.File
	cancelled bool
}

// NewFile returns a fetcher for path.
func NewFile(path string) *File { return &File{path: path} }

func (f *File) ID() string { return "file:" + f.path }

func (f *File) Load(ctx context.Context, _ core.Priority) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "file.load", err)
	}
	if f.isCancelled() {
		return nil, apperrors.New(apperrors.CategoryFetch, "file.load", apperrors.ErrCancelled)
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "file.load.open", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		_ = fh.Close()
		return nil, apperrors.New(apperrors.CategoryFetch, "file.load", apperrors.ErrCancelled)
	}
	f.file = fh
	return fh, nil
}

// Cancel closes a file that is still being read.  Reads then fail, which
// aborts a decode in progress.
func (f *File) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	if f.file != nil {
		_ = f.file.Close()
		f.file = nil
	}
}

func (f *File) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// ── Bytes ─────────────────────────────────────────────────────────────────────

// Bytes serves an in-memory payload.
type Bytes struct {
	id   string
	data []byte
}

// NewBytes returns a fetcher over data.  id names the payload in cache keys.
func NewBytes(id string, data []byte) *Bytes { return &Bytes{id: id, data: data} }

func (b *Bytes) ID() string { return "bytes:" + b.id }

func (b *Bytes) Load(ctx context.Context, _ core.Priority) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "bytes.load", err)
	}
	if len(b.data) == 0 {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Cancel is a no-op: Load never blocks.
func (b *Bytes) Cancel() {}

var (
	_ core.Fetcher[io.ReadCloser] = (*File)(nil)
	_ core.Fetcher[io.ReadCloser] = (*Bytes)(nil)
)
