package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrTooLarge is returned once a source yields more bytes than allowed.
var ErrTooLarge = errors.New("source exceeds size limit")

const (
	chunkSize = 32 * 1024
	// buffers that grew past this are left to the GC
	maxPooled = 8 << 20
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// ReadAll reads r to the end through a pooled buffer and returns a copy the
// caller owns.  The context is checked between chunks; limit <= 0 means no
// limit.
func ReadAll(ctx context.Context, r io.Reader, limit int64) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer) //nolint:forcetypeassert
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooled {
			bufPool.Put(buf)
		}
	}()

	if limit > 0 {
		r = &LimitedReader{R: r, Max: limit}
	}
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return bytes.Clone(buf.Bytes()), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// LimitedReader reads from R and fails with ErrTooLarge as soon as more than
// Max bytes are available.  A source of exactly Max bytes reads cleanly.
// Max <= 0 disables the limit.
type LimitedReader struct {
	R   io.Reader
	Max int64

	n int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max <= 0 {
		return l.R.Read(p)
	}
	if l.n > l.Max {
		return 0, ErrTooLarge
	}
	// Allow one byte past the limit so overflow is seen.
	if room := l.Max - l.n + 1; int64(len(p)) > room {
		p = p[:room]
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	if l.n > l.Max {
		return n - int(l.n-l.Max), ErrTooLarge
	}
	return n, err
}
