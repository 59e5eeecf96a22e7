package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// ── resource ─────────────────────────────────────────────────────────────────

type fakeResource struct {
	val      string
	recycled atomic.Int32
}

func newRes(v string) *fakeResource { return &fakeResource{val: v} }

func (r *fakeResource) Get() string { return r.val }
func (r *fakeResource) Size() int   { return len(r.val) }
func (r *fakeResource) Recycle()    { r.recycled.Add(1) }
func (r *fakeResource) isRecycled() bool {
	return r.recycled.Load() > 0
}
func (r *fakeResource) recycles() int32 { return r.recycled.Load() }

// ── fetcher ──────────────────────────────────────────────────────────────────

type fakeFetcher struct {
	data []byte
	err  error
	// block, when set, makes Load wait until Cancel or ctx is done.
	block chan struct{}

	loads   atomic.Int32
	cancels atomic.Int32
	once    sync.Once

	mu         sync.Mutex
	priorities []core.Priority
}

func (f *fakeFetcher) Load(ctx context.Context, p core.Priority) ([]byte, error) {
	f.loads.Add(1)
	f.mu.Lock()
	f.priorities = append(f.priorities, p)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
			return nil, apperrors.New(apperrors.CategoryFetch, "fake.load", apperrors.ErrCancelled)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.data, f.err
}

func (f *fakeFetcher) Cancel() {
	f.cancels.Add(1)
	if f.block != nil {
		f.once.Do(func() { close(f.block) })
	}
}

func (f *fakeFetcher) ID() string { return "fake" }

func (f *fakeFetcher) loadedWith() []core.Priority {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Priority(nil), f.priorities...)
}

// ── decoder ──────────────────────────────────────────────────────────────────

type fakeDecoder struct {
	err     error
	nilRes  bool
	decoded *fakeResource
	onCall  func()
}

func (d *fakeDecoder) Decode(_ context.Context, src []byte, w, h int) (core.Resource[string], error) {
	if d.onCall != nil {
		d.onCall()
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.nilRes {
		return nil, nil
	}
	d.decoded = newRes(fmt.Sprintf("%s@%dx%d", src, w, h))
	return d.decoded, nil
}

func (d *fakeDecoder) ID() string { return "fake" }

// cacheDecoder reads back what fakeEncoder wrote.
type cacheDecoder struct{}

func (cacheDecoder) Decode(_ context.Context, src io.Reader, _, _ int) (core.Resource[string], error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, apperrors.ErrDecodeFailed
	}
	return newRes(string(b)), nil
}

func (cacheDecoder) ID() string { return "cache" }

// ── transformation ───────────────────────────────────────────────────────────

// upper returns a new instance unless identity is set.
type upper struct {
	identity bool
	out      *fakeResource
}

func (u *upper) Transform(r core.Resource[string], _, _ int) core.Resource[string] {
	if u.identity {
		return r
	}
	u.out = newRes("T(" + r.Get() + ")")
	return u.out
}

func (u *upper) ID() string { return "upper" + strconv.FormatBool(u.identity) }

// ── encoder ──────────────────────────────────────────────────────────────────

type fakeEncoder struct{ err error }

func (e fakeEncoder) Encode(r core.Resource[string], w io.Writer) error {
	if e.err != nil {
		return e.err
	}
	_, err := io.WriteString(w, r.Get())
	return err
}

func (fakeEncoder) ID() string { return "enc" }

// spyEncoder records every resource it is asked to encode.
type spyEncoder struct {
	mu      sync.Mutex
	encoded []core.Resource[string]
}

func (e *spyEncoder) Encode(r core.Resource[string], w io.Writer) error {
	e.mu.Lock()
	e.encoded = append(e.encoded, r)
	e.mu.Unlock()
	return fakeEncoder{}.Encode(r, w)
}

func (e *spyEncoder) ID() string { return "spy" }

// ── callback ─────────────────────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	ready  []core.Resource[string]
	failed []error
	done   chan struct{}
	// onReady, when set, runs inside OnResourceReady before it records.
	onReady func(core.Resource[string])
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 16)} }

func (c *recorder) OnResourceReady(r core.Resource[string]) {
	if c.onReady != nil {
		c.onReady(r)
	}
	c.mu.Lock()
	c.ready = append(c.ready, r)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *recorder) OnLoadFailed(err error) {
	c.mu.Lock()
	c.failed = append(c.failed, err)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *recorder) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ready) + len(c.failed)
}

// ── disk cache ───────────────────────────────────────────────────────────────

type memCache struct {
	mu   sync.Mutex
	data map[core.Hash][]byte
	err  error
	puts int
}

func newMemCache() *memCache { return &memCache{data: make(map[core.Hash][]byte)} }

func (c *memCache) Get(key core.Key) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	b, ok := c.data[key.Hash()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, apperrors.ErrCacheMiss)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (c *memCache) Put(key core.Key, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return errors.New("empty entry")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.data[key.Hash()] = buf.Bytes()
	return nil
}

func (c *memCache) Has(key core.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key.Hash()]
	return ok
}

// ── hook ─────────────────────────────────────────────────────────────────────

type stageHook struct {
	mu     sync.Mutex
	stages []core.Stage
	errs   map[core.Stage]error
}

func (h *stageHook) BeforeStage(context.Context, core.Stage, core.Key) {}

func (h *stageHook) AfterStage(_ context.Context, s core.Stage, _ core.Key, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stages = append(h.stages, s)
	if err != nil {
		if h.errs == nil {
			h.errs = make(map[core.Stage]error)
		}
		h.errs[s] = err
	}
}
