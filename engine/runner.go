// Package engine runs the fetch → decode → transform → deliver pipeline for
// a single load and schedules many loads across a priority-ordered worker
// pool.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// SourceConfig holds everything a SourceRunner needs.  It is fixed for the
// lifetime of the runner.
type SourceConfig[Z, T any] struct {
	Key            core.Key
	Width, Height  int
	Fetcher        core.Fetcher[Z]
	Decoder        core.Decoder[Z, T]
	Transformation core.Transformation[T] // nil means no transformation
	Encoder        core.Encoder[T]        // nil disables Write
	DiskCache      core.DiskCache         // nil disables Persist
	Priority       core.Priority
	Callback       core.Callback[T]

	Logger core.Logger
	Hooks  []core.Hook
}

// SourceRunner loads one resource from its source.  Run executes the
// pipeline at most once; Cancel may be called from any goroutine at any time.
//
// Resources are compared by identity to detect whether the transformation
// produced a new instance, so T's Resource implementations must be
// comparable (pointer types in practice).
type SourceRunner[Z, T any] struct {
	cfg    SourceConfig[Z, T]
	logger core.Logger

	mu     sync.Mutex
	state  State
	result core.Resource[T]

	cancelled  atomic.Bool
	cancelOnce sync.Once
}

// NewSourceRunner validates cfg and returns an idle runner.
func NewSourceRunner[Z, T any](cfg SourceConfig[Z, T]) (*SourceRunner[Z, T], error) {
	switch {
	case cfg.Fetcher == nil:
		return nil, apperrors.New(apperrors.CategoryConfig, "runner.new", errors.New("nil Fetcher"))
	case cfg.Decoder == nil:
		return nil, apperrors.New(apperrors.CategoryConfig, "runner.new", errors.New("nil Decoder"))
	case cfg.Callback == nil:
		return nil, apperrors.New(apperrors.CategoryConfig, "runner.new", errors.New("nil Callback"))
	case cfg.Width < 0 || cfg.Height < 0:
		return nil, apperrors.New(apperrors.CategoryConfig, "runner.new", apperrors.ErrInvalidDimensions)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &SourceRunner[Z, T]{cfg: cfg, logger: logger}, nil
}

// Run fetches, decodes and transforms the resource, then reports exactly one
// outcome to the callback.  Nothing happens if the runner was cancelled
// first or has already run.
func (r *SourceRunner[Z, T]) Run(ctx context.Context) {
	if r.cancelled.Load() {
		return
	}
	if !r.advance(StateIdle) {
		return
	}

	data, err := r.fetch(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	if isEmpty(data) {
		r.logger.Debug("runner.fetch.empty", "key", r.keyString())
		r.fail(apperrors.ErrDecodeFailed)
		return
	}
	if !r.advance(StateFetching) {
		closePayload(data)
		return
	}

	decoded := r.decode(ctx, data)
	closePayload(data)
	if decoded == nil {
		r.fail(apperrors.ErrDecodeFailed)
		return
	}
	if !r.advance(StateDecoding) {
		decoded.Recycle()
		return
	}

	result := r.transform(ctx, decoded)
	if result != decoded {
		decoded.Recycle()
	}

	r.mu.Lock()
	if r.state != StateTransforming {
		r.mu.Unlock()
		result.Recycle()
		return
	}
	r.result = result
	r.state = StateDelivered
	r.mu.Unlock()

	r.cfg.Callback.OnResourceReady(result)
}

// Write encodes the transformed result into w.  It does nothing unless Run
// delivered a result and the runner has not been cancelled.  Encoder
// failures are returned to the caller only.
func (r *SourceRunner[Z, T]) Write(w io.Writer) error {
	result := r.delivered()
	if result == nil || r.cfg.Encoder == nil || r.cancelled.Load() {
		return nil
	}
	return r.encode(result, w)
}

// Persist writes the result into the configured disk cache under the
// runner's key.  Like Write it is a no-op without a delivered result.  The
// result is captured once, so a Cancel racing with the cache write cannot
// leave an empty entry behind.
func (r *SourceRunner[Z, T]) Persist() error {
	result := r.delivered()
	if result == nil || r.cfg.DiskCache == nil || r.cfg.Encoder == nil || r.cancelled.Load() {
		return nil
	}

	ctx := context.Background()
	r.before(ctx, core.StageCache)
	start := time.Now()
	err := r.cfg.DiskCache.Put(r.cfg.Key, func(w io.Writer) error {
		return r.encode(result, w)
	})
	r.after(ctx, core.StageCache, start, err)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "runner.persist", err)
	}
	return nil
}

func (r *SourceRunner[Z, T]) delivered() core.Resource[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *SourceRunner[Z, T]) encode(result core.Resource[T], w io.Writer) error {
	ctx := context.Background()
	r.before(ctx, core.StageEncode)
	start := time.Now()
	err := r.cfg.Encoder.Encode(result, w)
	r.after(ctx, core.StageEncode, start, err)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "runner.write", err)
	}
	return nil
}

// Cancel stops the runner for good and asks the fetcher to abort.  The
// fetcher is told exactly once however often Cancel is called.
func (r *SourceRunner[Z, T]) Cancel() {
	r.cancelled.Store(true)
	r.mu.Lock()
	if !r.state.Terminal() {
		r.state = StateCancelled
	}
	r.mu.Unlock()
	r.cancelOnce.Do(r.cfg.Fetcher.Cancel)
}

// Priority returns the ordinal of the configured priority.
func (r *SourceRunner[Z, T]) Priority() int { return r.cfg.Priority.Ordinal() }

// State returns the current lifecycle state.
func (r *SourceRunner[Z, T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Key returns the key the result is cached under.
func (r *SourceRunner[Z, T]) Key() core.Key { return r.cfg.Key }

// ── pipeline stages ──────────────────────────────────────────────────────────

func (r *SourceRunner[Z, T]) fetch(ctx context.Context) (Z, error) {
	r.before(ctx, core.StageFetch)
	start := time.Now()
	data, err := r.cfg.Fetcher.Load(ctx, r.cfg.Priority)
	r.after(ctx, core.StageFetch, start, err)
	if err != nil {
		r.logger.Debug("runner.fetch.error", "key", r.keyString(), "error", err.Error())
	}
	return data, err
}

func (r *SourceRunner[Z, T]) decode(ctx context.Context, data Z) core.Resource[T] {
	r.before(ctx, core.StageDecode)
	start := time.Now()
	res, err := r.cfg.Decoder.Decode(ctx, data, r.cfg.Width, r.cfg.Height)
	if err == nil && res == nil {
		err = apperrors.ErrDecodeFailed
	}
	r.after(ctx, core.StageDecode, start, err)
	if err != nil {
		if res != nil {
			res.Recycle()
		}
		r.logger.Debug("runner.decode.error",
			"key", r.keyString(),
			"decoder", r.cfg.Decoder.ID(),
			"error", err.Error(),
		)
		return nil
	}
	return res
}

func (r *SourceRunner[Z, T]) transform(ctx context.Context, decoded core.Resource[T]) core.Resource[T] {
	if r.cfg.Transformation == nil {
		return decoded
	}
	r.before(ctx, core.StageTransform)
	start := time.Now()
	out := r.cfg.Transformation.Transform(decoded, r.cfg.Width, r.cfg.Height)
	r.after(ctx, core.StageTransform, start, nil)
	if out == nil {
		return decoded
	}
	return out
}

// advance moves from the given running state to its successor.  It fails
// when the runner is no longer in that state, which only happens after
// Cancel.
func (r *SourceRunner[Z, T]) advance(from State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return false
	}
	r.state = next[from]
	return true
}

func (r *SourceRunner[Z, T]) fail(err error) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateFailed
	r.mu.Unlock()
	r.cfg.Callback.OnLoadFailed(err)
}

func (r *SourceRunner[Z, T]) before(ctx context.Context, stage core.Stage) {
	for _, h := range r.cfg.Hooks {
		h.BeforeStage(ctx, stage, r.cfg.Key)
	}
}

func (r *SourceRunner[Z, T]) after(ctx context.Context, stage core.Stage, start time.Time, err error) {
	if len(r.cfg.Hooks) == 0 {
		return
	}
	d := time.Since(start)
	for _, h := range r.cfg.Hooks {
		h.AfterStage(ctx, stage, r.cfg.Key, d, err)
	}
}

func (r *SourceRunner[Z, T]) keyString() string {
	if r.cfg.Key == nil {
		return ""
	}
	return r.cfg.Key.String()
}

// isEmpty reports whether a fetcher returned no data without an error.
func isEmpty(v any) bool {
	switch d := v.(type) {
	case nil:
		return true
	case []byte:
		return len(d) == 0
	case string:
		return d == ""
	}
	return false
}

func closePayload(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
