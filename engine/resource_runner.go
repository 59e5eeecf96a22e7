package engine

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// ResourceConfig configures a ResourceRunner.
type ResourceConfig[Z, T any] struct {
	// Source loads the resource when the disk cache cannot.  Its key,
	// dimensions and callback are shared with the cache lookup.
	Source *SourceRunner[Z, T]
	// SourceExecutor receives Source on a cache miss.  When nil, Source runs
	// inline.
	SourceExecutor *Executor

	DiskCache    core.DiskCache
	CacheDecoder core.Decoder[io.Reader, T]
}

// ResourceRunner serves a load from the disk cache when a transformed result
// is already stored there, and hands the SourceRunner to the source executor
// otherwise.  Cache hits are delivered as is: the stored bytes are already
// transformed.
type ResourceRunner[Z, T any] struct {
	cfg       ResourceConfig[Z, T]
	source    *SourceRunner[Z, T]
	cancelled atomic.Bool
}

// NewResourceRunner validates cfg.
func NewResourceRunner[Z, T any](cfg ResourceConfig[Z, T]) (*ResourceRunner[Z, T], error) {
	if cfg.Source == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "resource_runner.new", errors.New("nil Source"))
	}
	return &ResourceRunner[Z, T]{cfg: cfg, source: cfg.Source}, nil
}

// Run tries the disk cache first.
func (r *ResourceRunner[Z, T]) Run(ctx context.Context) {
	if r.cancelled.Load() {
		return
	}
	if res := r.loadFromCache(ctx); res != nil {
		if r.cancelled.Load() {
			res.Recycle()
			return
		}
		r.source.cfg.Callback.OnResourceReady(res)
		return
	}

	if r.cfg.SourceExecutor == nil {
		r.source.Run(ctx)
		return
	}
	if err := r.cfg.SourceExecutor.Submit(r.source); err != nil {
		r.source.fail(err)
	}
}

// Cancel cancels the cache lookup and the source load.
func (r *ResourceRunner[Z, T]) Cancel() {
	r.cancelled.Store(true)
	r.source.Cancel()
}

// Priority returns the source load's priority ordinal.
func (r *ResourceRunner[Z, T]) Priority() int { return r.source.Priority() }

func (r *ResourceRunner[Z, T]) loadFromCache(ctx context.Context) core.Resource[T] {
	if r.cfg.DiskCache == nil || r.cfg.CacheDecoder == nil {
		return nil
	}
	key := r.source.cfg.Key
	logger := r.source.logger

	r.source.before(ctx, core.StageCache)
	start := time.Now()
	rc, err := r.cfg.DiskCache.Get(key)
	miss := errors.Is(err, apperrors.ErrCacheMiss)
	if miss {
		r.source.after(ctx, core.StageCache, start, nil)
	} else {
		r.source.after(ctx, core.StageCache, start, err)
	}
	if err != nil {
		if !miss {
			logger.Warn("resource_runner.cache.error", "key", key.String(), "error", err.Error())
		}
		return nil
	}
	defer rc.Close()

	res, err := r.cfg.CacheDecoder.Decode(ctx, rc, r.source.cfg.Width, r.source.cfg.Height)
	if err != nil || res == nil {
		if res != nil {
			res.Recycle()
		}
		logger.Warn("resource_runner.cache.decode_failed", "key", key.String())
		return nil
	}
	logger.Debug("resource_runner.cache.hit", "key", key.String())
	return res
}
