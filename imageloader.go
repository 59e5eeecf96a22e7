// Package imageloader loads images from URLs, files or memory, decodes and
// transforms them off the caller's goroutine, and keeps the transformed
// results in a disk cache so repeated loads skip the network and the decoder.
package imageloader

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tunabay/go-infounit"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/adapters/encoder"
	"github.com/Skryldev/image-loader/adapters/fetcher"
	"github.com/Skryldev/image-loader/bitmap"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/ctxlog"
	"github.com/Skryldev/image-loader/diskcache"
	"github.com/Skryldev/image-loader/engine"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/hooks"
	"github.com/Skryldev/image-loader/transform"
)

// Re-export Priority constants for convenience.
const (
	Immediate = core.PriorityImmediate
	High      = core.PriorityHigh
	Normal    = core.PriorityNormal
	Low       = core.PriorityLow
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Request describes one load.
type Request struct {
	// Model is an http(s) URL or a file path.  With Data set it only names
	// the payload.
	Model string
	Data  []byte

	// Width and Height are the target size handed to the decoder and the
	// transformations.  Zero keeps the source size.
	Width, Height int

	Priority        core.Priority
	Transformations []transform.Transformation
	Callback        core.Callback[image.Image]

	// SkipDiskCache neither reads nor writes the disk cache.
	SkipDiskCache bool
}

// LoadStatus tracks a submitted load.
type LoadStatus struct {
	Key core.ResultKey

	runner engine.Runnable
	stop   func() bool
}

// Cancel aborts the load.  No callback fires once it returns, unless the
// result had already been delivered.
func (s *LoadStatus) Cancel() {
	s.stop()
	s.runner.Cancel()
}

// Option customises a Loader.
type Option func(*Loader)

// WithLogger replaces the slog logger built from the config.
func WithLogger(l core.Logger) Option { return func(ld *Loader) { ld.logger = l } }

// WithHooks registers observers for every load stage.
func WithHooks(h ...core.Hook) Option { return func(ld *Loader) { ld.hooks = append(ld.hooks, h...) } }

// WithMetrics attaches a metrics collector.  Stage timings are recorded
// through a MetricsHook; delivered bytes directly.
func WithMetrics(m core.MetricsCollector) Option {
	return func(ld *Loader) {
		ld.metrics = m
		ld.hooks = append(ld.hooks, hooks.NewMetricsHook(m))
	}
}

// WithDiskCache replaces the LRU disk cache built from the config.
func WithDiskCache(c core.DiskCache) Option { return func(ld *Loader) { ld.cache = c } }

// Loader is the primary entry point.  It is safe for concurrent use.
type Loader struct {
	cfg     config.Config
	logger  core.Logger
	hooks   []core.Hook
	metrics core.MetricsCollector

	pool         *bitmap.Pool
	cache        core.DiskCache
	lru          *diskcache.LRU
	decoder      *decoder.Stream[io.ReadCloser]
	cacheDecoder *decoder.Stream[io.Reader]
	encoder      core.Encoder[image.Image]
	http         fetcher.HTTPConfig

	cacheExec  *engine.Executor
	sourceExec *engine.Executor

	gcCancel context.CancelFunc
	gcDone   sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a fully wired, running Loader.  Call Stop when done.
func New(cfg config.Config, opts ...Option) (*Loader, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "loader.new", err)
	}
	downsampler, err := decoder.ParseDownsampler(cfg.Downsample)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "loader.new", err)
	}
	format, err := decoder.ParseDecodeFormat(cfg.DecodeFormat)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "loader.new", err)
	}

	l := &Loader{cfg: cfg, stopped: make(chan struct{})}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = hooks.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: hooks.ParseLevel(cfg.LogLevel)})))
	}

	if cfg.BitmapPoolMB > 0 {
		l.pool = bitmap.NewPool(infounit.ByteCount(cfg.BitmapPoolMB) << 20)
	}
	l.decoder = decoder.NewStream[io.ReadCloser](downsampler, format, l.pool)
	// Cached results are already transformed and must come back at the size
	// they were stored.
	l.cacheDecoder = decoder.NewStream[io.Reader](decoder.DownsampleNone, format, l.pool)

	reg := core.NewRegistry[image.Image]()
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG(false))
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.DefaultQuality))
	enc, ok := reg.EncoderFor(core.Format(cfg.CacheFormat))
	if !ok {
		return nil, apperrors.New(apperrors.CategoryConfig, "loader.new",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, cfg.CacheFormat))
	}
	l.encoder = enc

	l.http = fetcher.HTTPConfig{
		Client:    &http.Client{Timeout: cfg.HTTP.Timeout},
		UserAgent: cfg.HTTP.UserAgent,
		MaxBytes:  cfg.HTTP.MaxBytes,
	}

	if l.cache == nil && !cfg.DiskCache.Disabled {
		if err := l.openDiskCache(cfg.DiskCache); err != nil {
			return nil, err
		}
	}

	l.cacheExec = engine.NewExecutor(engine.ExecutorConfig{
		Name: "disk-cache", Workers: cfg.Workers, QueueSize: cfg.QueueSize, Logger: l.logger,
	})
	l.sourceExec = engine.NewExecutor(engine.ExecutorConfig{
		Name: "source", Workers: cfg.SourceWorkers, QueueSize: cfg.QueueSize, Logger: l.logger,
	})
	l.cacheExec.Start()
	l.sourceExec.Start()

	gcCtx, cancel := context.WithCancel(context.Background())
	l.gcCancel = cancel
	if l.lru != nil {
		l.gcDone.Add(1)
		go func() {
			defer l.gcDone.Done()
			_ = l.lru.Serve(gcCtx)
		}()
	}
	return l, nil
}

// Load submits req and returns at once.  Exactly one of the callback's
// methods is called later unless the load is cancelled first.  Cancelling
// ctx cancels the load.
func (l *Loader) Load(ctx context.Context, req Request) (*LoadStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "loader.load", err)
	}
	if req.Callback == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "loader.load", fmt.Errorf("nil Callback"))
	}
	if req.Model == "" {
		return nil, apperrors.New(apperrors.CategoryInput, "loader.load", apperrors.ErrEmptyInput)
	}
	if req.Width < 0 || req.Height < 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "loader.load", apperrors.ErrInvalidDimensions)
	}

	f := fetcher.WithRetry(l.fetcherFor(req), l.cfg.MaxRetries, l.cfg.RetryDelay)
	t := transform.Chain(req.Transformations...)
	key := core.ResultKey{
		SourceID:  f.ID(),
		Width:     req.Width,
		Height:    req.Height,
		DecoderID: l.decoder.ID(),
		EncoderID: l.encoder.ID(),
	}
	if t != nil {
		key.TransformationID = t.ID()
	}

	cache := l.cache
	if req.SkipDiskCache {
		cache = nil
	}

	var (
		src  *engine.SourceRunner[io.ReadCloser, image.Image]
		stop func() bool
	)
	user := req.Callback
	cb := core.CallbackFuncs[image.Image]{
		Ready: func(r core.Resource[image.Image]) {
			stop()
			// Persist before handing over: the caller may recycle r.
			if err := src.Persist(); err != nil {
				l.logger.Warn("loader.persist.failed", "key", key.String(), "error", err.Error())
			}
			if l.metrics != nil {
				l.metrics.RecordBytes(int64(r.Size()))
			}
			user.OnResourceReady(r)
		},
		Failed: func(err error) {
			stop()
			user.OnLoadFailed(err)
		},
	}

	src, err := engine.NewSourceRunner(engine.SourceConfig[io.ReadCloser, image.Image]{
		Key:            key,
		Width:          req.Width,
		Height:         req.Height,
		Fetcher:        f,
		Decoder:        l.decoder,
		Transformation: t,
		Encoder:        l.encoder,
		DiskCache:      cache,
		Priority:       req.Priority,
		Callback:       cb,
		Logger:         l.logger,
		Hooks:          l.hooks,
	})
	if err != nil {
		return nil, err
	}

	var (
		runner engine.Runnable = src
		exec                   = l.sourceExec
	)
	if cache != nil {
		rr, err := engine.NewResourceRunner(engine.ResourceConfig[io.ReadCloser, image.Image]{
			Source:         src,
			SourceExecutor: l.sourceExec,
			DiskCache:      cache,
			CacheDecoder:   l.cacheDecoder,
		})
		if err != nil {
			return nil, err
		}
		runner, exec = rr, l.cacheExec
	}

	stop = context.AfterFunc(ctx, runner.Cancel)
	status := &LoadStatus{Key: key, runner: runner, stop: stop}
	if err := exec.Submit(runner); err != nil {
		stop()
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("loader.submitted",
		"key", key.String(),
		"priority", req.Priority.String(),
		"disk_cache", cache != nil,
	)
	return status, nil
}

// Get loads req and waits for the outcome.  It blocks until the load
// finishes, ctx is done or the loader is stopped; a load still queued at
// Stop fails with ErrExecutorStopped.  req.Callback is ignored.
func (l *Loader) Get(ctx context.Context, req Request) (core.Resource[image.Image], error) {
	type outcome struct {
		res core.Resource[image.Image]
		err error
	}
	done := make(chan outcome, 1)
	req.Callback = core.CallbackFuncs[image.Image]{
		Ready:  func(r core.Resource[image.Image]) { done <- outcome{res: r} },
		Failed: func(err error) { done <- outcome{err: err} },
	}
	status, err := l.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		return o.res, o.err
	case <-l.stopped:
		// Loads running at Stop were waited for, so their outcome is
		// already buffered.
		select {
		case o := <-done:
			return o.res, o.err
		default:
		}
		status.Cancel()
		return nil, apperrors.New(apperrors.CategoryPipeline, "loader.get", apperrors.ErrExecutorStopped)
	case <-ctx.Done():
		status.Cancel()
		select {
		case o := <-done:
			if o.res != nil {
				o.res.Recycle()
			}
		default:
		}
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "loader.get", ctx.Err())
	}
}

// Stats is a snapshot of loader statistics.
type Stats struct {
	Pool      bitmap.Stats
	DiskCache *diskcache.Status
	Queued    int
	Completed int64
}

// Stats returns current statistics.
func (l *Loader) Stats() Stats {
	s := Stats{
		Pool:      l.pool.Stats(),
		Queued:    l.cacheExec.Len() + l.sourceExec.Len(),
		Completed: l.sourceExec.Completed(),
	}
	if l.lru != nil {
		st := l.lru.Status()
		s.DiskCache = &st
	}
	return s
}

// Stop cancels queued loads, waits for running ones and stops the disk
// cache GC.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		l.cacheExec.Stop()
		l.sourceExec.Stop()
		l.gcCancel()
		l.gcDone.Wait()
		l.pool.Clear()
		close(l.stopped)
	})
}

func (l *Loader) openDiskCache(cfg config.DiskCacheConfig) error {
	if cfg.Mode == config.DiskCachePlain {
		dir := cfg.Dir
		if !filepath.IsAbs(dir) {
			ucd, err := os.UserCacheDir()
			if err != nil {
				return apperrors.Wrap(apperrors.CategoryConfig, "loader.new", err)
			}
			dir = filepath.Join(ucd, dir)
		}
		local, err := diskcache.NewLocal(dir, 0o600)
		if err != nil {
			return err
		}
		l.cache = local
		return nil
	}

	lru, err := diskcache.NewLRU(diskcache.Config{
		Dir:        cfg.Dir,
		MaxFiles:   cfg.MaxFiles,
		MaxSize:    infounit.ByteCount(cfg.MaxSizeMB) << 20,
		MaxAge:     cfg.MaxAge,
		GCInterval: cfg.GCInterval,
		Logger:     l.logger,
	})
	if err != nil {
		return err
	}
	l.cache, l.lru = lru, lru
	return nil
}

func (l *Loader) fetcherFor(req Request) core.Fetcher[io.ReadCloser] {
	switch {
	case req.Data != nil:
		return fetcher.NewBytes(req.Model, req.Data)
	case strings.HasPrefix(req.Model, "http://"), strings.HasPrefix(req.Model, "https://"):
		return fetcher.NewHTTP(req.Model, l.http)
	}
	return fetcher.NewFile(req.Model)
}
