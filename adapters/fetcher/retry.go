package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Retry re-runs a fetcher's Load while it fails with a transient error.
type Retry[Z any] struct {
	inner      core.Fetcher[Z]
	maxRetries int
	retryDelay time.Duration
	cancelled  chan struct{}
	stopOnce   sync.Once
}

// WithRetry wraps f.  maxRetries <= 0 returns f unchanged.
func WithRetry[Z any](f core.Fetcher[Z], maxRetries int, delay time.Duration) core.Fetcher[Z] {
	if maxRetries <= 0 {
		return f
	}
	return &Retry[Z]{inner: f, maxRetries: maxRetries, retryDelay: delay, cancelled: make(chan struct{})}
}

func (r *Retry[Z]) ID() string { return r.inner.ID() }

func (r *Retry[Z]) Load(ctx context.Context, priority core.Priority) (Z, error) {
	var (
		data Z
		err  error
	)
	attempts := r.maxRetries + 1
	for i := 0; i < attempts; i++ {
		data, err = r.inner.Load(ctx, priority)
		if err == nil || !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return data, apperrors.Wrap(apperrors.CategoryFetch, "retry.load", ctx.Err())
		case <-r.cancelled:
			return data, err
		case <-time.After(r.retryDelay):
		}
	}
	return data, err
}

// Cancel stops further attempts and cancels the inner fetcher.
func (r *Retry[Z]) Cancel() {
	r.stopOnce.Do(func() { close(r.cancelled) })
	r.inner.Cancel()
}
