package core

import (
	"context"
	"io"
	"time"
)

// Resource owns a decoded payload.  Ownership is exclusive: whoever holds a
// Resource either hands it on or recycles it.  Recycle is idempotent and
// irreversible; Get must not be called afterwards.
type Resource[T any] interface {
	Get() T
	// Size reports the payload's approximate footprint in bytes.
	Size() int
	Recycle()
}

// Fetcher retrieves raw source data.  Implementations live in adapters/fetcher/.
type Fetcher[Z any] interface {
	// Load blocks until the payload is available or an error occurs.
	Load(ctx context.Context, priority Priority) (Z, error)
	// Cancel aborts an in-flight Load on a best-effort basis.  It is safe to
	// call before, during or after Load, and must never panic.
	Cancel()
	ID() string
}

// Decoder turns fetched data into a Resource bounded by the target
// dimensions.  A nil Resource means the payload could not be decoded.
// Implementations live in adapters/decoder/.
type Decoder[Z, T any] interface {
	Decode(ctx context.Context, source Z, width, height int) (Resource[T], error)
	// ID incorporates every parameter that affects the decoded output.
	ID() string
}

// Transformation maps a Resource to another one, or returns it unchanged.
// When a new instance is returned the input stays valid so the caller can
// recycle it.
type Transformation[T any] interface {
	Transform(r Resource[T], width, height int) Resource[T]
	ID() string
}

// Encoder serialises a Resource for the disk cache.
// Implementations live in adapters/encoder/.
type Encoder[T any] interface {
	Encode(r Resource[T], w io.Writer) error
	ID() string
}

// Callback receives exactly one terminal outcome per non-cancelled load.
type Callback[T any] interface {
	OnResourceReady(r Resource[T])
	OnLoadFailed(err error)
}

// DiskCache is a persistent byte store addressed by Key.
// Implementations live in diskcache/.
type DiskCache interface {
	// Get opens the entry for key or returns an error wrapping ErrCacheMiss.
	Get(key Key) (io.ReadCloser, error)
	// Put stores the bytes produced by write under key.  Nothing is stored
	// if write fails.
	Put(key Key, write func(io.Writer) error) error
	Has(key Key) bool
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordStageTime(stage Stage, d time.Duration)
	RecordBytes(bytes int64)
	RecordError(stage Stage, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer invoked around each load stage.
type Hook interface {
	BeforeStage(ctx context.Context, stage Stage, key Key)
	AfterStage(ctx context.Context, stage Stage, key Key, d time.Duration, err error)
}
