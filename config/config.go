package config

import (
	"errors"
	"fmt"
	"time"
)

// CacheFormat selects the encoder used to persist transformed results.
type CacheFormat string

const (
	CacheFormatPNG  CacheFormat = "png"
	CacheFormatJPEG CacheFormat = "jpeg"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.  Cache lookups run on Workers, fetch and decode
	// on SourceWorkers.
	Workers       int // default: runtime.NumCPU()
	SourceWorkers int // default: 4
	QueueSize     int // max queued loads before backpressure; 0 = unbounded

	// Retry of transient fetch failures.
	MaxRetries int
	RetryDelay time.Duration

	// Encoding of cached results.
	DefaultQuality int // 1-100; default 85
	CacheFormat    CacheFormat

	// Decoding.
	Downsample   string // "at_least", "at_most", "none"
	DecodeFormat string // "prefer_compact", "always_nrgba"
	BitmapPoolMB int    // idle pixel buffers kept for reuse; 0 disables pooling

	HTTP      HTTPConfig
	DiskCache DiskCacheConfig

	LogLevel string // "debug", "info", "warn", "error"
}

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64 // 0 = no limit
}

// DiskCache modes.
const (
	DiskCacheLRU   = "lru"   // bounded, evicts least recently used entries
	DiskCachePlain = "plain" // unbounded directory, never evicts
)

// DiskCacheConfig configures the disk cache.  The limits apply to the LRU
// mode only.
type DiskCacheConfig struct {
	Disabled   bool
	Mode       string
	Dir        string
	MaxFiles   uint64
	MaxSizeMB  int64
	MaxAge     time.Duration
	GCInterval time.Duration
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		Workers:        0, // resolved at runtime to NumCPU
		SourceWorkers:  4,
		QueueSize:      0,
		MaxRetries:     2,
		RetryDelay:     200 * time.Millisecond,
		DefaultQuality: 85,
		CacheFormat:    CacheFormatPNG,
		Downsample:     "at_least",
		DecodeFormat:   "prefer_compact",
		BitmapPoolMB:   32,
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "image-loader/1.0",
			MaxBytes:  32 << 20,
		},
		DiskCache: DiskCacheConfig{
			Mode:       DiskCacheLRU,
			Dir:        "image-loader",
			MaxFiles:   4096,
			MaxSizeMB:  250,
			MaxAge:     7 * 24 * time.Hour,
			GCInterval: time.Minute,
		},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.Workers < 0 || c.SourceWorkers < 0 || c.QueueSize < 0 {
		return errors.New("config: worker counts and QueueSize must not be negative")
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return errors.New("config: MaxRetries and RetryDelay must not be negative")
	}
	switch c.CacheFormat {
	case CacheFormatPNG, CacheFormatJPEG:
	default:
		return fmt.Errorf("config: unknown CacheFormat %q", c.CacheFormat)
	}
	switch c.Downsample {
	case "", "at_least", "at_most", "none":
	default:
		return fmt.Errorf("config: unknown Downsample %q", c.Downsample)
	}
	switch c.DecodeFormat {
	case "", "prefer_compact", "always_nrgba":
	default:
		return fmt.Errorf("config: unknown DecodeFormat %q", c.DecodeFormat)
	}
	if c.BitmapPoolMB < 0 || c.HTTP.MaxBytes < 0 || c.HTTP.Timeout < 0 {
		return errors.New("config: BitmapPoolMB, HTTP.MaxBytes and HTTP.Timeout must not be negative")
	}
	if !c.DiskCache.Disabled {
		if c.DiskCache.Dir == "" {
			return errors.New("config: DiskCache.Dir is required unless the disk cache is disabled")
		}
		switch c.DiskCache.Mode {
		case "", DiskCacheLRU, DiskCachePlain:
		default:
			return fmt.Errorf("config: unknown DiskCache.Mode %q", c.DiskCache.Mode)
		}
		if c.DiskCache.MaxSizeMB < 0 || c.DiskCache.MaxAge < 0 || c.DiskCache.GCInterval < 0 {
			return errors.New("config: DiskCache limits must not be negative")
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", c.LogLevel)
	}
	return nil
}
