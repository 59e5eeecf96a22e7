package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclFile mirrors Config for decoding.  Absent attributes keep their
// defaults.
type hclFile struct {
	Workers        *int    `hcl:"workers,optional"`
	SourceWorkers  *int    `hcl:"source_workers,optional"`
	QueueSize      *int    `hcl:"queue_size,optional"`
	MaxRetries     *int    `hcl:"max_retries,optional"`
	RetryDelay     *string `hcl:"retry_delay,optional"`
	DefaultQuality *int    `hcl:"default_quality,optional"`
	CacheFormat    *string `hcl:"cache_format,optional"`
	Downsample     *string `hcl:"downsample,optional"`
	DecodeFormat   *string `hcl:"decode_format,optional"`
	BitmapPoolMB   *int    `hcl:"bitmap_pool_mb,optional"`
	LogLevel       *string `hcl:"log_level,optional"`

	HTTP      *hclHTTP      `hcl:"http,block"`
	DiskCache *hclDiskCache `hcl:"disk_cache,block"`
}

type hclHTTP struct {
	Timeout   *string `hcl:"timeout,optional"`
	UserAgent *string `hcl:"user_agent,optional"`
	MaxBytes  *int64  `hcl:"max_bytes,optional"`
}

type hclDiskCache struct {
	Disabled   *bool   `hcl:"disabled,optional"`
	Mode       *string `hcl:"mode,optional"`
	Dir        *string `hcl:"dir,optional"`
	MaxFiles   *int64  `hcl:"max_files,optional"`
	MaxSizeMB  *int64  `hcl:"max_size_mb,optional"`
	MaxAge     *string `hcl:"max_age,optional"`
	GCInterval *string `hcl:"gc_interval,optional"`
}

// Load reads an HCL file over Default() and validates the result.
// Expressions may refer to environment variables as env.NAME.
func Load(path string) (Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, diags)
	}

	var raw hclFile
	if diags := gohcl.DecodeBody(f.Body, evalContext(), &raw); diags.HasErrors() {
		return Config{}, fmt.Errorf("config: failed to decode %s: %w", path, diags)
	}

	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}

func (h *hclFile) apply(cfg *Config) error {
	setInt(&cfg.Workers, h.Workers)
	setInt(&cfg.SourceWorkers, h.SourceWorkers)
	setInt(&cfg.QueueSize, h.QueueSize)
	setInt(&cfg.MaxRetries, h.MaxRetries)
	setInt(&cfg.DefaultQuality, h.DefaultQuality)
	setInt(&cfg.BitmapPoolMB, h.BitmapPoolMB)
	if h.CacheFormat != nil {
		cfg.CacheFormat = CacheFormat(*h.CacheFormat)
	}
	setString(&cfg.Downsample, h.Downsample)
	setString(&cfg.DecodeFormat, h.DecodeFormat)
	setString(&cfg.LogLevel, h.LogLevel)
	if err := setDuration(&cfg.RetryDelay, h.RetryDelay, "retry_delay"); err != nil {
		return err
	}

	if h.HTTP != nil {
		if err := setDuration(&cfg.HTTP.Timeout, h.HTTP.Timeout, "http.timeout"); err != nil {
			return err
		}
		setString(&cfg.HTTP.UserAgent, h.HTTP.UserAgent)
		if h.HTTP.MaxBytes != nil {
			cfg.HTTP.MaxBytes = *h.HTTP.MaxBytes
		}
	}

	if d := h.DiskCache; d != nil {
		if d.Disabled != nil {
			cfg.DiskCache.Disabled = *d.Disabled
		}
		setString(&cfg.DiskCache.Mode, d.Mode)
		setString(&cfg.DiskCache.Dir, d.Dir)
		if d.MaxFiles != nil {
			if *d.MaxFiles < 0 {
				return fmt.Errorf("disk_cache.max_files must not be negative")
			}
			cfg.DiskCache.MaxFiles = uint64(*d.MaxFiles)
		}
		if d.MaxSizeMB != nil {
			cfg.DiskCache.MaxSizeMB = *d.MaxSizeMB
		}
		if err := setDuration(&cfg.DiskCache.MaxAge, d.MaxAge, "disk_cache.max_age"); err != nil {
			return err
		}
		if err := setDuration(&cfg.DiskCache.GCInterval, d.GCInterval, "disk_cache.gc_interval"); err != nil {
			return err
		}
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, name string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
