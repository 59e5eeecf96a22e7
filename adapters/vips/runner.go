package vips

import (
	"io"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/engine"
)

// RunnerConfig describes one load decoded, transformed and encoded by
// libvips.
type RunnerConfig struct {
	Key     core.Key
	Fetcher core.Fetcher[io.ReadCloser]

	Width, Height int
	// Crop fills Width x Height exactly; otherwise the image is fitted
	// inside it.
	Crop       bool
	AutoRotate bool

	Format  core.Format
	Quality int

	Priority  core.Priority
	Callback  core.Callback[*govips.ImageRef]
	DiskCache core.DiskCache

	Logger core.Logger
	Hooks  []core.Hook
}

// NewSourceRunner returns an engine.SourceRunner over libvips images.  The
// Backend must be started first.
func NewSourceRunner(cfg RunnerConfig) (*engine.SourceRunner[io.ReadCloser, *govips.ImageRef], error) {
	var tr core.Transformation[*govips.ImageRef] = Fit{}
	if cfg.Crop {
		tr = CenterCrop{}
	}
	format := cfg.Format
	if format == "" {
		format = core.FormatPNG
	}
	return engine.NewSourceRunner(engine.SourceConfig[io.ReadCloser, *govips.ImageRef]{
		Key:            cfg.Key,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Fetcher:        cfg.Fetcher,
		Decoder:        &Decoder[io.ReadCloser]{AutoRotate: cfg.AutoRotate},
		Transformation: tr,
		Encoder:        NewEncoder(format, cfg.Quality),
		DiskCache:      cfg.DiskCache,
		Priority:       cfg.Priority,
		Callback:       cfg.Callback,
		Logger:         cfg.Logger,
		Hooks:          cfg.Hooks,
	})
}
