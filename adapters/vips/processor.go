// Package vips runs the load pipeline on libvips: decoding with
// shrink-on-load, transforming and encoding *govips.ImageRef resources.
package vips

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend owns the libvips runtime.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Image ────────────────────────────────────────────────────────────────────

// Image is a Resource over a libvips image.  Recycle closes the image.
type Image struct {
	ref      *govips.ImageRef
	recycled atomic.Bool
}

// NewImage wraps ref.  govips closes unreachable refs itself; Recycle
// releases the pixels early.
func NewImage(ref *govips.ImageRef) *Image {
	return &Image{ref: ref}
}

func (v *Image) Get() *govips.ImageRef {
	if v.recycled.Load() {
		panic("vips: Get called on a recycled image")
	}
	return v.ref
}

func (v *Image) Size() int {
	if v.recycled.Load() {
		return 0
	}
	return v.ref.Width() * v.ref.Height() * v.ref.Bands()
}

func (v *Image) Recycle() {
	if v.recycled.CompareAndSwap(false, true) {
		v.ref.Close()
	}
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder decodes any format libvips understands.  With a positive target
// size it decodes a thumbnail fitting inside it, which lets libvips shrink
// JPEGs while loading.
type Decoder[Z io.Reader] struct {
	// AutoRotate applies the EXIF orientation.
	AutoRotate bool
}

func (d *Decoder[Z]) ID() string {
	if d.AutoRotate {
		return "vips.Decoder(rotate)"
	}
	return "vips.Decoder"
}

func (d *Decoder[Z]) Decode(ctx context.Context, src Z, width, height int) (core.Resource[*govips.ImageRef], error) {
	if any(src) == nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", apperrors.ErrEmptyInput)
	}
	raw, err := utils.ReadAll(ctx, src, 0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.read", err)
	}
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", apperrors.ErrEmptyInput)
	}

	var ref *govips.ImageRef
	if width > 0 && height > 0 {
		ref, err = govips.NewThumbnailFromBuffer(raw, width, height, govips.InterestingNone)
	} else {
		ref, err = govips.NewImageFromBuffer(raw)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	if d.AutoRotate {
		if err := ref.AutoRotate(); err != nil {
			ref.Close()
			return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.rotate", err)
		}
	}
	return NewImage(ref), nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder exports images as JPEG, PNG or WebP.
type Encoder struct {
	Format  core.Format
	Quality int
}

// NewEncoder returns an Encoder.  quality <= 0 selects 85.
func NewEncoder(format core.Format, quality int) *Encoder {
	if quality <= 0 {
		quality = 85
	}
	return &Encoder{Format: format, Quality: quality}
}

func (e *Encoder) ID() string { return fmt.Sprintf("vips.Encoder(%s,q=%d)", e.Format, e.Quality) }

func (e *Encoder) Encode(r core.Resource[*govips.ImageRef], w io.Writer) error {
	if r == nil || r.Get() == nil {
		return apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrEmptyInput)
	}
	ref := r.Get()

	var (
		buf []byte
		err error
	)
	switch e.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = e.Quality
		ep.StripMetadata = true
		buf, _, err = ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = true
		buf, _, err = ref.ExportPng(ep)
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = e.Quality
		ep.StripMetadata = true
		buf, _, err = ref.ExportWebp(ep)
	default:
		return apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, e.Format))
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "vips.encode."+string(e.Format), err)
	}
	if _, err := w.Write(buf); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.write", err)
	}
	return nil
}

// ─── Transformations ──────────────────────────────────────────────────────────

// Fit scales the image to fit inside the target, keeping its aspect ratio.
type Fit struct{}

func (Fit) ID() string { return "vips.Fit" }

func (Fit) Transform(r core.Resource[*govips.ImageRef], width, height int) core.Resource[*govips.ImageRef] {
	return thumbnail(r, width, height, govips.InterestingNone, func(w, h int) bool {
		return (w == width && h <= height) || (h == height && w <= width)
	})
}

// CenterCrop fills the target exactly, cropping the overflow around the
// centre.
type CenterCrop struct{}

func (CenterCrop) ID() string { return "vips.CenterCrop" }

func (CenterCrop) Transform(r core.Resource[*govips.ImageRef], width, height int) core.Resource[*govips.ImageRef] {
	return thumbnail(r, width, height, govips.InterestingCentre, func(w, h int) bool {
		return w == width && h == height
	})
}

// thumbnail returns r itself when done reports that it already has the
// wanted size, and a resized copy otherwise.  On failure r is returned
// unchanged.
func thumbnail(r core.Resource[*govips.ImageRef], width, height int, crop govips.Interesting, done func(w, h int) bool) core.Resource[*govips.ImageRef] {
	if r == nil || width <= 0 || height <= 0 {
		return r
	}
	ref := r.Get()
	if ref == nil || done(ref.Width(), ref.Height()) {
		return r
	}
	cp, err := ref.Copy()
	if err != nil {
		return r
	}
	if err := cp.Thumbnail(width, height, crop); err != nil {
		cp.Close()
		return r
	}
	return NewImage(cp)
}

// compile-time interface checks
var (
	_ core.Resource[*govips.ImageRef]               = (*Image)(nil)
	_ core.Decoder[io.ReadCloser, *govips.ImageRef] = (*Decoder[io.ReadCloser])(nil)
	_ core.Encoder[*govips.ImageRef]                = (*Encoder)(nil)
	_ core.Transformation[*govips.ImageRef]         = Fit{}
	_ core.Transformation[*govips.ImageRef]         = CenterCrop{}
)
