// Package decoder provides core.Decoder implementations for image streams.
package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP format decoder

	"github.com/Skryldev/image-loader/bitmap"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// sniffLen is the number of bytes inspected to detect the format.
const sniffLen = 512

// DecodeFormat selects the pixel layout of decoded images.
type DecodeFormat int

const (
	// FormatPreferCompact keeps the codec's native colour model, e.g. YCbCr
	// for JPEG, which takes less memory than NRGBA.
	FormatPreferCompact DecodeFormat = iota
	// FormatAlwaysNRGBA converts every image into a pooled *image.NRGBA.
	FormatAlwaysNRGBA
)

func (f DecodeFormat) String() string {
	if f == FormatAlwaysNRGBA {
		return "ALWAYS_NRGBA"
	}
	return "PREFER_COMPACT"
}

// ParseDecodeFormat maps a configuration string to a DecodeFormat.
func ParseDecodeFormat(s string) (DecodeFormat, error) {
	switch s {
	case "", "prefer_compact":
		return FormatPreferCompact, nil
	case "always_nrgba":
		return FormatAlwaysNRGBA, nil
	}
	return FormatPreferCompact, fmt.Errorf("unknown decode format %q", s)
}

// ParseDownsampler maps a configuration string to a Downsampler.
func ParseDownsampler(s string) (Downsampler, error) {
	switch s {
	case "", "at_least":
		return DownsampleAtLeast, nil
	case "at_most":
		return DownsampleAtMost, nil
	case "none":
		return DownsampleNone, nil
	}
	return DownsampleNone, fmt.Errorf("unknown downsampler %q", s)
}

// Stream decodes JPEG, PNG, GIF and WebP streams into bitmap resources.
// Z is the stream type produced by the fetcher in front of it.
type Stream[Z io.Reader] struct {
	downsampler Downsampler
	format      DecodeFormat
	pool        *bitmap.Pool
}

// NewStream returns a Stream decoder.  pool may be nil.
func NewStream[Z io.Reader](d Downsampler, f DecodeFormat, pool *bitmap.Pool) *Stream[Z] {
	return &Stream[Z]{downsampler: d, format: f, pool: pool}
}

func (s *Stream[Z]) ID() string {
	return "decoder.Stream" + s.downsampler.ID() + s.format.String()
}

func (s *Stream[Z]) Decode(ctx context.Context, src Z, width, height int) (core.Resource[image.Image], error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "stream.decode", err)
	}
	if any(src) == nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "stream.decode", apperrors.ErrEmptyInput)
	}

	br := bufio.NewReaderSize(src, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "stream.decode.peek", err)
	}
	if len(head) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "stream.decode", apperrors.ErrEmptyInput)
	}
	if f := utils.DetectFormat(head); f == core.FormatUnknown {
		return nil, apperrors.New(apperrors.CategoryDecode, "stream.decode", apperrors.ErrUnsupportedFormat)
	}

	img, _, err := image.Decode(br)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "stream.decode", err)
	}

	b := img.Bounds()
	if sample := s.downsampler.SampleSize(b.Dx(), b.Dy(), width, height); sample > 1 {
		dst := s.pool.Get(max(b.Dx()/sample, 1), max(b.Dy()/sample, 1))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return bitmap.NewResource(dst, s.pool), nil
	}
	if s.format == FormatAlwaysNRGBA {
		img = s.pool.Convert(img)
	}
	return bitmap.NewResource(img, s.pool), nil
}

var (
	_ core.Decoder[io.Reader, image.Image]     = (*Stream[io.Reader])(nil)
	_ core.Decoder[io.ReadCloser, image.Image] = (*Stream[io.ReadCloser])(nil)
)
