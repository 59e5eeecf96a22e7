// Package encoder provides core.Encoder implementations writing decoded
// images back to bytes, used to persist transformed results to the disk cache.
package encoder

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// JPEG encodes images to JPEG format.
type JPEG struct {
	Quality int
}

// NewJPEG returns a JPEG encoder.  quality <= 0 selects 85.
func NewJPEG(quality int) *JPEG {
	if quality <= 0 {
		quality = 85
	}
	if quality > 100 {
		quality = 100
	}
	return &JPEG{Quality: quality}
}

func (j *JPEG) ID() string { return fmt.Sprintf("encoder.JPEG(q=%d)", j.Quality) }

func (j *JPEG) Encode(r core.Resource[image.Image], w io.Writer) error {
	src, err := source(r)
	if err != nil {
		return apperrors.New(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	if err := jpeg.Encode(w, src, &jpeg.Options{Quality: j.Quality}); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return nil
}

func source(r core.Resource[image.Image]) (image.Image, error) {
	if r == nil {
		return nil, apperrors.ErrEmptyInput
	}
	img := r.Get()
	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.ErrEmptyInput
	}
	return img, nil
}

var _ core.Encoder[image.Image] = (*JPEG)(nil)
