package transform

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-loader/bitmap"
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/utils"
)

// Resize scales the image to fixed dimensions, preserving aspect ratio when
// one axis is 0.  With both axes 0 the runner's target dimensions are used.
type Resize struct {
	Width, Height int
	// Resampler controls quality vs speed.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *Resize) ID() string { return fmt.Sprintf("transform.Resize(%dx%d)", s.Width, s.Height) }

func (s *Resize) Transform(r core.Resource[image.Image], width, height int) core.Resource[image.Image] {
	if r == nil {
		return r
	}
	src := r.Get()
	if src == nil || src.Bounds().Empty() {
		return r
	}
	tw, th := s.Width, s.Height
	if tw == 0 && th == 0 {
		tw, th = width, height
	}

	srcB := src.Bounds()
	dstW, dstH := utils.TargetSize(srcB.Dx(), srcB.Dy(), tw, th)
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return r
	}
	if dstW <= 0 || dstH <= 0 {
		return r
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}

	pool := bitmap.PoolOf(r)
	dst := pool.Get(dstW, dstH)
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)
	return bitmap.NewResource(dst, pool)
}

var _ Transformation = (*Resize)(nil)
