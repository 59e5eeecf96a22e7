// Package transform provides core.Transformation implementations over
// decoded images.
//
// A transformation that leaves the image unchanged returns the instance it
// was given; otherwise it returns a new bitmap.Resource bound to the input's
// pool and leaves the input for the caller to recycle.
package transform

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/image-loader/bitmap"
	"github.com/Skryldev/image-loader/core"
)

// Transformation is the image-valued transformation contract.
type Transformation = core.Transformation[image.Image]

// ── None ──────────────────────────────────────────────────────────────────────

// None is the identity transformation.
type None struct{}

func (None) Transform(r core.Resource[image.Image], _, _ int) core.Resource[image.Image] { return r }
func (None) ID() string                                                                 { return "transform.None" }

// ── CenterCrop ────────────────────────────────────────────────────────────────

// CenterCrop scales the image to cover the target and crops the overflow
// around the centre.
type CenterCrop struct{}

func (CenterCrop) ID() string { return "transform.CenterCrop" }

func (CenterCrop) Transform(r core.Resource[image.Image], width, height int) core.Resource[image.Image] {
	img, ok := usable(r, width, height)
	if !ok {
		return r
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return r
	}
	return wrap(imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos), r)
}

// ── FitCenter ─────────────────────────────────────────────────────────────────

// FitCenter scales the image, up or down, until it fits inside the target
// while keeping its aspect ratio.
type FitCenter struct{}

func (FitCenter) ID() string { return "transform.FitCenter" }

func (FitCenter) Transform(r core.Resource[image.Image], width, height int) core.Resource[image.Image] {
	img, ok := usable(r, width, height)
	if !ok {
		return r
	}
	b := img.Bounds()
	w, h := fitDimensions(b.Dx(), b.Dy(), width, height)
	if w == b.Dx() && h == b.Dy() {
		return r
	}
	return wrap(imaging.Resize(img, w, h, imaging.Lanczos), r)
}

// fitDimensions scales srcW x srcH by the smaller of the two side ratios.
func fitDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	sw := float64(maxW) / float64(srcW)
	sh := float64(maxH) / float64(srcH)
	scale := min(sw, sh)
	w := max(int(float64(srcW)*scale+0.5), 1)
	h := max(int(float64(srcH)*scale+0.5), 1)
	return min(w, maxW), min(h, maxH)
}

// ── Multi ─────────────────────────────────────────────────────────────────────

// Multi applies transformations in order.  Intermediate results superseded by
// a later step are recycled; the input never is.
type Multi struct {
	steps []Transformation
}

// NewMulti returns a Multi over steps.  Nil steps are skipped.
func NewMulti(steps ...Transformation) *Multi {
	m := &Multi{}
	for _, s := range steps {
		if s != nil {
			m.steps = append(m.steps, s)
		}
	}
	return m
}

// Len returns the number of steps.
func (m *Multi) Len() int { return len(m.steps) }

func (m *Multi) ID() string {
	ids := make([]string, len(m.steps))
	for i, s := range m.steps {
		ids[i] = s.ID()
	}
	return fmt.Sprintf("transform.Multi(%s)", strings.Join(ids, ","))
}

func (m *Multi) Transform(r core.Resource[image.Image], width, height int) core.Resource[image.Image] {
	current := r
	for _, s := range m.steps {
		next := s.Transform(current, width, height)
		if next != current && current != r {
			current.Recycle()
		}
		current = next
	}
	return current
}

// Chain returns nil for no steps, the step itself for one, and a Multi
// otherwise.  Nil steps are skipped.
func Chain(steps ...Transformation) Transformation {
	m := NewMulti(steps...)
	switch len(m.steps) {
	case 0:
		return nil
	case 1:
		return m.steps[0]
	}
	return m
}

// usable returns r's image when r holds one and the target is positive.
func usable(r core.Resource[image.Image], width, height int) (image.Image, bool) {
	if r == nil || width <= 0 || height <= 0 {
		return nil, false
	}
	img := r.Get()
	if img == nil || img.Bounds().Empty() {
		return nil, false
	}
	return img, true
}

// wrap binds img to the pool of the resource it was derived from.
func wrap(img image.Image, from core.Resource[image.Image]) core.Resource[image.Image] {
	return bitmap.NewResource(img, bitmap.PoolOf(from))
}

var (
	_ Transformation = None{}
	_ Transformation = CenterCrop{}
	_ Transformation = FitCenter{}
	_ Transformation = (*Multi)(nil)
)
