package transform

import (
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/Skryldev/image-loader/bitmap"
	"github.com/Skryldev/image-loader/core"
)

// ── Grayscale ─────────────────────────────────────────────────────────────────

// Grayscale converts the image to luminance.
type Grayscale struct{}

func (Grayscale) ID() string { return "transform.Grayscale" }

func (Grayscale) Transform(r core.Resource[image.Image], _, _ int) core.Resource[image.Image] {
	if r == nil {
		return r
	}
	src := r.Get()
	if src == nil || src.Bounds().Empty() {
		return r
	}
	if _, ok := src.(*image.Gray); ok {
		return r
	}
	var out image.Image = effect.Grayscale(src)
	return wrap(out, r)
}

// ── Blur ──────────────────────────────────────────────────────────────────────

// Blur applies a gaussian blur.  Radius <= 0 leaves the image unchanged.
type Blur struct {
	Radius float64
}

func (b Blur) ID() string { return fmt.Sprintf("transform.Blur(%g)", b.Radius) }

func (b Blur) Transform(r core.Resource[image.Image], _, _ int) core.Resource[image.Image] {
	if r == nil || b.Radius <= 0 {
		return r
	}
	src := r.Get()
	if src == nil || src.Bounds().Empty() {
		return r
	}
	return wrap(blur.Gaussian(src, b.Radius), r)
}

// ── ColorFilter ───────────────────────────────────────────────────────────────

// ColorFilter blends every pixel toward a colour in CIE-L*a*b* space.
// Alpha is preserved.
type ColorFilter struct {
	hex    string
	target colorful.Color
	amount float64
}

// NewColorFilter parses hex ("#rrggbb") and clamps amount to [0, 1].
func NewColorFilter(hex string, amount float64) (*ColorFilter, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("color filter: %w", err)
	}
	return &ColorFilter{hex: c.Hex(), target: c, amount: min(max(amount, 0), 1)}, nil
}

func (f *ColorFilter) ID() string { return fmt.Sprintf("transform.ColorFilter(%s,%.3f)", f.hex, f.amount) }

func (f *ColorFilter) Transform(r core.Resource[image.Image], _, _ int) core.Resource[image.Image] {
	if r == nil || f.amount == 0 {
		return r
	}
	src := r.Get()
	if src == nil || src.Bounds().Empty() {
		return r
	}

	b := src.Bounds()
	pool := bitmap.PoolOf(r)
	dst := pool.Get(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			px := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if px.A == 0 {
				continue
			}
			c, _ := colorful.MakeColor(color.NRGBA{R: px.R, G: px.G, B: px.B, A: 0xff})
			cr, cg, cb := c.BlendLab(f.target, f.amount).Clamped().RGB255()
			dst.SetNRGBA(x, y, color.NRGBA{R: cr, G: cg, B: cb, A: px.A})
		}
	}
	return bitmap.NewResource(dst, pool)
}

var (
	_ Transformation = Grayscale{}
	_ Transformation = Blur{}
	_ Transformation = (*ColorFilter)(nil)
)
