package bitmap

import (
	"image"
	"sync/atomic"

	"github.com/Skryldev/image-loader/core"
)

// Resource owns a decoded image.  Recycling returns NRGBA buffers to the
// pool it was created with.
type Resource struct {
	img      image.Image
	pool     *Pool
	recycled atomic.Bool
}

// NewResource wraps img.  pool may be nil.
func NewResource(img image.Image, pool *Pool) *Resource {
	return &Resource{img: img, pool: pool}
}

// Get returns the image.  It panics once the resource has been recycled.
func (r *Resource) Get() image.Image {
	if r.recycled.Load() {
		panic("bitmap: Get called on a recycled resource")
	}
	return r.img
}

// Size returns the number of pixel bytes held.
func (r *Resource) Size() int {
	if r.recycled.Load() {
		return 0
	}
	return imageSize(r.img)
}

// Recycle releases the image.  Only the first call has an effect.
func (r *Resource) Recycle() {
	if !r.recycled.CompareAndSwap(false, true) {
		return
	}
	if n, ok := r.img.(*image.NRGBA); ok {
		r.pool.Put(n)
	}
	r.img = nil
}

// Recycled reports whether Recycle has been called.
func (r *Resource) Recycled() bool { return r.recycled.Load() }

// Pool returns the pool the resource recycles into.
func (r *Resource) Pool() *Pool { return r.pool }

// PoolOf returns the pool behind r when r is a *Resource.
func PoolOf(r core.Resource[image.Image]) *Pool {
	if br, ok := r.(*Resource); ok {
		return br.pool
	}
	return nil
}

func imageSize(img image.Image) int {
	switch m := img.(type) {
	case nil:
		return 0
	case *image.NRGBA:
		return len(m.Pix)
	case *image.RGBA:
		return len(m.Pix)
	case *image.Gray:
		return len(m.Pix)
	case *image.Paletted:
		return len(m.Pix)
	case *image.YCbCr:
		return len(m.Y) + len(m.Cb) + len(m.Cr)
	}
	b := img.Bounds()
	return b.Dx() * b.Dy() * 4
}

var _ core.Resource[image.Image] = (*Resource)(nil)
