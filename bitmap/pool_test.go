package bitmap

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunabay/go-infounit"
)

func TestPool_ReusesBuffer(t *testing.T) {
	p := NewPool(infounit.Megabyte)

	img := p.Get(10, 10)
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	first := &img.Pix[0]
	p.Put(img)

	again := p.Get(8, 8)
	assert.Same(t, first, &again.Pix[0], "a large enough pooled buffer is reused")
	assert.Equal(t, image.Rect(0, 0, 8, 8), again.Rect)
	assert.Equal(t, 8*4, again.Stride)
	for _, b := range again.Pix {
		require.Zero(t, b, "reused buffers are cleared")
	}

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Puts)
	assert.Zero(t, st.Buffers)
}

func TestPool_SkipsOversizedBuffers(t *testing.T) {
	p := NewPool(infounit.Megabyte)
	p.Put(p.Get(100, 100))

	small := p.Get(2, 2)
	assert.Len(t, small.Pix, 16)
	assert.Equal(t, 1, p.Stats().Buffers, "a buffer far larger than needed stays pooled")
}

func TestPool_EvictsOverLimit(t *testing.T) {
	p := NewPool(1000)
	p.Put(image.NewNRGBA(image.Rect(0, 0, 10, 10))) // 400 bytes
	p.Put(image.NewNRGBA(image.Rect(0, 0, 10, 10)))
	p.Put(image.NewNRGBA(image.Rect(0, 0, 10, 10)))

	st := p.Stats()
	assert.Equal(t, 2, st.Buffers)
	assert.Equal(t, infounit.ByteCount(800), st.Size)
	assert.Equal(t, uint64(1), st.Evicted)

	p.Put(image.NewNRGBA(image.Rect(0, 0, 20, 20))) // larger than the pool
	assert.Equal(t, 2, p.Stats().Buffers)

	p.Clear()
	assert.Zero(t, p.Stats().Buffers)
}

func TestPool_Nil(t *testing.T) {
	var p *Pool
	img := p.Get(3, 3)
	assert.Len(t, img.Pix, 36)
	p.Put(img)
	p.Clear()
	assert.Equal(t, Stats{}, p.Stats())
}

func TestPool_Convert(t *testing.T) {
	p := NewPool(infounit.Megabyte)

	n := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	assert.Same(t, n, p.Convert(n))

	g := image.NewGray(image.Rect(2, 2, 6, 5))
	g.SetGray(2, 2, color.Gray{Y: 200})
	out := p.Convert(g)
	assert.Equal(t, image.Rect(0, 0, 4, 3), out.Rect)
	assert.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}, out.NRGBAAt(0, 0))
}

func TestResource_Recycle(t *testing.T) {
	p := NewPool(infounit.Megabyte)
	r := NewResource(p.Get(5, 5), p)

	assert.Equal(t, 100, r.Size())
	assert.Same(t, p, PoolOf(r))

	r.Recycle()
	r.Recycle()
	assert.True(t, r.Recycled())
	assert.Zero(t, r.Size())
	assert.Equal(t, uint64(1), p.Stats().Puts, "only the first Recycle returns the buffer")
	assert.Panics(t, func() { r.Get() })
}

func TestResource_NonPooledImage(t *testing.T) {
	p := NewPool(infounit.Megabyte)
	r := NewResource(image.NewGray(image.Rect(0, 0, 4, 4)), p)
	assert.Equal(t, 16, r.Size())
	r.Recycle()
	assert.Zero(t, p.Stats().Puts)
}
