// Package bitmap provides pooled pixel buffers and the image Resource type
// that hands them back to the pool when recycled.
package bitmap

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/petar/GoLLRB/llrb"
	"github.com/tunabay/go-infounit"
)

// maxSizeMultiple bounds how much larger than requested a reused buffer may
// be.
const maxSizeMultiple = 8

// Pool recycles *image.NRGBA pixel buffers.  Buffers are kept in a tree
// ordered by capacity so Get finds the smallest one that fits.  A nil *Pool
// is valid: Get allocates and Put drops.
type Pool struct {
	mu      sync.Mutex
	tree    *llrb.LLRB
	maxSize infounit.ByteCount
	curSize infounit.ByteCount
	seq     uint64

	numHit     uint64
	numMiss    uint64
	numPut     uint64
	numEvicted uint64
}

// entry is one pooled buffer.  seq breaks ties between equal capacities so
// the tree never treats two buffers as the same item.
type entry struct {
	capacity int
	seq      uint64
	pix      []uint8
}

// Less orders entries by capacity, then by insertion order.
func (e *entry) Less(xif llrb.Item) bool {
	x := xif.(*entry) //nolint:forcetypeassert
	if e.capacity != x.capacity {
		return e.capacity < x.capacity
	}
	return e.seq < x.seq
}

// NewPool creates a pool holding at most maxSize bytes of idle buffers.
func NewPool(maxSize infounit.ByteCount) *Pool {
	return &Pool{tree: llrb.New(), maxSize: maxSize}
}

// Get returns a zeroed NRGBA image of the given size, reusing a pooled
// buffer when one is large enough.
func (p *Pool) Get(width, height int) *image.NRGBA {
	need := width * height * 4
	rect := image.Rect(0, 0, width, height)
	if p == nil {
		return image.NewNRGBA(rect)
	}

	p.mu.Lock()
	var found *entry
	p.tree.AscendGreaterOrEqual(&entry{capacity: need}, func(i llrb.Item) bool {
		e := i.(*entry) //nolint:forcetypeassert
		if e.capacity <= need*maxSizeMultiple {
			found = e
		}
		return false
	})
	if found == nil {
		p.numMiss++
		p.mu.Unlock()
		return image.NewNRGBA(rect)
	}
	p.tree.Delete(found)
	p.curSize -= infounit.ByteCount(found.capacity)
	p.numHit++
	p.mu.Unlock()

	pix := found.pix[:need]
	clear(pix)
	return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: rect}
}

// Put hands img's buffer to the pool.  The caller must not touch img
// afterwards.
func (p *Pool) Put(img *image.NRGBA) {
	if p == nil || img == nil {
		return
	}
	capacity := cap(img.Pix)
	if capacity == 0 || infounit.ByteCount(capacity) > p.maxSize {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.tree.InsertNoReplace(&entry{capacity: capacity, seq: p.seq, pix: img.Pix[:capacity]})
	p.curSize += infounit.ByteCount(capacity)
	p.numPut++
	for p.curSize > p.maxSize {
		e, ok := p.tree.DeleteMax().(*entry)
		if !ok {
			break
		}
		p.curSize -= infounit.ByteCount(e.capacity)
		p.numEvicted++
	}
}

// Convert copies src into a pooled NRGBA buffer.  It returns src itself when
// it already is an NRGBA anchored at the origin.
func (p *Pool) Convert(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := src.Bounds()
	dst := p.Get(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Clear drops every pooled buffer.
func (p *Pool) Clear() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.tree = llrb.New()
	p.curSize = 0
	p.mu.Unlock()
}

// Stats is a point-in-time copy of pool counters.
type Stats struct {
	Buffers int
	Size    infounit.ByteCount
	MaxSize infounit.ByteCount
	Hits    uint64
	Misses  uint64
	Puts    uint64
	Evicted uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("buffers=%d, size=%.1S/%.1S, hit=%d, miss=%d, put=%d, evict=%d",
		s.Buffers, s.Size, s.MaxSize, s.Hits, s.Misses, s.Puts, s.Evicted)
}

// Stats returns the current pool statistics.
func (p *Pool) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Buffers: p.tree.Len(),
		Size:    p.curSize,
		MaxSize: p.maxSize,
		Hits:    p.numHit,
		Misses:  p.numMiss,
		Puts:    p.numPut,
		Evicted: p.numEvicted,
	}
}
