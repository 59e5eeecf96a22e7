package encoder

import (
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// PNG encodes images to PNG format.
type PNG struct {
	enc png.Encoder
}

// NewPNG returns a PNG encoder.  Lossless selects best compression.
func NewPNG(lossless bool) *PNG {
	p := &PNG{enc: png.Encoder{CompressionLevel: png.DefaultCompression, BufferPool: bufferPool{}}}
	if lossless {
		p.enc.CompressionLevel = png.BestCompression
	}
	return p
}

func (p *PNG) ID() string {
	if p.enc.CompressionLevel == png.BestCompression {
		return "encoder.PNG(best)"
	}
	return "encoder.PNG"
}

func (p *PNG) Encode(r core.Resource[image.Image], w io.Writer) error {
	src, err := source(r)
	if err != nil {
		return apperrors.New(apperrors.CategoryEncode, "png.encode", err)
	}
	if err := p.enc.Encode(w, src); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return nil
}

var encoderBuffers sync.Pool

// bufferPool lets png.Encoder reuse its scanline buffers across calls.
type bufferPool struct{}

func (bufferPool) Get() *png.EncoderBuffer {
	b, _ := encoderBuffers.Get().(*png.EncoderBuffer)
	return b
}

func (bufferPool) Put(b *png.EncoderBuffer) { encoderBuffers.Put(b) }

var _ core.Encoder[image.Image] = (*PNG)(nil)
