package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	govips "github.com/davidbyttow/govips/v2/vips"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/adapters/vips"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 180, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, raw []byte, w, h int) core.Resource[*govips.ImageRef] {
	t.Helper()
	dec := &vips.Decoder[io.Reader]{}
	res, err := dec.Decode(context.Background(), bytes.NewReader(raw), w, h)
	require.NoError(t, err)
	t.Cleanup(res.Recycle)
	return res
}

func TestDecoder_Thumbnail(t *testing.T) {
	res := decode(t, pngBytes(t, 400, 200), 100, 100)
	assert.Equal(t, 100, res.Get().Width())
	assert.Equal(t, 50, res.Get().Height())

	full := decode(t, pngBytes(t, 40, 30), 0, 0)
	assert.Equal(t, 40, full.Get().Width())
	assert.Positive(t, full.Size())
}

func TestDecoder_Errors(t *testing.T) {
	dec := &vips.Decoder[io.Reader]{}
	_, err := dec.Decode(context.Background(), bytes.NewReader(nil), 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrEmptyInput)

	_, err = dec.Decode(context.Background(), bytes.NewReader([]byte("not an image")), 0, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))
}

func TestTransformations(t *testing.T) {
	res := decode(t, pngBytes(t, 300, 100), 0, 0)

	crop := vips.CenterCrop{}.Transform(res, 50, 50)
	require.NotSame(t, res, crop)
	defer crop.Recycle()
	assert.Equal(t, 50, crop.Get().Width())
	assert.Equal(t, 50, crop.Get().Height())
	assert.Same(t, crop, vips.CenterCrop{}.Transform(crop, 50, 50))

	fit := vips.Fit{}.Transform(res, 150, 150)
	defer fit.Recycle()
	assert.Equal(t, 150, fit.Get().Width())
	assert.Equal(t, 50, fit.Get().Height())
	assert.Same(t, fit, vips.Fit{}.Transform(fit, 150, 150))
}

func TestEncoder(t *testing.T) {
	res := decode(t, pngBytes(t, 20, 20), 0, 0)

	var buf bytes.Buffer
	require.NoError(t, vips.NewEncoder(core.FormatPNG, 0).Encode(res, &buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	r, _, _, _ := img.At(5, 5).RGBA()
	assert.Equal(t, color.NRGBA{R: 180, A: 255}.R, uint8(r>>8))

	for _, f := range []core.Format{core.FormatJPEG, core.FormatWebP} {
		buf.Reset()
		require.NoError(t, vips.NewEncoder(f, 80).Encode(res, &buf), f)
		assert.Positive(t, buf.Len())
	}

	err = vips.NewEncoder(core.FormatGIF, 80).Encode(res, &buf)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
}

func TestImage_Recycle(t *testing.T) {
	dec := &vips.Decoder[io.Reader]{}
	res, err := dec.Decode(context.Background(), bytes.NewReader(pngBytes(t, 8, 8)), 0, 0)
	require.NoError(t, err)
	res.Recycle()
	res.Recycle()
	assert.Zero(t, res.Size())
	assert.Panics(t, func() { res.Get() })
}
