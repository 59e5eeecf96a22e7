package core_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/core"
)

func TestPriority(t *testing.T) {
	order := []core.Priority{core.PriorityImmediate, core.PriorityHigh, core.PriorityNormal, core.PriorityLow}
	for i, p := range order {
		assert.Equal(t, i, p.Ordinal())
		parsed, err := core.ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := core.ParsePriority("urgent")
	assert.Error(t, err)
	assert.Equal(t, "priority(9)", core.Priority(9).String())
}

func TestResultKey_Hash(t *testing.T) {
	base := core.ResultKey{
		SourceID:         "https://example.com/a.jpg",
		Width:            100,
		Height:           50,
		DecoderID:        "dec",
		TransformationID: "crop",
		EncoderID:        "png",
	}
	assert.Equal(t, base.Hash(), base.Hash())

	variants := map[string]core.ResultKey{}
	k := base
	k.Width = 101
	variants["width"] = k
	k = base
	k.Height = 51
	variants["height"] = k
	k = base
	k.DecoderID = "dec2"
	variants["decoder"] = k
	k = base
	k.TransformationID = ""
	variants["transformation"] = k
	k = base
	k.EncoderID = "jpeg"
	variants["encoder"] = k
	for name, v := range variants {
		assert.NotEqual(t, base.Hash(), v.Hash(), name)
	}

	// Field boundaries are part of the hash.
	a := core.ResultKey{SourceID: "ab", DecoderID: "c"}
	b := core.ResultKey{SourceID: "a", DecoderID: "bc"}
	assert.NotEqual(t, a.Hash(), b.Hash())

	assert.Equal(t, "https://example.com/a.jpg@100x50", base.String())
}

func TestStringKey(t *testing.T) {
	assert.Equal(t, core.StringKey("a").Hash(), core.StringKey("a").Hash())
	assert.NotEqual(t, core.StringKey("a").Hash(), core.StringKey("b").Hash())
	assert.Equal(t, "a", core.StringKey("a").String())
}

type nopEncoder struct{ id string }

func (e nopEncoder) Encode(core.Resource[string], io.Writer) error { return nil }
func (e nopEncoder) ID() string                                    { return e.id }

func TestRegistry(t *testing.T) {
	r := core.NewRegistry[string]()
	_, ok := r.EncoderFor(core.FormatPNG)
	assert.False(t, ok)

	r.RegisterEncoder(core.FormatPNG, nopEncoder{id: "png"})
	r.RegisterEncoder(core.FormatPNG, nopEncoder{id: "png2"})
	e, ok := r.EncoderFor(core.FormatPNG)
	require.True(t, ok)
	assert.Equal(t, "png2", e.ID(), "later registrations win")
}

func TestCallbackFuncs(t *testing.T) {
	var got error
	cb := core.CallbackFuncs[string]{Failed: func(err error) { got = err }}
	cb.OnResourceReady(nil)
	cb.OnLoadFailed(io.EOF)
	assert.Equal(t, io.EOF, got)
}
