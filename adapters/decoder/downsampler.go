package decoder

import "math/bits"

// Downsampler picks a power-of-two reduction for a decoded image relative to
// the target dimensions.
type Downsampler int

const (
	// DownsampleAtLeast keeps both sides at least as large as the target.
	DownsampleAtLeast Downsampler = iota
	// DownsampleAtMost keeps both sides no larger than the target.
	DownsampleAtMost
	// DownsampleNone decodes at full size.
	DownsampleNone
)

// ID is folded into the decoder id.
func (d Downsampler) ID() string {
	switch d {
	case DownsampleAtLeast:
		return "AT_LEAST"
	case DownsampleAtMost:
		return "AT_MOST"
	}
	return "NONE"
}

// SampleSize returns the divisor to apply to both sides of a srcW x srcH
// image.  A target side <= 0 disables downsampling.
func (d Downsampler) SampleSize(srcW, srcH, targetW, targetH int) int {
	if d == DownsampleNone || targetW <= 0 || targetH <= 0 || srcW <= 0 || srcH <= 0 {
		return 1
	}
	switch d {
	case DownsampleAtLeast:
		ratio := min(srcW/targetW, srcH/targetH)
		if ratio <= 1 {
			return 1
		}
		return 1 << (bits.Len(uint(ratio)) - 1)
	case DownsampleAtMost:
		ratio := max(ceilDiv(srcW, targetW), ceilDiv(srcH, targetH))
		if ratio <= 1 {
			return 1
		}
		return 1 << bits.Len(uint(ratio-1))
	}
	return 1
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
