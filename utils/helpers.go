package utils

import (
	"bytes"
	"math"
	"net/http"

	"github.com/Skryldev/image-loader/core"
)

// signatures maps leading magic bytes to the format they announce.  A zero
// byte in a pattern matches anything.
var signatures = []struct {
	magic  []byte
	format core.Format
}{
	{[]byte{0xFF, 0xD8, 0xFF}, core.FormatJPEG},
	{[]byte{0x89, 'P', 'N', 'G'}, core.FormatPNG},
	{[]byte("GIF8"), core.FormatGIF},
	{[]byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'E', 'B', 'P'}, core.FormatWebP},
}

// DetectFormat sniffs the head of an encoded image.
func DetectFormat(head []byte) core.Format {
	for _, s := range signatures {
		if matches(head, s.magic) {
			return s.format
		}
	}
	if len(head) < 4 {
		return core.FormatUnknown
	}
	switch http.DetectContentType(head) {
	case "image/jpeg":
		return core.FormatJPEG
	case "image/png":
		return core.FormatPNG
	case "image/gif":
		return core.FormatGIF
	case "image/webp":
		return core.FormatWebP
	}
	return core.FormatUnknown
}

func matches(head, magic []byte) bool {
	if len(head) < len(magic) {
		return false
	}
	if bytes.IndexByte(magic, 0) < 0 {
		return bytes.HasPrefix(head, magic)
	}
	for i, b := range magic {
		if b != 0 && head[i] != b {
			return false
		}
	}
	return true
}

// TargetSize resolves a requested size against a source size.  A zero axis
// follows the other one, keeping the aspect ratio; both zero keeps the
// source.  An empty source resolves to 0x0.
func TargetSize(srcW, srcH, width, height int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	switch {
	case width <= 0 && height <= 0:
		return srcW, srcH
	case width <= 0:
		return max(int(math.Round(float64(srcW)*float64(height)/float64(srcH))), 1), height
	case height <= 0:
		return width, max(int(math.Round(float64(srcH)*float64(width)/float64(srcW))), 1)
	}
	return width, height
}
