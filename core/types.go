package core

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Priority orders concurrent loads.  Lower ordinals are more urgent.
type Priority int

const (
	PriorityImmediate Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Ordinal returns the position of p in the declaration order above.
func (p Priority) Ordinal() int { return int(p) }

func (p Priority) String() string {
	switch p {
	case PriorityImmediate:
		return "immediate"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "priority(" + strconv.Itoa(int(p)) + ")"
}

// ParsePriority maps a configuration string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "immediate":
		return PriorityImmediate, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Stage names one step of a load for hooks and metrics.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageDecode    Stage = "decode"
	StageTransform Stage = "transform"
	StageEncode    Stage = "encode"
	StageCache     Stage = "cache"
)

// HashSize is the size, in bytes, of a key hash.
const HashSize = 32

// Hash is the stable identity of a Key.  It must not change across process
// runs, since disk cache entries are addressed by it.
type Hash [HashSize]byte

// Key addresses fetched and cached data.
type Key interface {
	fmt.Stringer

	Hash() Hash
}

// StringKey is a Key over an arbitrary string, typically a URL or path.
type StringKey string

// Hash returns the SHA-512/256 of the string.
func (k StringKey) Hash() Hash { return sha512.Sum512_256([]byte(k)) }

func (k StringKey) String() string { return string(k) }

// ResultKey identifies a transformed result: the same source decoded,
// transformed and encoded with the same parameters always hashes the same.
type ResultKey struct {
	SourceID         string
	Width, Height    int
	DecoderID        string
	TransformationID string
	EncoderID        string
}

// Hash length-prefixes every field so that no two distinct keys collide by
// concatenation.
func (k ResultKey) Hash() Hash {
	h := sha512.New512_256()
	var n [8]byte
	put := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	put(k.SourceID)
	binary.BigEndian.PutUint32(n[:4], uint32(k.Width))
	binary.BigEndian.PutUint32(n[4:], uint32(k.Height))
	h.Write(n[:])
	put(k.DecoderID)
	put(k.TransformationID)
	put(k.EncoderID)

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (k ResultKey) String() string {
	return fmt.Sprintf("%s@%dx%d", k.SourceID, k.Width, k.Height)
}
