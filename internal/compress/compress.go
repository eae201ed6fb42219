// Package compress wraps zstd as the stateless block codec used to shrink
// recorder batches before they reach the blob store.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// Level is one of the three strength tiers the codec exposes.
type Level string

const (
	LevelFast     Level = "fast"
	LevelBalanced Level = "balanced"
	LevelBest     Level = "best"
)

// levelInt maps each named Level onto the integer the spec fixes for it.
func levelInt(l Level) (int, error) {
	switch l {
	case LevelFast:
		return 1, nil
	case LevelBalanced:
		return 3, nil
	case LevelBest:
		return 19, nil
	default:
		return 0, fmt.Errorf("unknown compression level %q", l)
	}
}

func encoderLevel(n int) zstd.EncoderLevel {
	switch {
	case n <= 1:
		return zstd.SpeedFastest
	case n <= 3:
		return zstd.SpeedDefault
	case n <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress encodes data at the given strength level. It retains no state
// between calls: each invocation builds and releases its own encoder.
func Compress(data []byte, level Level) ([]byte, error) {
	n, err := levelInt(level)
	if err != nil {
		return nil, simerrors.CompressionFailed("invalid compression level", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel(n)))
	if err != nil {
		return nil, simerrors.CompressionFailed("failed to construct encoder", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress decodes a byte slice produced by Compress (of any level).
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, simerrors.CompressionFailed("failed to construct decoder", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, simerrors.CompressionFailed("failed to decode payload", err)
	}
	return out, nil
}
