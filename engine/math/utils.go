package math

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// MaxMipLevels returns the length of the full mip chain for a width x height image.
func MaxMipLevels(width, height uint32) uint32 {
	return uint32(bits.Len32(Max(width, height)))
}
