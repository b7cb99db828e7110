package math

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

// Array returns the components in xyzw order.
func (v Vec4) Array() [4]float32 {
	return [4]float32{v.X, v.Y, v.Z, v.W}
}

/** @brief Marker colours used by the built-in passes. */
var (
	ColourWhite  = Vec4{1, 1, 1, 1}
	ColourRed    = Vec4{1, 0.2, 0.2, 1}
	ColourGreen  = Vec4{0.2, 1, 0.2, 1}
	ColourBlue   = Vec4{0.2, 0.4, 1, 1}
	ColourYellow = Vec4{1, 0.9, 0.2, 1}
)
