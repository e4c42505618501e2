package game

import "math"

const (
	// small integer encoding of regular floats
	FloatIntBits = 13
	FloatIntBias = 1 << (FloatIntBits - 1)

	maxPackedCoord          = 65536
	maxPackedCoordHalf      = maxPackedCoord / 2
	maxPackedCoordExtra     = 262144
	maxPackedCoordExtraHalf = maxPackedCoordExtra / 2

	coordBits      = 16
	coordExtraBits = 18

	coordSmallBits      = 8
	coordExtraSmallBits = 10
)

func maxValue(bits int) int32 { return int32(1)<<uint(bits) - 1 }

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PackAngle quantizes an angle to 2^bits steps over 360 degrees.
// A negative width ^n stores n magnitude bits plus a sign flag above them.
func PackAngle(angle float32, bits int) uint32 {
	var sign uint32
	if bits < 0 {
		bits = ^bits
		if angle < 0 {
			angle = -angle
			sign = 1 << uint(bits)
		}
	}
	return sign | uint32(int32(angle*float32(int32(1)<<uint(bits))/360))&uint32(maxValue(bits))
}

func UnpackAngle(packed uint32, bits int) float32 {
	neg := float32(1)
	if bits < 0 {
		bits = ^bits
		if packed&(1<<uint(bits)) != 0 {
			neg = -1
			packed &^= 1 << uint(bits)
		}
	}
	return neg * float32(packed) * 360 / float32(int32(1)<<uint(bits))
}

// PackAnimTime stores seconds in hundredths
func PackAnimTime(t float32, bits int) uint32 {
	return uint32(clamp(int32(t*100), 0, maxValue(bits)))
}

func UnpackAnimTime(packed uint32) float32 { return float32(packed) / 100 }

func PackScale(scale float32, bits int) uint32 {
	return uint32(clamp(int32(scale*100), 0, maxValue(bits)))
}

func UnpackScale(packed uint32) float32 { return float32(packed) / 100 }

// PackAlpha maps [0, 1] onto [0, 2^bits-1], also used for animation weights
func PackAlpha(alpha float32, bits int) uint32 {
	max := maxValue(bits)
	return uint32(clamp(int32(alpha*float32(max)), 0, max))
}

func UnpackAlpha(packed uint32, bits int) float32 {
	a := float32(packed) / float32(maxValue(bits))
	if a > 1 {
		a = 1
	}
	return a
}

// PackCoord stores a coordinate in quarter units around the origin
func PackCoord(c float32) uint32 {
	p := int32(math.Floor(float64(c)*4 + maxPackedCoordHalf + 0.5))
	return uint32(clamp(p, 0, maxPackedCoord-1))
}

func UnpackCoord(packed uint32) float32 {
	return float32(int32(packed)-maxPackedCoordHalf) / 4
}

// PackCoordExtra stores a coordinate in sixteenth units
func PackCoordExtra(c float32) uint32 {
	p := int32(math.Floor(float64(c)*16 + maxPackedCoordExtraHalf + 0.5))
	return uint32(clamp(p, 0, maxPackedCoordExtra-1))
}

func UnpackCoordExtra(packed uint32) float32 {
	return float32(int32(packed)-maxPackedCoordExtraHalf) / 16
}

// PackVelocity stores a velocity in eighth units, two's complement
func PackVelocity(v float32, bits int) uint32 {
	limit := int32(1) << uint(bits-1)
	p := int32(math.Floor(float64(v)*8 + 0.5))
	return uint32(clamp(p, -limit, limit-1)) & uint32(maxValue(bits))
}

func UnpackVelocity(packed uint32, bits int) float32 {
	v := packed
	if bits < 32 && v&(1<<uint(bits-1)) != 0 {
		v |= ^uint32(0) << uint(bits)
	}
	return float32(int32(v)) / 8
}
