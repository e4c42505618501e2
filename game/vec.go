package game

import "math"

type Vec3 [3]float32

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(s float32) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

// MA returns v + o*s
func (v Vec3) MA(s float32, o Vec3) Vec3 {
	return Vec3{v[0] + o[0]*s, v[1] + o[1]*s, v[2] + o[2]*s}
}

func (v Vec3) Dot(o Vec3) float32 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v Vec3) Length() float32 { return float32(math.Sqrt(float64(v.Dot(v)))) }

// Lerp interpolates linearly, frac 0 is v and 1 is o
func (v Vec3) Lerp(o Vec3, frac float32) Vec3 {
	return Vec3{
		v[0] + frac*(o[0]-v[0]),
		v[1] + frac*(o[1]-v[1]),
		v[2] + frac*(o[2]-v[2]),
	}
}

const (
	Pitch = iota
	Yaw
	Roll
)

// AngleVectors returns the forward, right and up vectors of pitch/yaw/roll angles
func AngleVectors(angles Vec3) (forward, right, up Vec3) {
	rad := func(a float32) (sin, cos float64) {
		return math.Sincos(float64(a) * (math.Pi / 180))
	}
	sy, cy := rad(angles[Yaw])
	sp, cp := rad(angles[Pitch])
	sr, cr := rad(angles[Roll])

	forward = Vec3{float32(cp * cy), float32(cp * sy), float32(-sp)}
	right = Vec3{
		float32(-1*sr*sp*cy + -1*cr*-sy),
		float32(-1*sr*sp*sy + -1*cr*cy),
		float32(-1 * sr * cp),
	}
	up = Vec3{
		float32(cr*sp*cy + -sr*-sy),
		float32(cr*sp*sy + -sr*cy),
		float32(cr * cp),
	}
	return
}

// AngleToShort maps degrees onto the 16 bit wire representation
func AngleToShort(a float32) int32 { return int32(a*65536/360) & 0xffff }

func ShortToAngle(s int32) float32 { return float32(s) * (360.0 / 65536) }

// AngleMod normalizes to [0, 360)
func AngleMod(a float32) float32 { return (360.0 / 65536) * float32(int32(a*(65536/360.0))&65535) }

// LerpAngle interpolates along the shorter arc
func LerpAngle(from, to, frac float32) float32 {
	if to-from > 180 {
		to -= 360
	}
	if to-from < -180 {
		to += 360
	}
	return from + frac*(to-from)
}

// LerpAngles applies LerpAngle to every component
func LerpAngles(from, to Vec3, frac float32) Vec3 {
	return Vec3{
		LerpAngle(from[0], to[0], frac),
		LerpAngle(from[1], to[1], frac),
		LerpAngle(from[2], to[2], frac),
	}
}
