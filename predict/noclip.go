package predict

import (
	"math"

	"github.com/HimbeerserverDE/mohnet/game"
)

// movement tunables of the reference mover
const (
	StopSpeed  = 100
	Accelerate = 10
	Friction   = 6

	DefaultViewHeight = 82
)

// Noclip is the free flying mover: no collision, no gravity. It is the
// reference movement used when no game module is available.
func Noclip(ps game.PlayerState, cmd game.UserCmd) game.PlayerState {
	msec := int32(cmd.Msec)
	if msec < 1 {
		msec = 1
	} else if msec > 200 {
		msec = 200
	}
	frametime := float32(msec) * 0.001

	UpdateViewAngles(&ps, cmd)
	forward, right, _ := game.AngleVectors(ps.ViewAngles)
	ps.ViewHeight = DefaultViewHeight

	speed := ps.Velocity.Length()
	if speed < 1 {
		ps.Velocity = game.Vec3{}
	} else {
		control := speed
		if control < StopSpeed {
			control = StopSpeed
		}
		newspeed := speed - control*Friction*1.5*frametime
		if newspeed < 0 {
			newspeed = 0
		}
		ps.Velocity = ps.Velocity.Scale(newspeed / speed)
	}

	fmove, smove := float32(cmd.ForwardMove), float32(cmd.RightMove)
	var wishvel game.Vec3
	for i := range wishvel {
		wishvel[i] = forward[i]*fmove + right[i]*smove
	}
	wishvel[2] += float32(cmd.UpMove)

	wishdir, wishspeed := normalize(wishvel)
	wishspeed *= cmdScale(&ps, cmd)
	ps.Velocity = accelerate(ps.Velocity, wishdir, wishspeed, Accelerate, frametime)

	ps.Origin = ps.Origin.MA(frametime, ps.Velocity)
	return ps
}

// cmdScale returns the factor that turns the move axes into a velocity
// not exceeding the player speed
func cmdScale(ps *game.PlayerState, cmd game.UserCmd) float32 {
	f, r, u := abs8(cmd.ForwardMove), abs8(cmd.RightMove), abs8(cmd.UpMove)
	top := f
	if r > top {
		top = r
	}
	if u > top {
		top = u
	}
	if top == 0 {
		return 0
	}
	total := float32(math.Sqrt(float64(f*f + r*r + u*u)))
	return float32(ps.Speed) * top / (127 * total)
}

func accelerate(vel, wishdir game.Vec3, wishspeed, accel, frametime float32) game.Vec3 {
	add := wishspeed - vel.Dot(wishdir)
	if add <= 0 {
		return vel
	}
	speed := accel * frametime * wishspeed
	if speed > add {
		speed = add
	}
	return vel.MA(speed, wishdir)
}

func normalize(v game.Vec3) (game.Vec3, float32) {
	l := v.Length()
	if l == 0 {
		return v, 0
	}
	return v.Scale(1 / l), l
}

func abs8(v int8) float32 {
	if v < 0 {
		return -float32(v)
	}
	return float32(v)
}
