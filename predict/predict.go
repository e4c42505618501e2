/*
Package predict replays locally issued usercmds on top of the latest
authoritative player state so the local view does not lag behind the
input by a round trip.
*/
package predict

import (
	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/rs/zerolog"
)

// Pmove bounds
const (
	MinPmoveMsec = 8
	MaxPmoveMsec = 33

	// MaxChunkMsec is the chunk length when Fixed is not set
	MaxChunkMsec = 66
	// maxCatchup is how far behind a command the state may start
	maxCatchup = 1000
)

// A Pmove advances ps over one chunk of a command. The chunk length is
// cmd.Msec and the chunk ends at cmd.ServerTime. It must be the same
// movement code the server runs.
type Pmove func(ps game.PlayerState, cmd game.UserCmd) game.PlayerState

// Settings is the tick quantization policy shared with the server
type Settings struct {
	Fixed bool
	Msec  int32

	// Disabled turns prediction off, the view then follows the frames
	Disabled bool
	// ErrorDecay is the time in milliseconds a prediction error is
	// smoothed out over, 0 snaps immediately
	ErrorDecay int32
}

func (s Settings) msec() int32 {
	switch {
	case s.Msec < MinPmoveMsec:
		return MinPmoveMsec
	case s.Msec > MaxPmoveMsec:
		return MaxPmoveMsec
	}
	return s.Msec
}

// Move runs cmd against ps in the same chunks the server splits it into
func (s Settings) Move(ps game.PlayerState, cmd game.UserCmd, mover Pmove) game.PlayerState {
	final := cmd.ServerTime
	if final < ps.CommandTime {
		return ps
	}
	if final > ps.CommandTime+maxCatchup {
		ps.CommandTime = final - maxCatchup
	}

	for ps.CommandTime != final {
		msec := final - ps.CommandTime
		if s.Fixed {
			if msec > s.msec() {
				msec = s.msec()
			}
		} else if msec > MaxChunkMsec {
			msec = MaxChunkMsec
		}

		chunk := cmd
		chunk.ServerTime = ps.CommandTime + msec
		chunk.Msec = uint8(msec)
		ps = mover(ps, chunk)
		ps.CommandTime = chunk.ServerTime
	}
	return ps
}

// quantize rounds a command time up to the next fixed tick
func (s Settings) quantize(t int32) int32 {
	if !s.Fixed {
		return t
	}
	n := s.msec()
	return (t + n - 1) / n * n
}

// Frames is the view of the snapshot stream prediction starts from
type Frames interface {
	Snap() *snapshot.Snapshot
	NextSnap() *snapshot.Snapshot
	FrameInterpolation() float32
	ThisFrameTeleport() bool
	NextFrameTeleport() bool
	ClearThisFrameTeleport()
}

// A Predictor keeps the predicted player state of the local client
type Predictor struct {
	Settings Settings

	frames Frames
	cmds   *CmdRing
	mover  Pmove

	ps      game.PlayerState
	valid   bool
	oldTime int32

	predictedErr     game.Vec3
	predictedErrTime int32

	log zerolog.Logger
}

func New(frames Frames, cmds *CmdRing, mover Pmove, s Settings, log zerolog.Logger) *Predictor {
	return &Predictor{
		Settings: s,
		frames:   frames,
		cmds:     cmds,
		mover:    mover,
		log:      log.With().Str("ctx", "predict").Logger(),
	}
}

// Reset drops the predicted state
func (p *Predictor) Reset() {
	p.ps = game.PlayerState{}
	p.valid = false
	p.oldTime = 0
	p.predictedErr = game.Vec3{}
	p.predictedErrTime = 0
}

// PlayerState returns the last predicted or interpolated state
func (p *Predictor) PlayerState() game.PlayerState { return p.ps }

// Error returns the accumulated prediction error and when it was measured
func (p *Predictor) Error() (game.Vec3, int32) { return p.predictedErr, p.predictedErrTime }

// ViewOrigin returns the predicted origin with the decaying prediction
// error added back in
func (p *Predictor) ViewOrigin(time int32) game.Vec3 {
	origin := p.ps.Origin
	if decay := p.Settings.ErrorDecay; decay > 0 {
		f := float32(decay-(time-p.predictedErrTime)) / float32(decay)
		if f > 0 && f < 1 {
			origin = origin.MA(f, p.predictedErr)
		} else {
			p.predictedErrTime = 0
		}
	}
	return origin
}

// Predict updates the predicted state for the given client time
func (p *Predictor) Predict(time int32) {
	defer func() { p.oldTime = time }()

	snap := p.frames.Snap()
	if snap == nil {
		return
	}
	if !p.valid {
		p.valid = true
		p.ps = snap.PS
	}

	switch {
	case snap.PS.PmFlags&(game.PMFSpectateFollow|game.PMFCameraView) != 0:
		p.interpolate(false)
		return
	case p.Settings.Disabled || snap.PS.PmFlags&(game.PMFNoPrediction|game.PMFFrozen) != 0:
		p.interpolate(true)
		return
	}

	old := p.ps
	current := p.cmds.Current()

	oldest, ok := p.cmds.Get(current - CmdBackup + 1)
	if ok && oldest.ServerTime > snap.PS.CommandTime && oldest.ServerTime < time {
		p.log.Debug().Str("event", "exceeded command backup").Int32("commandTime", snap.PS.CommandTime).Msg("")
		return
	}
	latest := p.cmds.Latest()

	next := p.frames.NextSnap()
	if next != nil && !p.frames.NextFrameTeleport() && !p.frames.ThisFrameTeleport() {
		p.ps = next.PS
	} else {
		p.ps = snap.PS
	}

	moved := false
	for n := current - CmdBackup + 1; n <= current; n++ {
		cmd, ok := p.cmds.Get(n)
		if !ok {
			continue
		}
		if p.Settings.Fixed {
			UpdateViewAngles(&p.ps, cmd)
		}
		if cmd.ServerTime <= p.ps.CommandTime || cmd.ServerTime > latest.ServerTime {
			continue
		}

		if p.ps.CommandTime == old.CommandTime {
			p.measureError(old)
		}

		cmd.ServerTime = p.Settings.quantize(cmd.ServerTime)
		p.ps = p.Settings.Move(p.ps, cmd, p.mover)
		moved = true
	}

	if !moved {
		p.log.Trace().Str("event", "not moved").Int32("commandTime", p.ps.CommandTime).Msg("")
	}
}

// measureError compares the previous prediction with the replay at the
// same command time
func (p *Predictor) measureError(old game.PlayerState) {
	if p.frames.ThisFrameTeleport() {
		p.predictedErr = game.Vec3{}
		p.frames.ClearThisFrameTeleport()
		return
	}

	delta := old.Origin.Sub(p.ps.Origin)
	if delta.Length() <= 0.1 {
		return
	}
	if decay := p.Settings.ErrorDecay; decay > 0 {
		f := float32(decay-(p.oldTime-p.predictedErrTime)) / float32(decay)
		if f < 0 {
			f = 0
		}
		p.predictedErr = p.predictedErr.Scale(f)
	} else {
		p.predictedErr = game.Vec3{}
	}
	p.predictedErr = p.predictedErr.Add(delta)
	p.predictedErrTime = p.oldTime

	p.log.Trace().Str("event", "prediction miss").Float32("error", delta.Length()).Msg("")
}

// interpolate moves the state between the current and next frame
// instead of predicting it. With grabAngles the view angles follow
// the local input.
func (p *Predictor) interpolate(grabAngles bool) {
	snap := p.frames.Snap()
	p.ps = InterpolatePlayerState(snap, p.frames.NextSnap(), p.frames.FrameInterpolation(), p.frames.NextFrameTeleport())
	if grabAngles {
		UpdateViewAngles(&p.ps, p.cmds.Latest())
	}
}

// InterpolatePlayerState returns the player state of cur moved frac of
// the way towards next. Angles take the shorter arc.
func InterpolatePlayerState(cur, next *snapshot.Snapshot, frac float32, teleport bool) game.PlayerState {
	out := cur.PS
	if teleport || next == nil || next.ServerTime <= cur.ServerTime {
		return out
	}

	prev, nxt := &cur.PS, &next.PS

	bob := nxt.BobCycle
	if bob < prev.BobCycle {
		bob += 256
	}
	out.BobCycle = prev.BobCycle + int32(frac*float32(bob-prev.BobCycle))

	out.Origin = prev.Origin.Lerp(nxt.Origin, frac)
	out.Velocity = prev.Velocity.Lerp(nxt.Velocity, frac)
	out.ViewAngles = game.LerpAngles(prev.ViewAngles, nxt.ViewAngles, frac)
	return out
}

// UpdateViewAngles applies the command angles on top of the delta
// angles set by the server. Pitch is clamped short of straight up.
func UpdateViewAngles(ps *game.PlayerState, cmd game.UserCmd) {
	if ps.PmFlags&game.PMFIntermission != 0 {
		return
	}
	for i := range ps.ViewAngles {
		temp := int16(int32(cmd.Angles[i]) + ps.DeltaAngles[i])
		if i == game.Pitch {
			if temp > 16000 {
				ps.DeltaAngles[i] = 16000 - int32(cmd.Angles[i])
				temp = 16000
			} else if temp < -16000 {
				ps.DeltaAngles[i] = -16000 - int32(cmd.Angles[i])
				temp = -16000
			}
		}
		ps.ViewAngles[i] = game.ShortToAngle(int32(temp))
	}
}
