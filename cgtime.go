package mohnet

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/rs/zerolog"
)

// clock drift corrections in milliseconds
const (
	// resetTime is the drift after which the clock jumps to the server
	resetTime = 500
	// fastAdjust is the drift after which the clock moves halfway
	fastAdjust = 100
)

// serverClock estimates the server time from the local time and the
// times of received snapshots. The estimate never flows backwards.
type serverClock struct {
	active bool

	delta        int32
	time         int32
	oldTime      int32
	oldFrameTime int32
	extrapolated bool
}

func (sc *serverClock) first(snapTime, realtime int32) {
	sc.active = true
	sc.delta = snapTime - realtime
	sc.oldTime = snapTime
	sc.oldFrameTime = snapTime
}

// set advances the estimate to realtime, nudge moves it back
func (sc *serverClock) set(realtime, nudge, snapTime int32) (err error) {
	if snapTime < sc.oldFrameTime {
		err = fmt.Errorf("%w: %d < %d", snapshot.ErrTimeBackwards, snapTime, sc.oldFrameTime)
	} else {
		sc.oldFrameTime = snapTime
	}

	sc.time = realtime + sc.delta - nudge
	if sc.time < sc.oldTime {
		sc.time = sc.oldTime
	}
	sc.oldTime = sc.time

	if realtime+sc.delta >= snapTime-5 {
		sc.extrapolated = true
	}
	return err
}

// adjust pulls the delta towards a newly received snapshot
func (sc *serverClock) adjust(snapTime, realtime int32, log zerolog.Logger) {
	newDelta := snapTime - realtime
	drift := newDelta - sc.delta
	if drift < 0 {
		drift = -drift
	}

	switch {
	case drift > resetTime:
		sc.delta = newDelta
		sc.oldTime = snapTime
		sc.time = snapTime
		log.Debug().Str("event", "clock reset").Int32("drift", drift).Msg("")
	case drift > fastAdjust:
		sc.delta = (sc.delta + newDelta) >> 1
		log.Trace().Str("event", "clock fast adjust").Int32("drift", drift).Msg("")
	case sc.extrapolated:
		sc.extrapolated = false
		sc.delta -= 2
	default:
		sc.delta++
	}
}
