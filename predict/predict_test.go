package predict

import (
	"math"
	"testing"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/snapshot"
	"github.com/rs/zerolog"
)

type frames struct {
	snap, next     *snapshot.Snapshot
	frac           float32
	thisTP, nextTP bool
}

func (f *frames) Snap() *snapshot.Snapshot     { return f.snap }
func (f *frames) NextSnap() *snapshot.Snapshot { return f.next }
func (f *frames) FrameInterpolation() float32  { return f.frac }
func (f *frames) ThisFrameTeleport() bool      { return f.thisTP }
func (f *frames) NextFrameTeleport() bool      { return f.nextTP }
func (f *frames) ClearThisFrameTeleport()      { f.thisTP = false }

// linear moves msec*forwardmove units along x
func linear(ps game.PlayerState, cmd game.UserCmd) game.PlayerState {
	ps.Origin[0] += float32(cmd.Msec) * float32(cmd.ForwardMove)
	return ps
}

func frame(time int32, ps game.PlayerState) *snapshot.Snapshot {
	s := &snapshot.Snapshot{}
	s.ServerTime = time
	s.PS = ps
	return s
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-3 }

func TestMoveChunks(t *testing.T) {
	var chunks []uint8
	rec := func(ps game.PlayerState, cmd game.UserCmd) game.PlayerState {
		chunks = append(chunks, cmd.Msec)
		if cmd.ServerTime != ps.CommandTime+int32(cmd.Msec) {
			t.Fatalf("chunk ends at %d, state at %d", cmd.ServerTime, ps.CommandTime)
		}
		return ps
	}

	tests := []struct {
		s     Settings
		start int32
		end   int32
		want  []uint8
	}{
		{Settings{}, 0, 150, []uint8{66, 66, 18}},
		{Settings{Fixed: true, Msec: 25}, 0, 100, []uint8{25, 25, 25, 25}},
		{Settings{Fixed: true, Msec: 2}, 0, 20, []uint8{8, 8, 4}},
		{Settings{}, 100, 50, nil},
	}
	for _, tt := range tests {
		chunks = nil
		ps := tt.s.Move(game.PlayerState{CommandTime: tt.start}, game.UserCmd{ServerTime: tt.end}, rec)
		if len(chunks) != len(tt.want) {
			t.Fatalf("%+v: got chunks %v, want %v", tt.s, chunks, tt.want)
		}
		for i := range chunks {
			if chunks[i] != tt.want[i] {
				t.Fatalf("%+v: got chunks %v, want %v", tt.s, chunks, tt.want)
			}
		}
		if tt.end > tt.start && ps.CommandTime != tt.end {
			t.Fatalf("command time = %d, want %d", ps.CommandTime, tt.end)
		}
	}

	ps := Settings{}.Move(game.PlayerState{}, game.UserCmd{ServerTime: 5000}, linear)
	if ps.CommandTime != 5000 {
		t.Fatalf("command time = %d", ps.CommandTime)
	}
}

func TestNoclipReference(t *testing.T) {
	s := Settings{Fixed: true, Msec: 25}
	ps := s.Move(game.PlayerState{Speed: 320}, game.UserCmd{ServerTime: 100, ForwardMove: 127}, Noclip)

	// four 25ms chunks from rest: v = 80, 137.5, 186.5625, 224.5859375
	if !near(ps.Origin[0], 15.7162109375) || !near(ps.Velocity[0], 224.5859375) {
		t.Fatalf("origin %v velocity %v", ps.Origin, ps.Velocity)
	}
	if ps.Origin[1] != 0 || ps.Origin[2] != 0 {
		t.Fatalf("drifted off axis: %v", ps.Origin)
	}
	if ps.ViewHeight != DefaultViewHeight {
		t.Fatalf("view height = %d", ps.ViewHeight)
	}
}

func cmds(cs ...game.UserCmd) *CmdRing {
	r := new(CmdRing)
	for _, c := range cs {
		r.Add(c)
	}
	return r
}

func TestPredictReplay(t *testing.T) {
	f := &frames{snap: frame(100, game.PlayerState{CommandTime: 100})}
	r := cmds(
		game.UserCmd{ServerTime: 90, ForwardMove: 9},
		game.UserCmd{ServerTime: 116, ForwardMove: 1},
		game.UserCmd{ServerTime: 132, ForwardMove: 2},
		game.UserCmd{ServerTime: 150, ForwardMove: 3},
	)
	p := New(f, r, linear, Settings{}, zerolog.Nop())

	p.Predict(150)
	if got := p.PlayerState(); got.Origin[0] != 102 || got.CommandTime != 150 {
		t.Fatalf("got origin %v at %d, want 102 at 150", got.Origin[0], got.CommandTime)
	}

	// replay starts from the next frame when it is usable
	f.next = frame(132, game.PlayerState{CommandTime: 132, Origin: game.Vec3{500}})
	p.Predict(150)
	if got := p.PlayerState().Origin[0]; got != 554 {
		t.Fatalf("got origin %v, want 554", got)
	}

	f.nextTP = true
	p.Predict(150)
	if got := p.PlayerState().Origin[0]; got != 102 {
		t.Fatalf("got origin %v, want 102", got)
	}
}

func TestPredictionError(t *testing.T) {
	f := &frames{snap: frame(100, game.PlayerState{CommandTime: 100})}
	r := cmds(
		game.UserCmd{ServerTime: 116, ForwardMove: 1},
		game.UserCmd{ServerTime: 132, ForwardMove: 2},
		game.UserCmd{ServerTime: 150, ForwardMove: 3},
	)
	p := New(f, r, linear, Settings{ErrorDecay: 100}, zerolog.Nop())
	p.Predict(150)

	// the server moved further than predicted
	f.snap = frame(116, game.PlayerState{CommandTime: 116, Origin: game.Vec3{40}})
	r.Add(game.UserCmd{ServerTime: 166})
	p.Predict(166)

	if got := p.PlayerState().Origin[0]; got != 126 {
		t.Fatalf("got origin %v, want 126", got)
	}
	e, at := p.Error()
	if e[0] != -24 || at != 150 {
		t.Fatalf("got error %v at %d, want -24 at 150", e, at)
	}
	if got := p.ViewOrigin(166)[0]; !near(got, 126-0.84*24) {
		t.Fatalf("view origin = %v", got)
	}
	if got := p.ViewOrigin(300)[0]; got != 126 {
		t.Fatalf("decayed view origin = %v", got)
	}
}

func TestTeleportResetsError(t *testing.T) {
	f := &frames{snap: frame(100, game.PlayerState{CommandTime: 100})}
	r := cmds(
		game.UserCmd{ServerTime: 116, ForwardMove: 1},
		game.UserCmd{ServerTime: 150, ForwardMove: 1},
	)
	p := New(f, r, linear, Settings{ErrorDecay: 100}, zerolog.Nop())
	p.Predict(150)

	f.snap = frame(116, game.PlayerState{CommandTime: 116, Origin: game.Vec3{1000}})
	f.thisTP = true
	r.Add(game.UserCmd{ServerTime: 166})
	p.Predict(166)

	if e, _ := p.Error(); e != (game.Vec3{}) {
		t.Fatalf("error = %v, want zero", e)
	}
	if f.thisTP {
		t.Fatal("teleport flag not consumed")
	}
}

func TestInterpolateWhenNotPredicting(t *testing.T) {
	cur := game.PlayerState{PmFlags: game.PMFSpectateFollow, BobCycle: 250, ViewAngles: game.Vec3{0, 350, 0}}
	nxt := game.PlayerState{PmFlags: game.PMFSpectateFollow, BobCycle: 4, Origin: game.Vec3{100, 0, 0}, Velocity: game.Vec3{0, 8, 0}, ViewAngles: game.Vec3{0, 10, 0}}
	f := &frames{snap: frame(100, cur), next: frame(200, nxt), frac: 0.5}
	p := New(f, cmds(game.UserCmd{ServerTime: 150, ForwardMove: 1}), linear, Settings{}, zerolog.Nop())

	p.Predict(150)
	got := p.PlayerState()
	if got.Origin[0] != 50 || got.Velocity[1] != 4 || got.ViewAngles[game.Yaw] != 360 || got.BobCycle != 255 {
		t.Fatalf("interpolated state = %+v", got)
	}

	f.frac = 0.25
	p.Predict(125)
	if got := p.PlayerState().ViewAngles[game.Yaw]; got != 355 {
		t.Fatalf("yaw = %v, want 355", got)
	}

	// disabled prediction takes the view angles from the input
	f.snap.PS.PmFlags, f.next.PS.PmFlags = 0, 0
	p.Settings.Disabled = true
	cmd := game.UserCmd{ServerTime: 160}
	cmd.SetAngles(game.Vec3{0, 90, 0})
	p.cmds.Add(cmd)
	p.Predict(125)
	if got := p.PlayerState(); got.ViewAngles[game.Yaw] != 90 || got.Origin[0] != 25 {
		t.Fatalf("state = %+v", got)
	}
}

func TestCmdRing(t *testing.T) {
	r := new(CmdRing)
	for i := int32(1); i <= CmdBackup+10; i++ {
		if n := r.Add(game.UserCmd{ServerTime: i}); n != i {
			t.Fatalf("got number %d, want %d", n, i)
		}
	}
	if _, ok := r.Get(10); ok {
		t.Fatal("overwritten command returned")
	}
	if c, ok := r.Get(11); !ok || c.ServerTime != 11 {
		t.Fatalf("got %+v %v", c, ok)
	}
	if _, ok := r.Get(r.Current() + 1); ok {
		t.Fatal("future command returned")
	}
}
