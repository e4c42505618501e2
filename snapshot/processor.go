package snapshot

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/rs/zerolog"
)

// Source is where the processor pulls frames from, usually a Ring
type Source interface {
	Latest() (*Frame, bool)
	Get(n int32) (*Snapshot, bool)
}

// Entity is the game side view of one entity
type Entity struct {
	Current game.EntityState
	Next    game.EntityState

	CurrentValid bool
	Interpolate  bool

	LerpOrigin game.Vec3
	LerpAngles game.Vec3
}

// A Processor walks the frames of a Source in order. It keeps the
// current frame and, once known, the next one to interpolate towards.
type Processor struct {
	src Source

	latest    int32
	processed int32
	started   bool

	snap *Snapshot
	next *Snapshot

	entities [game.MaxGEntities]Entity
	solid    []int32

	nextFrameTeleport bool
	thisFrameTeleport bool
	frac              float32

	onAdded    []func(*game.EntityState)
	onModified []func(prev, cur *game.EntityState)
	onRemoved  []func(*game.EntityState)
	onSnapshot []func(*Snapshot)

	log zerolog.Logger
}

func NewProcessor(src Source, log zerolog.Logger) *Processor {
	return &Processor{src: src, log: log.With().Str("ctx", "cgame").Logger()}
}

// RegisterOnEntityAdded registers a handler for entities entering the frame
func (p *Processor) RegisterOnEntityAdded(fn func(*game.EntityState)) {
	p.onAdded = append(p.onAdded, fn)
}

// RegisterOnEntityModified registers a handler for entities whose state
// changed between two frames
func (p *Processor) RegisterOnEntityModified(fn func(prev, cur *game.EntityState)) {
	p.onModified = append(p.onModified, fn)
}

// RegisterOnEntityRemoved registers a handler for entities leaving the frame
func (p *Processor) RegisterOnEntityRemoved(fn func(*game.EntityState)) {
	p.onRemoved = append(p.onRemoved, fn)
}

// RegisterOnSnapshot registers a handler called whenever a frame becomes current
func (p *Processor) RegisterOnSnapshot(fn func(*Snapshot)) {
	p.onSnapshot = append(p.onSnapshot, fn)
}

// Reset drops all frames, used when the gamestate changes
func (p *Processor) Reset() {
	p.latest, p.processed, p.started = 0, 0, false
	p.snap, p.next = nil, nil
	p.entities = [game.MaxGEntities]Entity{}
	p.solid = p.solid[:0]
	p.nextFrameTeleport, p.thisFrameTeleport = false, false
	p.frac = 0
}

func (p *Processor) Snap() *Snapshot     { return p.snap }
func (p *Processor) NextSnap() *Snapshot { return p.next }

// Entity returns the state of entity number n
func (p *Processor) Entity(n int32) *Entity { return &p.entities[n&(game.MaxGEntities-1)] }

// SolidList returns the numbers of solid entities of the current frame
func (p *Processor) SolidList() []int32 { return p.solid }

// FrameInterpolation returns how far time is between the current and next frame
func (p *Processor) FrameInterpolation() float32 { return p.frac }

// ThisFrameTeleport reports whether the last transition disabled interpolation
func (p *Processor) ThisFrameTeleport() bool { return p.thisFrameTeleport }

// NextFrameTeleport reports whether interpolation towards the next frame is disabled
func (p *Processor) NextFrameTeleport() bool { return p.nextFrameTeleport }

// ClearThisFrameTeleport is called once prediction consumed the flag
func (p *Processor) ClearThisFrameTeleport() { p.thisFrameTeleport = false }

func (p *Processor) readNext() *Snapshot {
	for p.processed < p.latest {
		p.processed++
		if s, ok := p.src.Get(p.processed); ok {
			return s
		}
		p.log.Debug().Str("event", "skipped").Int32("messageNum", p.processed).Msg("")
	}
	return nil
}

// Process pulls in new frames and transitions while time has passed the
// next frame
func (p *Processor) Process(time int32) error {
	f, ok := p.src.Latest()
	if !ok {
		return nil
	}
	if !p.started {
		p.started = true
		p.processed = f.MessageNum - 1
		p.latest = f.MessageNum
	}
	if f.MessageNum != p.latest {
		if f.MessageNum < p.latest {
			return fmt.Errorf("%w: %d < %d", ErrSnapshotOrder, f.MessageNum, p.latest)
		}
		p.latest = f.MessageNum
	}

	for p.snap == nil {
		s := p.readNext()
		if s == nil {
			return nil
		}
		if s.Flags&FlagNotActive == 0 {
			p.setInitial(s)
		}
	}

	for {
		if p.next == nil {
			s := p.readNext()
			if s == nil {
				break
			}
			// the frame is dropped, later ones may still be usable
			if s.ServerTime < p.snap.ServerTime {
				return fmt.Errorf("%w: %d < %d", ErrTimeBackwards, s.ServerTime, p.snap.ServerTime)
			}
			p.setNext(s)
		}

		if time >= p.snap.ServerTime && time < p.next.ServerTime {
			break
		}
		p.transition()
	}

	p.interpolate(time)
	return nil
}

func (p *Processor) setInitial(s *Snapshot) {
	p.snap = s
	p.buildSolidList()

	for i := range s.Entities {
		es := &s.Entities[i]
		e := p.Entity(es.Number)
		e.Current = *es
		e.Next = *es
		e.Interpolate = false
		e.CurrentValid = true
		e.LerpOrigin = es.NetOrigin
		e.LerpAngles = es.NetAngles
	}
	for _, fn := range p.onSnapshot {
		fn(s)
	}
	for i := range s.Entities {
		for _, fn := range p.onAdded {
			fn(&s.Entities[i])
		}
	}

	p.log.Debug().Str("event", "initial snapshot").Int32("messageNum", s.MessageNum).
		Int("entities", len(s.Entities)).Msg("")
}

func (p *Processor) setNext(s *Snapshot) {
	p.next = s
	for i := range p.snap.Entities {
		p.Entity(p.snap.Entities[i].Number).Interpolate = false
	}
	for i := range s.Entities {
		es := &s.Entities[i]
		e := p.Entity(es.Number)
		e.Next = *es
		e.Interpolate = e.CurrentValid && (e.Current.EFlags^es.EFlags)&game.EFTeleportBit == 0
	}

	cur, nxt := &p.snap.PS, &s.PS
	p.nextFrameTeleport = (cur.PmFlags^nxt.PmFlags)&game.PMFRespawned != 0 ||
		(cur.CameraFlags^nxt.CameraFlags)&game.CFCameraCutBit != 0 ||
		cur.ClientNum != nxt.ClientNum ||
		(p.snap.Flags^s.Flags)&FlagServerCount != 0

	p.buildSolidList()
}

func (p *Processor) transition() {
	old, s := p.snap, p.next

	present := make(map[int32]*game.EntityState, len(s.Entities))
	for i := range s.Entities {
		present[s.Entities[i].Number] = &s.Entities[i]
	}

	for i := range old.Entities {
		es := &old.Entities[i]
		p.Entity(es.Number).CurrentValid = false
		if _, ok := present[es.Number]; !ok {
			for _, fn := range p.onRemoved {
				fn(es)
			}
		}
	}

	p.snap = s
	p.next = nil

	prevState := make(map[int32]*game.EntityState, len(old.Entities))
	for i := range old.Entities {
		prevState[old.Entities[i].Number] = &old.Entities[i]
	}

	for i := range s.Entities {
		es := &s.Entities[i]
		e := p.Entity(es.Number)
		e.Current = *es
		e.CurrentValid = true
		if !e.Interpolate {
			e.LerpOrigin = es.NetOrigin
			e.LerpAngles = es.NetAngles
		}

		prev, ok := prevState[es.Number]
		switch {
		case !ok:
			for _, fn := range p.onAdded {
				fn(es)
			}
		case *prev != *es:
			for _, fn := range p.onModified {
				fn(prev, es)
			}
		}
	}

	p.thisFrameTeleport = p.nextFrameTeleport
	p.nextFrameTeleport = false
	p.buildSolidList()

	for _, fn := range p.onSnapshot {
		fn(s)
	}
}

func (p *Processor) buildSolidList() {
	s := p.snap
	if p.next != nil && !p.nextFrameTeleport && !p.thisFrameTeleport {
		s = p.next
	}

	p.solid = p.solid[:0]
	for i := range s.Entities {
		if s.Entities[i].Solid != 0 {
			p.solid = append(p.solid, s.Entities[i].Number)
		}
	}
}

func (p *Processor) interpolate(time int32) {
	p.frac = 0
	if p.next != nil {
		if d := p.next.ServerTime - p.snap.ServerTime; d > 0 {
			p.frac = float32(time-p.snap.ServerTime) / float32(d)
		}
	}

	for i := range p.snap.Entities {
		e := p.Entity(p.snap.Entities[i].Number)
		if p.next == nil || !e.Interpolate {
			e.LerpOrigin = e.Current.NetOrigin
			e.LerpAngles = e.Current.NetAngles
			continue
		}
		e.LerpOrigin = e.Current.NetOrigin.Lerp(e.Next.NetOrigin, p.frac)
		e.LerpAngles = game.LerpAngles(e.Current.NetAngles, e.Next.NetAngles, p.frac)
	}
}
