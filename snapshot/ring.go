package snapshot

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Header carries what a frame needs from the enclosing packet
type Header struct {
	Family           game.Family
	MessageNum       int32
	ServerCommandNum int32
}

// A Ring holds the recently received frames and the shared entity
// storage they index into
type Ring struct {
	frames   [PacketBackup]Frame
	entities [MaxParseEntities]game.EntityState

	parseEntitiesNum int32

	latest    Frame
	hasLatest bool

	log zerolog.Logger
}

func NewRing(log zerolog.Logger) *Ring {
	return &Ring{log: log.With().Str("ctx", "snapshot").Logger()}
}

// Reset invalidates every stored frame
func (r *Ring) Reset() {
	for i := range r.frames {
		r.frames[i] = Frame{}
	}
	r.parseEntitiesNum = 0
	r.latest = Frame{}
	r.hasLatest = false
}

// Latest returns the last valid frame
func (r *Ring) Latest() (*Frame, bool) { return &r.latest, r.hasLatest }

// ParseEntitiesNum returns the running entity storage counter
func (r *Ring) ParseEntitiesNum() int32 { return r.parseEntitiesNum }

// Slot returns the frame stored for messageNum, which may belong to an
// older message or be invalid
func (r *Ring) Slot(messageNum int32) *Frame { return &r.frames[messageNum&PacketMask] }

func (r *Ring) entity(i int32) *game.EntityState {
	return &r.entities[i&(MaxParseEntities-1)]
}

// Entities returns a copy of the entities of f
func (r *Ring) Entities(f *Frame) []game.EntityState {
	es := make([]game.EntityState, f.NumEntities)
	for i := range es {
		es[i] = *r.entity(f.ParseEntitiesNum + int32(i))
	}
	return es
}

// Get returns a copy of snapshot n if it is still stored
func (r *Ring) Get(n int32) (*Snapshot, bool) {
	if !r.hasLatest || r.latest.MessageNum-n >= PacketBackup {
		return nil, false
	}
	f := r.Slot(n)
	if !f.Valid || f.MessageNum != n {
		return nil, false
	}
	if r.parseEntitiesNum-f.ParseEntitiesNum >= MaxParseEntities {
		return nil, false
	}

	s := &Snapshot{Frame: *f, Entities: r.Entities(f)}
	s.Sounds = append([]Sound(nil), f.Sounds...)
	s.AreaMask = append([]byte(nil), f.AreaMask...)
	return s, true
}

// Parse reads a snapshot message body. The whole frame is always
// consumed to keep the compression state in step; a frame whose delta
// base is unusable is dropped and reported with ErrBadDelta.
func (r *Ring) Parse(m *msg.Message, h Header, baselines *Baselines) (f *Frame, err error) {
	defer func() { err = multierror.Prefix(err, "snapshot.Parse:") }()

	nf := Frame{MessageNum: h.MessageNum, ServerCommandNum: h.ServerCommandNum}

	t, err := m.ReadLong()
	if err != nil {
		return nil, err
	}
	nf.ServerTime = t

	if h.Family == game.TA {
		if nf.Residual, err = m.ReadByte(); err != nil {
			return nil, err
		}
	}

	deltaNum, err := m.ReadByte()
	if err != nil {
		return nil, err
	}
	if deltaNum == 0 {
		nf.DeltaNum = -1
	} else {
		nf.DeltaNum = nf.MessageNum - int32(deltaNum)
	}

	if nf.Flags, err = m.ReadByte(); err != nil {
		return nil, err
	}

	var old *Frame
	var deltaErr error
	if nf.DeltaNum <= 0 {
		nf.Valid = true
	} else {
		old = r.Slot(nf.DeltaNum)
		switch {
		case !old.Valid:
			deltaErr = fmt.Errorf("%w: %d is invalid", ErrBadDelta, nf.DeltaNum)
		case old.MessageNum != nf.DeltaNum:
			deltaErr = fmt.Errorf("%w: %d is too old", ErrBadDelta, nf.DeltaNum)
		case r.parseEntitiesNum-old.ParseEntitiesNum > MaxParseEntities-128:
			deltaErr = fmt.Errorf("%w: entities of %d are too old", ErrBadDelta, nf.DeltaNum)
		default:
			nf.Valid = true
		}
	}

	n, err := m.ReadByte()
	if err != nil {
		return nil, err
	}
	if n > MaxMapAreaBytes {
		return nil, fmt.Errorf("%w: %d", ErrAreaMask, n)
	}
	if nf.AreaMask, err = m.ReadData(int(n)); err != nil {
		return nil, err
	}

	var oldPS *game.PlayerState
	if old != nil {
		oldPS = &old.PS
	}
	if err := game.ReadDeltaPlayerState(m, game.PlayerFields(h.Family), oldPS, &nf.PS); err != nil {
		return nil, err
	}

	if err := r.parsePacketEntities(m, h.Family, old, &nf, baselines); err != nil {
		return nil, err
	}

	if nf.Sounds, err = ReadSounds(m); err != nil {
		return nil, err
	}

	if !nf.Valid {
		r.log.Debug().Str("event", "bad delta").Int32("messageNum", nf.MessageNum).
			Int32("deltaNum", nf.DeltaNum).Err(deltaErr).Msg("")
		return nil, deltaErr
	}

	// frames between the last valid one and this one were lost
	if r.hasLatest {
		oldNum := r.latest.MessageNum + 1
		if nf.MessageNum-oldNum >= PacketBackup {
			oldNum = nf.MessageNum - (PacketBackup - 1)
		}
		for ; oldNum < nf.MessageNum; oldNum++ {
			r.Slot(oldNum).Valid = false
		}
	}

	r.latest = nf
	r.hasLatest = true
	*r.Slot(nf.MessageNum) = nf

	r.log.Trace().Str("event", "snapshot").Int32("messageNum", nf.MessageNum).
		Int32("serverTime", nf.ServerTime).Int("entities", nf.NumEntities).Msg("")
	return &r.latest, nil
}

// old is only an entity source, it may be invalid when the frame is
// dropped anyway
func (r *Ring) parsePacketEntities(m *msg.Message, fam game.Family, old, nf *Frame, baselines *Baselines) error {
	const none = 99999
	fields := game.EntityFields(fam)

	nf.ParseEntitiesNum = r.parseEntitiesNum
	nf.NumEntities = 0

	oldIndex := 0
	var oldState *game.EntityState
	oldNum := int32(none)
	next := func() {
		if old == nil || oldIndex >= old.NumEntities {
			oldNum = none
			return
		}
		oldState = r.entity(old.ParseEntitiesNum + int32(oldIndex))
		oldNum = oldState.Number
	}
	next()

	add := func(num int32, from *game.EntityState, unchanged bool) error {
		if nf.NumEntities >= MaxSnapEntities {
			return fmt.Errorf("%w: %d", ErrTooManyEntities, nf.NumEntities)
		}
		state := r.entity(r.parseEntitiesNum)
		if unchanged {
			*state = *from
		} else {
			from := *from
			kept, err := game.ReadDeltaEntity(m, fields, &from, state, num)
			if err != nil {
				return err
			}
			if !kept {
				return nil
			}
		}
		r.parseEntitiesNum++
		nf.NumEntities++
		return nil
	}

	for {
		v, err := m.ReadBits(game.GEntityNumBits)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEndOfMessage, err)
		}
		newNum := int32(v)
		if newNum == game.EntityNumNone {
			break
		}

		for oldNum < newNum {
			if err := add(oldNum, oldState, true); err != nil {
				return err
			}
			oldIndex++
			next()
		}

		if oldNum == newNum {
			if err := add(newNum, oldState, false); err != nil {
				return err
			}
			oldIndex++
			next()
			continue
		}

		if err := add(newNum, &baselines[newNum], false); err != nil {
			return err
		}
	}

	for oldNum != none {
		if err := add(oldNum, oldState, true); err != nil {
			return err
		}
		oldIndex++
		next()
	}
	return nil
}
