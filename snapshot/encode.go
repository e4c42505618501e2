package snapshot

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
)

// WriteSnapshot encodes s as the server does, relative to base if it is
// not nil. Entities of both snapshots must be sorted by number.
func WriteSnapshot(m *msg.Message, fam game.Family, baselines *Baselines, base, s *Snapshot) error {
	m.WriteLong(s.ServerTime)
	if fam == game.TA {
		m.WriteByte(s.Residual)
	}

	var from []game.EntityState
	var fromPS *game.PlayerState
	if base == nil {
		m.WriteByte(0)
	} else {
		d := s.MessageNum - base.MessageNum
		if d <= 0 || d > 255 {
			return fmt.Errorf("snapshot: delta distance %d out of range", d)
		}
		m.WriteByte(byte(d))
		from = base.Entities
		fromPS = &base.PS
	}
	m.WriteByte(s.Flags)

	if len(s.AreaMask) > MaxMapAreaBytes {
		return fmt.Errorf("%w: %d", ErrAreaMask, len(s.AreaMask))
	}
	m.WriteByte(byte(len(s.AreaMask)))
	m.WriteData(s.AreaMask)

	game.WriteDeltaPlayerState(m, game.PlayerFields(fam), fromPS, &s.PS)
	writePacketEntities(m, game.EntityFields(fam), baselines, from, s.Entities)

	if err := WriteSounds(m, s.Sounds); err != nil {
		return err
	}
	return m.Err()
}

func writePacketEntities(m *msg.Message, fields game.Table[game.EntityState], baselines *Baselines, from, to []game.EntityState) {
	const none = 9999
	oldIndex, newIndex := 0, 0
	for oldIndex < len(from) || newIndex < len(to) {
		newNum, oldNum := int32(none), int32(none)
		if newIndex < len(to) {
			newNum = to[newIndex].Number
		}
		if oldIndex < len(from) {
			oldNum = from[oldIndex].Number
		}

		switch {
		case newNum == oldNum:
			game.WriteDeltaEntity(m, fields, &from[oldIndex], &to[newIndex], false)
			oldIndex++
			newIndex++
		case newNum < oldNum:
			game.WriteDeltaEntity(m, fields, &baselines[newNum], &to[newIndex], true)
			newIndex++
		default:
			game.WriteDeltaEntity(m, fields, &from[oldIndex], nil, true)
			oldIndex++
		}
	}
	m.WriteBits(game.EntityNumNone, game.GEntityNumBits)
}
