package snapshot

import (
	"fmt"

	"github.com/HimbeerserverDE/mohnet/game"
	"github.com/HimbeerserverDE/mohnet/msg"
)

const (
	soundChannelBits = 7
	soundIndexBits   = 9
	soundCountBits   = 7
)

// sticky error reader for the flag heavy sound records
type bitReader struct {
	m   *msg.Message
	err error
}

func (r *bitReader) bits(n int) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.m.ReadBits(n)
	r.err = err
	return v
}

func (r *bitReader) flag() bool { return r.bits(1) != 0 }

func (r *bitReader) float() float32 {
	if r.err != nil {
		return 0
	}
	v, err := r.m.ReadFloat()
	r.err = err
	return v
}

// optional float, -1 if absent
func (r *bitReader) optFloat() float32 {
	if !r.flag() {
		return -1
	}
	return r.float()
}

// ReadSounds reads the sound section that ends every snapshot
func ReadSounds(m *msg.Message) ([]Sound, error) {
	r := &bitReader{m: m}
	if !r.flag() {
		return nil, r.err
	}

	n := int(r.bits(soundCountBits))
	if r.err != nil {
		return nil, r.err
	}
	if n > MaxSounds {
		return nil, fmt.Errorf("%w: %d", ErrTooManySounds, n)
	}

	sounds := make([]Sound, n)
	for i := range sounds {
		s := &sounds[i]
		s.Stop = r.flag()
		s.Entity = int32(r.bits(game.GEntityNumBits))
		s.Channel = int32(r.bits(soundChannelBits))
		if s.Stop {
			continue
		}

		s.Streamed = r.flag()
		if s.HasOrigin = r.flag(); s.HasOrigin {
			for j := range s.Origin {
				s.Origin[j] = r.float()
			}
		}
		s.Volume = r.optFloat()
		s.MinDist = r.optFloat()
		s.MaxDist = r.optFloat()
		s.Pitch = r.optFloat()
		s.Index = int32(r.bits(soundIndexBits))
	}
	if r.err != nil {
		return nil, r.err
	}
	return sounds, nil
}

func writeOptFloat(m *msg.Message, v float32) {
	if v < 0 {
		m.WriteBits(0, 1)
		return
	}
	m.WriteBits(1, 1)
	m.WriteFloat(v)
}

// WriteSounds is the inverse of ReadSounds
func WriteSounds(m *msg.Message, sounds []Sound) error {
	if len(sounds) == 0 {
		m.WriteBits(0, 1)
		return m.Err()
	}
	if len(sounds) > MaxSounds {
		return fmt.Errorf("%w: %d", ErrTooManySounds, len(sounds))
	}

	m.WriteBits(1, 1)
	m.WriteBits(uint32(len(sounds)), soundCountBits)
	for i := range sounds {
		s := &sounds[i]
		m.WriteBool(s.Stop)
		m.WriteBits(uint32(s.Entity), game.GEntityNumBits)
		m.WriteBits(uint32(s.Channel), soundChannelBits)
		if s.Stop {
			continue
		}

		m.WriteBool(s.Streamed)
		m.WriteBool(s.HasOrigin)
		if s.HasOrigin {
			for _, c := range s.Origin {
				m.WriteFloat(c)
			}
		}
		writeOptFloat(m, s.Volume)
		writeOptFloat(m, s.MinDist)
		writeOptFloat(m, s.MaxDist)
		writeOptFloat(m, s.Pitch)
		m.WriteBits(uint32(s.Index), soundIndexBits)
	}
	return m.Err()
}
