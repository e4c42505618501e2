package game

import "github.com/HimbeerserverDE/mohnet/msg"

// buttons
const (
	ButtonAttackPrimary   = 1 << 0
	ButtonAttackSecondary = 1 << 1
	ButtonRun             = 1 << 2
	ButtonUse             = 1 << 3
	ButtonLeanLeft        = 1 << 4
	ButtonLeanRight       = 1 << 5
	ButtonAny             = 1 << 15
)

// UserCmd is one sampled input frame of the local player
type UserCmd struct {
	ServerTime  int32
	Msec        uint8
	Buttons     uint16
	Angles      [3]int16
	ForwardMove int8
	RightMove   int8
	UpMove      int8
}

// SetAngles stores view angles in degrees
func (c *UserCmd) SetAngles(a Vec3) {
	for i := range a {
		c.Angles[i] = int16(uint16(AngleToShort(a[i])))
	}
}

func writeDeltaBits(m *msg.Message, from, to uint32, bits int) {
	if from == to {
		m.WriteBits(0, 1)
		return
	}
	m.WriteBits(1, 1)
	m.WriteBits(to, bits)
}

func readDeltaBits(m *msg.Message, from uint32, bits int) (uint32, error) {
	changed, err := m.ReadBits(1)
	if err != nil || changed == 0 {
		return from, err
	}
	return m.ReadBits(bits)
}

// WriteDeltaUsercmd writes the server time as a byte offset when it fits
// and then every other member as a changed flag plus value
func WriteDeltaUsercmd(m *msg.Message, from, to *UserCmd) {
	if d := to.ServerTime - from.ServerTime; d >= 0 && d < 256 {
		m.WriteBits(1, 1)
		m.WriteBits(uint32(d), 8)
	} else {
		m.WriteBits(0, 1)
		m.WriteBits(uint32(to.ServerTime), 32)
	}

	rest, prev := *to, *from
	rest.ServerTime, prev.ServerTime = 0, 0
	if rest == prev {
		m.WriteBits(0, 1)
		return
	}
	m.WriteBits(1, 1)

	writeDeltaBits(m, uint32(from.Msec), uint32(to.Msec), 8)
	writeDeltaBits(m, uint32(from.Buttons), uint32(to.Buttons), 16)
	for i := range to.Angles {
		writeDeltaBits(m, uint32(uint16(from.Angles[i])), uint32(uint16(to.Angles[i])), 16)
	}
	writeDeltaBits(m, uint32(uint8(from.ForwardMove)), uint32(uint8(to.ForwardMove)), 8)
	writeDeltaBits(m, uint32(uint8(from.RightMove)), uint32(uint8(to.RightMove)), 8)
	writeDeltaBits(m, uint32(uint8(from.UpMove)), uint32(uint8(to.UpMove)), 8)
}

func ReadDeltaUsercmd(m *msg.Message, from, to *UserCmd) error {
	rel, err := m.ReadBits(1)
	if err != nil {
		return err
	}
	*to = *from
	if rel != 0 {
		d, err := m.ReadBits(8)
		if err != nil {
			return err
		}
		to.ServerTime = from.ServerTime + int32(d)
	} else {
		t, err := m.ReadBits(32)
		if err != nil {
			return err
		}
		to.ServerTime = int32(t)
	}

	changed, err := m.ReadBits(1)
	if err != nil || changed == 0 {
		return err
	}

	v, err := readDeltaBits(m, uint32(from.Msec), 8)
	if err != nil {
		return err
	}
	to.Msec = uint8(v)

	if v, err = readDeltaBits(m, uint32(from.Buttons), 16); err != nil {
		return err
	}
	to.Buttons = uint16(v)

	for i := range to.Angles {
		if v, err = readDeltaBits(m, uint32(uint16(from.Angles[i])), 16); err != nil {
			return err
		}
		to.Angles[i] = int16(uint16(v))
	}

	moves := []*int8{&to.ForwardMove, &to.RightMove, &to.UpMove}
	prev := []int8{from.ForwardMove, from.RightMove, from.UpMove}
	for i, p := range moves {
		if v, err = readDeltaBits(m, uint32(uint8(prev[i])), 8); err != nil {
			return err
		}
		*p = int8(uint8(v))
	}
	return nil
}
