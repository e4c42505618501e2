package game

import (
	"errors"
	"fmt"
	"math"

	"github.com/HimbeerserverDE/mohnet/msg"
)

var ErrFieldCount = errors.New("game: invalid field count")

// Kind selects how a field value is packed
type Kind uint8

const (
	Regular Kind = iota
	Angle
	Time
	Scale
	Alpha
	Coord
	CoordExtra
	Velocity
	Simple
)

var kindNames = [...]string{"regular", "angle", "time", "scale", "alpha", "coord", "coordExtra", "velocity", "simple"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// A Field is one entry of a delta table. Exactly one of the accessors is set.
type Field[T any] struct {
	Name string
	Bits int
	Kind Kind

	i func(*T) *int32
	f func(*T) *float32
}

// IntField describes an integer member. Negative widths are sign extended on read.
func IntField[T any](name string, bits int, kind Kind, p func(*T) *int32) Field[T] {
	return Field[T]{Name: name, Bits: bits, Kind: kind, i: p}
}

// FloatField describes a float member. Width 0 with Regular selects the
// biased small integer or raw float encoding.
func FloatField[T any](name string, bits int, kind Kind, p func(*T) *float32) Field[T] {
	return Field[T]{Name: name, Bits: bits, Kind: kind, f: p}
}

func (fd *Field[T]) width() int {
	switch {
	case fd.Bits > 0:
		return fd.Bits
	case fd.Bits < 0:
		return -fd.Bits
	}
	return 32
}

// Changed reports whether the field differs between from and to. Bits above
// the transmitted width are ignored.
func (fd *Field[T]) Changed(from, to *T) bool {
	if fd.f != nil {
		return math.Float32bits(*fd.f(from)) != math.Float32bits(*fd.f(to))
	}

	a, b := uint32(*fd.i(from)), uint32(*fd.i(to))
	if a == b {
		return false
	}
	if w := fd.width(); w < 32 {
		return (a^b)&(1<<uint(w)-1) != 0
	}
	return true
}

// Copy sets the member of dst to the one of src
func (fd *Field[T]) Copy(dst, src *T) {
	if fd.f != nil {
		*fd.f(dst) = *fd.f(src)
	} else {
		*fd.i(dst) = *fd.i(src)
	}
}

func (fd *Field[T]) write(m *msg.Message, from, to *T) {
	w := fd.width()

	if fd.i != nil {
		v := *fd.i(to)
		switch fd.Kind {
		case Regular:
			if v == 0 {
				m.WriteBits(0, 1)
				return
			}
			m.WriteBits(1, 1)
			fallthrough
		default:
			m.WriteBits(uint32(v), w)
		}
		return
	}

	v := *fd.f(to)
	switch fd.Kind {
	case Regular:
		if fd.Bits != 0 {
			if v == 0 {
				m.WriteBits(0, 1)
				return
			}
			m.WriteBits(1, 1)
			m.WriteBits(uint32(int32(v)), w)
			return
		}
		writeRegularFloat(m, v)
	case Simple:
		m.WriteBits(math.Float32bits(v), 32)
	case Angle:
		m.WriteBits(PackAngle(v, fd.Bits), w)
	case Time:
		m.WriteBits(PackAnimTime(v, w), w)
	case Scale:
		m.WriteBits(PackScale(v, w), w)
	case Alpha:
		m.WriteBits(PackAlpha(v, w), w)
	case Coord:
		writeDeltaCoord(m, PackCoord(*fd.f(from)), PackCoord(v), coordSmallBits, coordBits)
	case CoordExtra:
		writeDeltaCoord(m, PackCoordExtra(*fd.f(from)), PackCoordExtra(v), coordExtraSmallBits, coordExtraBits)
	case Velocity:
		m.WriteBits(PackVelocity(v, w), w)
	}
}

func (fd *Field[T]) read(m *msg.Message, from, to *T) error {
	w := fd.width()

	if fd.i != nil {
		if fd.Kind == Regular {
			nz, err := m.ReadBits(1)
			if err != nil {
				return err
			}
			if nz == 0 {
				*fd.i(to) = 0
				return nil
			}
		}
		v, err := m.ReadBits(w)
		if err != nil {
			return err
		}
		if fd.Bits < 0 {
			*fd.i(to) = msg.SignExtend(v, w)
		} else {
			*fd.i(to) = int32(v)
		}
		return nil
	}

	dst := fd.f(to)
	switch fd.Kind {
	case Regular:
		if fd.Bits != 0 {
			nz, err := m.ReadBits(1)
			if err != nil {
				return err
			}
			if nz == 0 {
				*dst = 0
				return nil
			}
			v, err := m.ReadBits(w)
			if err != nil {
				return err
			}
			if fd.Bits < 0 {
				*dst = float32(msg.SignExtend(v, w))
			} else {
				*dst = float32(v)
			}
			return nil
		}
		v, err := readRegularFloat(m)
		if err != nil {
			return err
		}
		*dst = v
	case Coord, CoordExtra:
		small, full, pack, unpack := coordSmallBits, coordBits, PackCoord, UnpackCoord
		if fd.Kind == CoordExtra {
			small, full, pack, unpack = coordExtraSmallBits, coordExtraBits, PackCoordExtra, UnpackCoordExtra
		}
		p, err := readDeltaCoord(m, pack(*fd.f(from)), small, full)
		if err != nil {
			return err
		}
		*dst = unpack(p)
	default:
		if fd.Kind == Simple {
			w = 32
		}
		v, err := m.ReadBits(w)
		if err != nil {
			return err
		}
		switch fd.Kind {
		case Simple:
			*dst = math.Float32frombits(v)
		case Angle:
			*dst = UnpackAngle(v, fd.Bits)
		case Time:
			*dst = UnpackAnimTime(v)
		case Scale:
			*dst = UnpackScale(v)
		case Alpha:
			*dst = UnpackAlpha(v, w)
		case Velocity:
			*dst = UnpackVelocity(v, w)
		}
	}
	return nil
}

func writeRegularFloat(m *msg.Message, v float32) {
	if v == 0 {
		m.WriteBits(0, 1)
		return
	}
	m.WriteBits(1, 1)

	trunc := int32(v)
	if float32(trunc) == v && trunc+FloatIntBias >= 0 && trunc+FloatIntBias < 1<<FloatIntBits {
		m.WriteBits(0, 1)
		m.WriteBits(uint32(trunc+FloatIntBias), FloatIntBits)
		return
	}
	m.WriteBits(1, 1)
	m.WriteBits(math.Float32bits(v), 32)
}

func readRegularFloat(m *msg.Message) (float32, error) {
	nz, err := m.ReadBits(1)
	if err != nil || nz == 0 {
		return 0, err
	}
	full, err := m.ReadBits(1)
	if err != nil {
		return 0, err
	}
	if full == 0 {
		v, err := m.ReadBits(FloatIntBits)
		return float32(int32(v) - FloatIntBias), err
	}
	v, err := m.ReadBits(32)
	return math.Float32frombits(v), err
}

// delta of the packed value, biased by one since a zero delta is never sent
func writeDeltaCoord(m *msg.Message, from, to uint32, small, full int) {
	delta := int32(to) - int32(from)
	limit := int32(1) << uint(small-1)
	if delta != 0 && delta >= -limit && delta <= limit {
		m.WriteBits(1, 1)
		if delta < 0 {
			m.WriteBits(uint32(-delta-1)<<1|1, small)
		} else {
			m.WriteBits(uint32(delta-1)<<1, small)
		}
		return
	}
	m.WriteBits(0, 1)
	m.WriteBits(to, full)
}

func readDeltaCoord(m *msg.Message, from uint32, small, full int) (uint32, error) {
	isSmall, err := m.ReadBits(1)
	if err != nil {
		return 0, err
	}
	if isSmall == 0 {
		return m.ReadBits(full)
	}

	v, err := m.ReadBits(small)
	if err != nil {
		return 0, err
	}
	delta := int32(v>>1) + 1
	if v&1 != 0 {
		delta = -delta
	}
	return uint32(int32(from) + delta), nil
}

// A Table is an ordered delta field list
type Table[T any] []Field[T]

// LastChanged returns one past the index of the last changed field,
// 0 if nothing changed
func (t Table[T]) LastChanged(from, to *T) int {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Changed(from, to) {
			return i + 1
		}
	}
	return 0
}

// SaveDelta writes the field count followed by a change flag and
// value for every field up to the last changed one
func (t Table[T]) SaveDelta(m *msg.Message, from, to *T) {
	lc := t.LastChanged(from, to)
	m.WriteBits(uint32(lc), 8)
	t.saveFields(m, from, to, lc)
}

func (t Table[T]) saveFields(m *msg.Message, from, to *T, lc int) {
	for i := 0; i < lc; i++ {
		fd := &t[i]
		if !fd.Changed(from, to) {
			m.WriteBits(0, 1)
			continue
		}
		m.WriteBits(1, 1)
		fd.write(m, from, to)
	}
}

// LoadDelta is the inverse of SaveDelta. Fields past the count are copied from from.
func (t Table[T]) LoadDelta(m *msg.Message, from, to *T) error {
	lc, err := m.ReadBits(8)
	if err != nil {
		return err
	}
	if int(lc) > len(t) {
		return fmt.Errorf("%w: %d > %d", ErrFieldCount, lc, len(t))
	}
	return t.loadFields(m, from, to, int(lc))
}

func (t Table[T]) loadFields(m *msg.Message, from, to *T, lc int) error {
	for i := 0; i < lc; i++ {
		fd := &t[i]
		changed, err := m.ReadBits(1)
		if err != nil {
			return err
		}
		if changed == 0 {
			fd.Copy(to, from)
			continue
		}
		if err := fd.read(m, from, to); err != nil {
			return fmt.Errorf("%s: %w", fd.Name, err)
		}
	}
	for i := lc; i < len(t); i++ {
		t[i].Copy(to, from)
	}
	return nil
}

// An ArrayField is a fixed size array sent as a change mask plus one
// value per set bit
type ArrayField[T any] struct {
	Name string
	Bits int
	Get  func(*T) []int32
}

func (a *ArrayField[T]) mask(from, to *T) uint32 {
	f, t := a.Get(from), a.Get(to)
	var mask uint32
	for i := range t {
		if f[i] != t[i] {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Arrays is the trailing array section of a delta record
type Arrays[T any] []ArrayField[T]

// Save writes one presence bit for the section, then for every array a
// presence bit, its mask and the changed values
func (as Arrays[T]) Save(m *msg.Message, from, to *T) {
	masks := make([]uint32, len(as))
	dirty := false
	for i := range as {
		masks[i] = as[i].mask(from, to)
		dirty = dirty || masks[i] != 0
	}
	if !dirty {
		m.WriteBits(0, 1)
		return
	}
	m.WriteBits(1, 1)

	for i := range as {
		a := &as[i]
		if masks[i] == 0 {
			m.WriteBits(0, 1)
			continue
		}
		m.WriteBits(1, 1)
		vals := a.Get(to)
		m.WriteBits(masks[i], len(vals))
		for j, v := range vals {
			if masks[i]&(1<<uint(j)) != 0 {
				m.WriteBits(uint32(v), absBits(a.Bits))
			}
		}
	}
}

// Load is the inverse of Save. The arrays of to must already hold the
// values of from.
func (as Arrays[T]) Load(m *msg.Message, to *T) error {
	present, err := m.ReadBits(1)
	if err != nil || present == 0 {
		return err
	}

	for i := range as {
		a := &as[i]
		changed, err := m.ReadBits(1)
		if err != nil {
			return err
		}
		if changed == 0 {
			continue
		}

		vals := a.Get(to)
		mask, err := m.ReadBits(len(vals))
		if err != nil {
			return err
		}
		for j := range vals {
			if mask&(1<<uint(j)) == 0 {
				continue
			}
			v, err := m.ReadBits(absBits(a.Bits))
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", a.Name, j, err)
			}
			if a.Bits < 0 {
				vals[j] = msg.SignExtend(v, -a.Bits)
			} else {
				vals[j] = int32(v)
			}
		}
	}
	return nil
}

func absBits(b int) int {
	if b < 0 {
		return -b
	}
	return b
}
