/*
Package msg implements the bit oriented message buffer of the protocol.
A Message is a cursor over a byte slice. The codec decides how logical
field widths become wire bits: OOB is plain little-endian bytes, Bits
sends partial bytes raw and whole bytes through an adaptive Huffman tree.
*/
package msg

import (
	"errors"
	"math"

	"github.com/HimbeerserverDE/mohnet/huffman"
)

const (
	// MaxMsgLen is the largest logical message, fragmented or not
	MaxMsgLen = 49152

	MaxStringChars    = 1024
	MaxBigStringChars = 8192
)

var (
	ErrOverflow = errors.New("msg: overflow")
	ErrBadBits  = errors.New("msg: oob codec only supports 8, 16 and 32 bits")
	ErrNoTree   = errors.New("msg: bit codec without a huffman tree")
)

// A Codec translates logical field writes and reads into wire bits
type Codec interface {
	WriteBits(m *Message, value uint32, bits int)
	ReadBits(m *Message, bits int) (uint32, error)
}

// A Message is a bit cursor over a byte buffer
type Message struct {
	data  []byte
	bit   int
	limit int
	codec Codec
	err   error
}

// NewReader returns a Message that decodes data with c
func NewReader(data []byte, c Codec) *Message {
	return &Message{data: data, limit: len(data), codec: c}
}

// NewWriter returns an empty Message that encodes at most limit bytes with c
func NewWriter(limit int, c Codec) *Message {
	return &Message{data: make([]byte, 0, 64), limit: limit, codec: c}
}

// SetCodec switches the codec used by subsequent reads and writes
func (m *Message) SetCodec(c Codec) { m.codec = c }

// Codec returns the active codec
func (m *Message) Codec() Codec { return m.codec }

// Err returns the first write error, usually ErrOverflow
func (m *Message) Err() error { return m.err }

// Bytes returns the bytes written so far
func (m *Message) Bytes() []byte { return m.data[:(m.bit+7)>>3] }

// Data returns the whole underlying buffer
func (m *Message) Data() []byte { return m.data }

// Bit returns the bit cursor
func (m *Message) Bit() int { return m.bit }

// ReadCount returns the number of bytes touched by the cursor
func (m *Message) ReadCount() int { return (m.bit + 7) >> 3 }

// RemainingBits returns how many bits are left to read
func (m *Message) RemainingBits() int { return len(m.data)*8 - m.bit }

// Align moves the cursor to the next byte boundary
func (m *Message) Align() {
	m.bit = (m.bit + 7) &^ 7
}

// WriteBit appends a single raw bit. It implements huffman.BitWriter.
func (m *Message) WriteBit(bit uint32) {
	if m.err != nil {
		return
	}
	if m.bit&7 == 0 {
		if m.bit>>3 >= m.limit {
			m.err = ErrOverflow
			return
		}
		m.data = append(m.data[:m.bit>>3], 0)
	}
	m.data[m.bit>>3] |= byte(bit&1) << uint(m.bit&7)
	m.bit++
}

// ReadBit consumes a single raw bit. It implements huffman.BitReader.
func (m *Message) ReadBit() (uint32, error) {
	if m.bit>>3 >= len(m.data) {
		return 0, ErrOverflow
	}
	bit := uint32(m.data[m.bit>>3]>>uint(m.bit&7)) & 1
	m.bit++
	return bit, nil
}

// WriteBits writes the low bits of value
func (m *Message) WriteBits(value uint32, bits int) {
	m.codec.WriteBits(m, value, bits)
}

// ReadBits reads an unsigned value of the given width
func (m *Message) ReadBits(bits int) (uint32, error) {
	return m.codec.ReadBits(m, bits)
}

// ReadSignedBits reads a two's complement value of the given width
func (m *Message) ReadSignedBits(bits int) (int32, error) {
	v, err := m.ReadBits(bits)
	if err != nil {
		return 0, err
	}
	return SignExtend(v, bits), nil
}

// SignExtend interprets the low bits of v as a signed number
func SignExtend(v uint32, bits int) int32 {
	if bits > 0 && bits < 32 && v&(1<<uint(bits-1)) != 0 {
		v |= ^uint32(0) << uint(bits)
	}
	return int32(v)
}

func (m *Message) WriteBool(b bool) {
	if b {
		m.WriteBits(1, 1)
	} else {
		m.WriteBits(0, 1)
	}
}

func (m *Message) ReadBool() (bool, error) {
	v, err := m.ReadBits(1)
	return v != 0, err
}

// WriteByte implements io.ByteWriter
func (m *Message) WriteByte(c byte) error {
	m.WriteBits(uint32(c), 8)
	return m.err
}

// ReadByte implements io.ByteReader
func (m *Message) ReadByte() (byte, error) {
	v, err := m.ReadBits(8)
	return byte(v), err
}

func (m *Message) WriteShort(v int16) { m.WriteBits(uint32(uint16(v)), 16) }

func (m *Message) ReadShort() (int16, error) {
	v, err := m.ReadBits(16)
	return int16(uint16(v)), err
}

func (m *Message) WriteLong(v int32) { m.WriteBits(uint32(v), 32) }

func (m *Message) ReadLong() (int32, error) {
	v, err := m.ReadBits(32)
	return int32(v), err
}

func (m *Message) WriteFloat(f float32) { m.WriteBits(math.Float32bits(f), 32) }

func (m *Message) ReadFloat() (float32, error) {
	v, err := m.ReadBits(32)
	return math.Float32frombits(v), err
}

// WriteData writes raw bytes, each one through the codec
func (m *Message) WriteData(b []byte) {
	for _, c := range b {
		m.WriteBits(uint32(c), 8)
	}
}

// ReadData reads n bytes through the codec
func (m *Message) ReadData(n int) ([]byte, error) {
	if n < 0 || n > MaxMsgLen {
		return nil, ErrOverflow
	}
	b := make([]byte, n)
	for i := range b {
		c, err := m.ReadByte()
		if err != nil {
			return nil, err
		}
		b[i] = c
	}
	return b, nil
}

func (m *Message) writeString(s string, max int) {
	if len(s) >= max {
		s = s[:max-1]
	}
	m.WriteData([]byte(s))
	m.WriteBits(0, 8)
}

func (m *Message) readString(max int) (string, error) {
	b := make([]byte, 0, 32)
	for {
		c, err := m.ReadByte()
		if err != nil {
			return "", err
		}
		if c == 0 {
			break
		}
		if len(b) < max-1 {
			b = append(b, c)
		}
	}
	return string(b), nil
}

// WriteString writes a NUL terminated string of at most MaxStringChars-1 bytes
func (m *Message) WriteString(s string) { m.writeString(s, MaxStringChars) }

// ReadString reads a NUL terminated string, dropping bytes past MaxStringChars-1
func (m *Message) ReadString() (string, error) { return m.readString(MaxStringChars) }

func (m *Message) WriteBigString(s string) { m.writeString(s, MaxBigStringChars) }

func (m *Message) ReadBigString() (string, error) { return m.readString(MaxBigStringChars) }

// OOB is the byte aligned pass-through codec
type OOB struct{}

func (OOB) WriteBits(m *Message, value uint32, bits int) {
	if m.err != nil {
		return
	}
	if bits != 8 && bits != 16 && bits != 32 {
		m.err = ErrBadBits
		return
	}
	m.Align()
	n := bits >> 3
	if m.bit>>3+n > m.limit {
		m.err = ErrOverflow
		return
	}
	m.data = m.data[:m.bit>>3]
	for i := 0; i < n; i++ {
		m.data = append(m.data, byte(value>>uint(8*i)))
	}
	m.bit += bits
}

func (OOB) ReadBits(m *Message, bits int) (uint32, error) {
	if bits != 8 && bits != 16 && bits != 32 {
		return 0, ErrBadBits
	}
	m.bit = (m.bit + 7) &^ 7
	n := bits >> 3
	pos := m.bit >> 3
	if pos+n > len(m.data) {
		return 0, ErrOverflow
	}
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(m.data[pos+i]) << uint(8*i)
	}
	m.bit += bits
	return v, nil
}

// Bits is the compressed codec. Every whole byte of a field advances Tree.
type Bits struct {
	Tree *huffman.Tree
}

func (c Bits) WriteBits(m *Message, value uint32, bits int) {
	if m.err != nil {
		return
	}
	if c.Tree == nil {
		m.err = ErrNoTree
		return
	}
	if bits <= 0 || bits > 32 {
		m.err = ErrBadBits
		return
	}

	if n := bits & 7; n != 0 {
		for i := 0; i < n; i++ {
			m.WriteBit(value & 1)
			value >>= 1
		}
		bits -= n
	}

	for i := 0; i < bits; i += 8 {
		c.Tree.Encode(m, byte(value))
		value >>= 8
	}
}

func (c Bits) ReadBits(m *Message, bits int) (uint32, error) {
	if c.Tree == nil {
		return 0, ErrNoTree
	}
	if bits <= 0 || bits > 32 {
		return 0, ErrBadBits
	}

	var value uint32
	nbits := 0
	if n := bits & 7; n != 0 {
		for i := 0; i < n; i++ {
			b, err := m.ReadBit()
			if err != nil {
				return 0, err
			}
			value |= b << uint(i)
		}
		nbits = n
		bits -= n
	}

	for i := 0; i < bits; i += 8 {
		b, err := c.Tree.Decode(m)
		if err != nil {
			return 0, err
		}
		value |= uint32(b) << uint(i+nbits)
	}

	return value, nil
}
