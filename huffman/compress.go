package huffman

import (
	"errors"
	"io"
)

var ErrTooLong = errors.New("huffman: decompressed length exceeds limit")

// Buffer is a little-endian bit buffer, bit i lives in byte i/8
// at position i%8
type Buffer struct {
	data []byte
	bit  int
}

// NewBuffer returns a Buffer reading from data
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the written bytes, the last one possibly partial
func (b *Buffer) Bytes() []byte { return b.data[:(b.bit+7)>>3] }

// Bits returns the bit cursor
func (b *Buffer) Bits() int { return b.bit }

// WriteBit implements BitWriter
func (b *Buffer) WriteBit(bit uint32) {
	if b.bit&7 == 0 {
		b.data = append(b.data[:b.bit>>3], 0)
	}
	b.data[b.bit>>3] |= byte(bit&1) << uint(b.bit&7)
	b.bit++
}

// ReadBit implements BitReader
func (b *Buffer) ReadBit() (uint32, error) {
	if b.bit>>3 >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	bit := uint32(b.data[b.bit>>3]>>uint(b.bit&7)) & 1
	b.bit++
	return bit, nil
}

// Compress codes data with a fresh tree. The result starts with the
// uncompressed length as a big-endian 16 bit integer.
func Compress(data []byte) []byte {
	t := New()
	out := &Buffer{data: []byte{byte(len(data) >> 8), byte(len(data))}, bit: 16}
	for _, b := range data {
		t.Encode(out, b)
	}
	return out.Bytes()
}

// Decompress reverses Compress. max bounds the declared length.
func Decompress(data []byte, max int) ([]byte, error) {
	if len(data) < 2 {
		return nil, io.ErrUnexpectedEOF
	}

	n := int(data[0])<<8 | int(data[1])
	if n > max {
		return nil, ErrTooLong
	}

	t := New()
	in := &Buffer{data: data, bit: 16}
	out := make([]byte, n)
	for i := range out {
		b, err := t.Decode(in)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}

	return out, nil
}
