/*
Package netchan implements the sequenced datagram channel below the
message layer: sequence numbers, qport, fragmentation and reassembly.
Packet headers go through the byte aligned msg.OOB codec so a packet
can be classified before any compression state is touched, payload
compression belongs to the caller.
*/
package netchan

import (
	"errors"
	"fmt"

	"github.com/HimbeerserverDE/mohnet/msg"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const (
	FragmentBit = 1 << 31

	// FragmentSize is the payload size of every fragment but the last
	FragmentSize = 1300

	// MaxMsgLen bounds reassembled messages
	MaxMsgLen = 49152

	// ConnectionlessSeq marks out of band packets
	ConnectionlessSeq = 0xffffffff

	headerLen         = 4
	qportLen          = 2
	fragmentHeaderLen = 4 + 2
)

var (
	ErrStale           = errors.New("netchan: stale or duplicate packet")
	ErrFragmentOrder   = errors.New("netchan: out of order fragment")
	ErrIllegalFragment = errors.New("netchan: illegal fragment length")
	ErrTooLong         = errors.New("netchan: message too long")
	ErrShort           = errors.New("netchan: short packet")
	ErrConnectionless  = errors.New("netchan: connectionless packet")
)

// Side decides who writes the qport. Only client packets carry it.
type Side uint8

const (
	ClientSide Side = iota
	ServerSide
)

// A Packet is one accepted logical message
type Packet struct {
	Sequence uint32
	Qport    uint16
	Payload  []byte

	// Fragmented is set if Payload was reassembled
	Fragmented bool
}

// Bytes returns the message with a synthetic unfragmented sequence header
func (p *Packet) Bytes() []byte {
	m := msg.NewWriter(headerLen, msg.OOB{})
	m.WriteBits(p.Sequence, 32)
	return append(m.Bytes(), p.Payload...)
}

// A Chan is one direction pair of a connection
type Chan struct {
	side  Side
	qport uint16

	outgoing uint32
	incoming uint32
	dropped  uint32

	fragmentSequence uint32
	fragmentBuffer   []byte

	log zerolog.Logger
}

// New returns a channel whose first outgoing sequence is 1
func New(side Side, qport uint16, log zerolog.Logger) *Chan {
	return &Chan{
		side:     side,
		qport:    qport,
		outgoing: 1,
		log:      log.With().Str("ctx", "netchan").Logger(),
	}
}

func (c *Chan) Qport() uint16 { return c.qport }

// OutgoingSequence returns the sequence the next message will use
func (c *Chan) OutgoingSequence() uint32 { return c.outgoing }

// IncomingSequence returns the last accepted sequence
func (c *Chan) IncomingSequence() uint32 { return c.incoming }

// Dropped returns how many sequences the last accepted packet skipped
func (c *Chan) Dropped() uint32 { return c.dropped }

// Reset forgets any partial fragment
func (c *Chan) Reset() {
	c.fragmentSequence = 0
	c.fragmentBuffer = c.fragmentBuffer[:0]
}

func (c *Chan) header(seq uint32) *msg.Message {
	m := msg.NewWriter(headerLen+qportLen+fragmentHeaderLen, msg.OOB{})
	m.WriteBits(seq, 32)
	if c.side == ClientSide {
		m.WriteBits(uint32(c.qport), 16)
	}
	return m
}

// Transmit returns the datagrams carrying data. Messages of FragmentSize
// bytes or more are split. Every fragment of a message carries the same
// sequence, a final fragment shorter than FragmentSize ends the message,
// so an exact multiple is followed by an empty fragment.
func (c *Chan) Transmit(data []byte) ([][]byte, error) {
	if len(data) > MaxMsgLen {
		return nil, fmt.Errorf("%w: %s", ErrTooLong, humanize.Bytes(uint64(len(data))))
	}

	seq := c.outgoing
	c.outgoing++

	if len(data) < FragmentSize {
		return [][]byte{append(c.header(seq).Bytes(), data...)}, nil
	}

	var out [][]byte
	for start := 0; ; {
		n := FragmentSize
		if start+n > len(data) {
			n = len(data) - start
		}

		h := c.header(seq | FragmentBit)
		h.WriteBits(uint32(start), 32)
		h.WriteBits(uint32(n), 16)
		out = append(out, append(h.Bytes(), data[start:start+n]...))

		start += n
		if start == len(data) && n != FragmentSize {
			break
		}
	}

	c.log.Trace().Str("event", "fragment").Uint32("seq", seq).
		Int("fragments", len(out)).Str("size", humanize.Bytes(uint64(len(data)))).Msg("")
	return out, nil
}

// IsConnectionless reports whether b starts with the out of band marker
func IsConnectionless(b []byte) bool {
	seq, err := msg.NewReader(b, msg.OOB{}).ReadBits(32)
	return err == nil && seq == ConnectionlessSeq
}

// Process validates a received datagram. It returns nil without an
// error while a fragmented message is incomplete. A rejected packet
// leaves the channel state untouched, except that ErrFragmentOrder
// discards the partial message.
func (c *Chan) Process(b []byte) (*Packet, error) {
	m := msg.NewReader(b, msg.OOB{})
	seq, err := m.ReadBits(32)
	if err != nil {
		return nil, ErrShort
	}
	if seq == ConnectionlessSeq {
		return nil, ErrConnectionless
	}

	fragmented := seq&FragmentBit != 0
	seq &^= FragmentBit

	var qport uint16
	if c.side == ServerSide {
		v, err := m.ReadBits(16)
		if err != nil {
			return nil, ErrShort
		}
		qport = uint16(v)
	}

	var start uint32
	var length int
	if fragmented {
		if start, err = m.ReadBits(32); err != nil {
			return nil, ErrShort
		}
		v, err := m.ReadBits(16)
		if err != nil {
			return nil, ErrShort
		}
		length = int(v)
	}
	b = b[m.ReadCount():]

	if seq <= c.incoming {
		c.log.Debug().Str("event", "stale").Uint32("seq", seq).Uint32("incoming", c.incoming).Msg("")
		return nil, fmt.Errorf("%w: %d <= %d", ErrStale, seq, c.incoming)
	}

	if !fragmented {
		c.accept(seq)
		return &Packet{Sequence: seq, Qport: qport, Payload: b}, nil
	}

	if length > FragmentSize || length > len(b) {
		return nil, fmt.Errorf("%w: %d", ErrIllegalFragment, length)
	}

	if seq != c.fragmentSequence {
		c.fragmentSequence = seq
		c.fragmentBuffer = c.fragmentBuffer[:0]
	}

	have := len(c.fragmentBuffer)
	if int(start) != have {
		c.log.Debug().Str("event", "fragment order").Uint32("seq", seq).
			Uint32("start", start).Int("have", have).Msg("")
		c.fragmentBuffer = c.fragmentBuffer[:0]
		return nil, fmt.Errorf("%w: start %d, have %d", ErrFragmentOrder, start, have)
	}

	if have+length > MaxMsgLen {
		c.fragmentBuffer = c.fragmentBuffer[:0]
		return nil, fmt.Errorf("%w: %d", ErrTooLong, have+length)
	}
	c.fragmentBuffer = append(c.fragmentBuffer, b[:length]...)

	if length == FragmentSize {
		return nil, nil
	}

	payload := make([]byte, len(c.fragmentBuffer))
	copy(payload, c.fragmentBuffer)
	c.fragmentBuffer = c.fragmentBuffer[:0]

	c.accept(seq)
	return &Packet{Sequence: seq, Qport: qport, Payload: payload, Fragmented: true}, nil
}

func (c *Chan) accept(seq uint32) {
	c.dropped = seq - (c.incoming + 1)
	if c.dropped > 0 {
		c.log.Debug().Str("event", "dropped").Uint32("count", c.dropped).Uint32("seq", seq).Msg("")
	}
	c.incoming = seq
}
